// Package registry owns the set of virtual camera devices.
//
// Each device is backed by one supervisor. Operations on the same device
// are serialized by a per-device lock, so an update never interleaves with
// a removal, while distinct devices proceed independently. Desired
// configurations are persisted so that Restore can bring every device back
// after a host restart.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/reconcile"
	"github.com/termcam/host/internal/storage"
	"github.com/termcam/host/internal/supervisor"
)

const (
	defaultEventHistory = 200
	eventLogBuffer      = 256
)

// Frames is the frame publisher shared by every device.
// *frame.Publisher satisfies it.
type Frames interface {
	supervisor.Publisher
	Current(deviceID string) (*frame.Handle, error)
}

// Options configures a Registry.
type Options struct {
	Provisioner supervisor.Provisioner
	Allocator   supervisor.Allocator
	Launcher    supervisor.Launcher
	Frames      Frames

	// Store is optional. Without it devices are not persisted.
	Store Store
	// EventLog is optional.
	EventLog     EventLog
	EventHistory int

	Policy supervisor.Policy
	Logger zerolog.Logger

	// OnActiveChange is called with the number of running devices
	// whenever it changes. It runs on a registry goroutine.
	OnActiveChange func(running int)
}

// DeviceStatus is the snapshot returned by Get and List.
type DeviceStatus struct {
	supervisor.Status
	CreatedAt   time.Time     `json:"created_at"`
	FrameSource *frame.Handle `json:"frame_source,omitempty"`
}

type entry struct {
	// op serializes registry operations on the device.
	op        sync.Mutex
	sup       *supervisor.Supervisor
	createdAt time.Time
	removed   bool
}

// Registry tracks devices by id.
type Registry struct {
	opts       Options
	log        zerolog.Logger
	reconciler *reconcile.Reconciler

	mu      sync.RWMutex
	devices map[string]*entry
	closed  bool

	eventMu   sync.Mutex
	subs      map[int]chan supervisor.Event
	nextSub   int
	running   map[string]bool
	logCh     chan supervisor.Event
	logClosed bool

	activeCh chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.EventHistory <= 0 {
		opts.EventHistory = defaultEventHistory
	}

	r := &Registry{
		opts:       opts,
		log:        opts.Logger.With().Str("component", "registry").Logger(),
		reconciler: reconcile.New(opts.Logger.With().Str("component", "reconcile").Logger()),
		devices:    make(map[string]*entry),
		subs:       make(map[int]chan supervisor.Event),
		running:    make(map[string]bool),
		activeCh:   make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}

	if opts.EventLog != nil {
		r.logCh = make(chan supervisor.Event, eventLogBuffer)
		r.wg.Add(1)
		go r.writeEvents()
	}
	if opts.OnActiveChange != nil {
		r.wg.Add(1)
		go r.notifyActive()
	}
	return r
}

// Create registers a device and starts it. It returns the outcome of the
// first start attempt; a device whose first attempt failed stays
// registered, either Failed or restarting.
func (r *Registry) Create(ctx context.Context, id string, cfg device.Config) error {
	if err := device.ValidateID(id); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e, err := r.register(id, time.Now())
	if err != nil {
		return err
	}
	defer e.op.Unlock()

	if r.opts.Store != nil {
		if err := r.opts.Store.SaveDeviceConfig(id, cfg); err != nil {
			r.forget(ctx, id, e)
			return errors.Wrap(errors.CodeStorageSaveFailed, fmt.Sprintf("persisting device %s failed", id), err)
		}
	}

	r.log.Info().Str("device", id).Msg("device created")
	return e.sup.Start(ctx, cfg)
}

// register adds a new entry for id. The entry is returned locked so no
// other operation can reach it before its first start is queued.
func (r *Registry) register(id string, createdAt time.Time) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New(errors.CodeInternal, "device registry is shut down")
	}
	if _, ok := r.devices[id]; ok {
		return nil, errors.DuplicateDevice(id)
	}

	e := &entry{createdAt: createdAt}
	e.op.Lock()
	e.sup = supervisor.New(id, r.deps(), r.opts.Policy, r.opts.Logger.With().Str("component", "supervisor").Logger())
	r.devices[id] = e
	return e, nil
}

// forget rolls back a registration. The caller holds e.op.
func (r *Registry) forget(ctx context.Context, id string, e *entry) {
	e.removed = true
	r.mu.Lock()
	if r.devices[id] == e {
		delete(r.devices, id)
	}
	r.mu.Unlock()
	if err := e.sup.Close(ctx); err != nil {
		r.log.Warn().Err(err).Str("device", id).Msg("closing supervisor failed")
	}
}

func (r *Registry) deps() supervisor.Deps {
	deps := supervisor.Deps{
		Provisioner: r.opts.Provisioner,
		Allocator:   r.opts.Allocator,
		Launcher:    r.opts.Launcher,
		Frames:      r.opts.Frames,
		Observer:    r.observe,
	}
	if r.opts.Store != nil {
		deps.Records = processRecorder{store: r.opts.Store, now: time.Now}
	}
	return deps
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[id]
	if !ok {
		return nil, errors.UnknownDevice(id)
	}
	return e, nil
}

// Update persists cfg as the new desired configuration of id and
// reconciles the device towards it.
func (r *Registry) Update(ctx context.Context, id string, cfg device.Config) (reconcile.Decision, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}

	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return "", errors.UnknownDevice(id)
	}

	if r.opts.Store != nil {
		if err := r.opts.Store.SaveDeviceConfig(id, cfg); err != nil {
			return "", errors.Wrap(errors.CodeStorageSaveFailed, fmt.Sprintf("persisting device %s failed", id), err)
		}
	}
	return r.reconciler.Reconcile(ctx, id, e.sup, cfg)
}

// Remove stops a device, releases its display and forgets it. Removing an
// unknown device succeeds. When ctx ends before the stop completes the
// device is still forgotten and the error is returned; teardown finishes
// in the background.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// Abort before taking the lock: a Create or Update holding it may be
	// waiting on a start attempt that only the abort ends.
	e.sup.Abort()

	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return nil
	}
	closeErr := e.sup.Close(ctx)
	if closeErr != nil {
		// The supervisor is aborted and cannot serve the device again, so
		// it is forgotten anyway and finishes its teardown on its own.
		r.log.Warn().Err(closeErr).Str("device", id).Msg("stop did not finish in time, tearing down in background")
		go func(sup *supervisor.Supervisor) {
			if err := sup.Close(context.Background()); err != nil {
				r.log.Error().Err(err).Str("device", id).Msg("background teardown failed")
			}
		}(e.sup)
	}
	e.removed = true

	r.mu.Lock()
	if r.devices[id] == e {
		delete(r.devices, id)
	}
	r.mu.Unlock()

	if r.opts.Store != nil {
		if err := r.opts.Store.DeleteDeviceConfig(id); err != nil {
			return errors.Wrap(errors.CodeStorageSaveFailed, fmt.Sprintf("deleting device %s failed", id), err)
		}
	}
	if r.opts.EventLog != nil {
		if err := r.opts.EventLog.DeleteDeviceEvents(id); err != nil {
			r.log.Warn().Err(err).Str("device", id).Msg("deleting event history failed")
		}
	}

	if closeErr != nil {
		return fmt.Errorf("stop %s: %w", id, closeErr)
	}
	r.log.Info().Str("device", id).Msg("device removed")
	return nil
}

// Get returns the status of one device. FrameSource is set while the
// device is running.
func (r *Registry) Get(id string) (DeviceStatus, error) {
	e, err := r.lookup(id)
	if err != nil {
		return DeviceStatus{}, err
	}
	return r.status(e), nil
}

func (r *Registry) status(e *entry) DeviceStatus {
	st := DeviceStatus{Status: e.sup.Status(), CreatedAt: e.createdAt}
	if st.State == device.StateRunning {
		if h, err := r.opts.Frames.Current(st.DeviceID); err == nil {
			st.FrameSource = h
		}
	}
	return st
}

// List returns the status of every device, sorted by id.
func (r *Registry) List() []DeviceStatus {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, r.status(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// FrameSource returns the live frame handle of a running device.
func (r *Registry) FrameSource(id string) (*frame.Handle, error) {
	if _, err := r.lookup(id); err != nil {
		return nil, err
	}
	return r.opts.Frames.Current(id)
}

// Events returns up to limit recent transitions of a device, newest first.
func (r *Registry) Events(id string, limit int) ([]*storage.DeviceEvent, error) {
	if _, err := r.lookup(id); err != nil {
		return nil, err
	}
	if r.opts.EventLog == nil {
		return nil, nil
	}
	return r.opts.EventLog.ListDeviceEvents(id, limit)
}

// Running returns the number of running devices.
func (r *Registry) Running() int {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	return len(r.running)
}

// Restore recreates every persisted device and starts it. Devices are
// started concurrently; a device that fails to start is logged and left
// registered. It returns the number of devices restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.opts.Store == nil {
		return 0, nil
	}
	records, err := r.opts.Store.ListDeviceConfigs()
	if err != nil {
		return 0, errors.Wrap(errors.CodeStorageQueryFailed, "loading devices failed", err)
	}

	var wg sync.WaitGroup
	restored := 0
	for _, rec := range records {
		if err := rec.Config.Validate(); err != nil {
			r.log.Warn().Err(err).Str("device", rec.ID).Msg("skipping invalid persisted device")
			continue
		}
		e, err := r.register(rec.ID, rec.CreatedAt)
		if err != nil {
			r.log.Warn().Err(err).Str("device", rec.ID).Msg("skipping persisted device")
			continue
		}
		restored++

		wg.Add(1)
		go func(id string, cfg device.Config, e *entry) {
			defer wg.Done()
			defer e.op.Unlock()
			if err := e.sup.Start(ctx, cfg); err != nil {
				r.log.Warn().Err(err).Str("device", id).Msg("restored device did not start")
			}
		}(rec.ID, rec.Config, e)
	}
	wg.Wait()

	r.log.Info().Int("devices", restored).Msg("devices restored")
	return restored, nil
}

// Shutdown stops every device, keeping their persisted configurations,
// and ends the registry's goroutines. The registry rejects new devices
// afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make(map[string]*entry, len(r.devices))
	for id, e := range r.devices {
		entries[id] = e
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.sup.Abort()
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for id, e := range entries {
		wg.Add(1)
		go func(id string, e *entry) {
			defer wg.Done()
			e.op.Lock()
			defer e.op.Unlock()
			if err := e.sup.Close(ctx); err != nil {
				r.log.Warn().Err(err).Str("device", id).Msg("device did not stop")
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("stop %s: %w", id, err)
				}
				errMu.Unlock()
			}
		}(id, e)
	}
	wg.Wait()

	r.eventMu.Lock()
	for key, ch := range r.subs {
		close(ch)
		delete(r.subs, key)
	}
	if r.logCh != nil && !r.logClosed {
		r.logClosed = true
		close(r.logCh)
	}
	r.eventMu.Unlock()

	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
	r.wg.Wait()

	return firstErr
}

// Subscribe returns a channel of lifecycle events. Events are dropped for
// a subscriber whose buffer is full. The returned func unsubscribes.
func (r *Registry) Subscribe(buffer int) (<-chan supervisor.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan supervisor.Event, buffer)

	r.eventMu.Lock()
	key := r.nextSub
	r.nextSub++
	r.subs[key] = ch
	r.eventMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.eventMu.Lock()
			if _, ok := r.subs[key]; ok {
				delete(r.subs, key)
				close(ch)
			}
			r.eventMu.Unlock()
		})
	}
}

// observe runs on supervisor goroutines and must not block.
func (r *Registry) observe(ev supervisor.Event) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()

	before := len(r.running)
	if ev.State == device.StateRunning {
		r.running[ev.DeviceID] = true
	} else {
		delete(r.running, ev.DeviceID)
	}
	if len(r.running) != before {
		select {
		case r.activeCh <- struct{}{}:
		default:
		}
	}

	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}

	if r.logCh != nil && !r.logClosed {
		select {
		case r.logCh <- ev:
		default:
			r.log.Warn().Str("device", ev.DeviceID).Msg("event log is behind, dropping event")
		}
	}
}

func (r *Registry) writeEvents() {
	defer r.wg.Done()
	for ev := range r.logCh {
		if err := r.opts.EventLog.SaveAndPruneDeviceEvent(eventRecord(ev), r.opts.EventHistory); err != nil {
			r.log.Warn().Err(err).Str("device", ev.DeviceID).Msg("recording event failed")
		}
	}
}

func (r *Registry) notifyActive() {
	defer r.wg.Done()
	last := 0
	for {
		select {
		case <-r.quit:
			if last != 0 {
				r.opts.OnActiveChange(0)
			}
			return
		case <-r.activeCh:
			n := r.Running()
			if n != last {
				last = n
				r.opts.OnActiveChange(n)
			}
		}
	}
}
