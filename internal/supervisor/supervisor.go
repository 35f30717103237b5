// Package supervisor runs the lifecycle state machine of a single virtual
// camera device.
//
// Each Supervisor owns one goroutine. That goroutine is the only writer of
// the device state, so transitions of one device are totally ordered.
// Start and Stop requests reach it through a bounded command queue; a stop
// additionally cancels the current start attempt so that provisioning or a
// pending restart is abandoned at the next checkpoint.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/platform"
)

// Deps are the collaborators a supervisor drives.
type Deps struct {
	Provisioner Provisioner
	Allocator   Allocator
	Launcher    Launcher
	Frames      Publisher
	// Records is optional.
	Records ProcessRecorder
	// Observer receives every transition. It runs on the supervisor
	// goroutine and must not block.
	Observer func(Event)
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type command struct {
	kind  commandKind
	cfg   device.Config
	reply chan error
}

// Supervisor supervises the display server + terminal pair of one device.
type Supervisor struct {
	id     string
	deps   Deps
	policy Policy
	log    zerolog.Logger

	commands  chan command
	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}

	mu            sync.RWMutex
	state         device.State
	display       int
	desired       device.Config
	effective     *device.Config
	restarts      int
	lastExit      string
	lastErr       error
	logs          []string
	startedAt     time.Time
	pair          Pair
	attemptCtx    context.Context
	cancelAttempt context.CancelFunc
	stopRequests  int
	stopsHandled  int
	aborted       bool

	// Owned by the run goroutine.
	backoff     *backoff.ExponentialBackOff
	toolchain   platform.Toolchain
	initial     bool
	startWaiter chan error
	stopWaiters []chan error
}

// New creates a stopped supervisor for device id and starts its goroutine.
func New(id string, deps Deps, policy Policy, log zerolog.Logger) *Supervisor {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BackoffInitial
	b.MaxInterval = policy.BackoffMax
	b.Multiplier = policy.BackoffMultiplier
	b.RandomizationFactor = 0
	b.Reset()

	s := &Supervisor{
		id:       id,
		deps:     deps,
		policy:   policy,
		log:      log.With().Str("device", id).Logger(),
		commands: make(chan command, policy.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    device.StateStopped,
		display:  -1,
		backoff:  b,
	}
	go s.run()
	return s
}

func (p Policy) withDefaults() Policy {
	if p.ReadyTimeout <= 0 {
		p.ReadyTimeout = 15 * time.Second
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = 5 * time.Second
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = time.Second
	}
	if p.BackoffMax < p.BackoffInitial {
		p.BackoffMax = p.BackoffInitial
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2
	}
	if p.MaxRestarts <= 0 {
		p.MaxRestarts = 5
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 16
	}
	return p
}

// ID returns the device id.
func (s *Supervisor) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Supervisor) State() device.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Desired returns the config of the most recent start request.
func (s *Supervisor) Desired() device.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desired
}

// Effective returns the config the live (or restarting) pair was started
// with. It is nil when the device is stopped or failed.
func (s *Supervisor) Effective() *device.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.effective == nil {
		return nil
	}
	cfg := *s.effective
	return &cfg
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		DeviceID: s.id,
		State:    s.state,
		Desired:  s.desired,
		Restarts: s.restarts,
		LastExit: s.lastExit,
	}
	if s.display >= 0 {
		d := s.display
		st.Display = &d
	}
	if s.effective != nil {
		cfg := *s.effective
		st.Effective = &cfg
	}
	if s.lastErr != nil {
		st.ErrorCode, st.ErrorMessage = errors.ToCodeAndMessage(s.lastErr)
		st.NextAction = errors.GetNextAction(st.ErrorCode)
	}
	if !s.startedAt.IsZero() && s.state == device.StateRunning {
		t := s.startedAt
		st.StartedAt = &t
	}
	if s.pair != nil {
		st.Processes = s.pair.Processes()
		st.Logs = s.pair.Logs()
	} else if len(s.logs) > 0 {
		st.Logs = append([]string(nil), s.logs...)
	}
	return st
}

// Start requests a start with cfg and waits for the outcome of the first
// attempt. A start that fails with a retryable error keeps restarting in
// the background after the error is returned.
func (s *Supervisor) Start(ctx context.Context, cfg device.Config) error {
	reply := make(chan error, 1)
	if err := s.enqueue(ctx, command{kind: cmdStart, cfg: cfg, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels any in-flight start attempt and waits until the device is
// Stopped (or Failed, if it already was).
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopRequests++
	if s.cancelAttempt != nil {
		s.cancelAttempt()
	}
	s.mu.Unlock()

	reply := make(chan error, 1)
	if err := s.enqueue(ctx, command{kind: cmdStop, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels the current start attempt and every later one without
// waiting. It is called right before Close, so a removal does not wait
// for a start that is still provisioning.
func (s *Supervisor) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	if s.cancelAttempt != nil {
		s.cancelAttempt()
	}
}

// Close stops the device and ends the supervisor goroutine.
func (s *Supervisor) Close(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.quitOnce.Do(func() { close(s.quit) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the supervisor goroutine has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-s.done:
		return errors.New(errors.CodeDeviceUnknown, fmt.Sprintf("supervisor for %s is closed", s.id))
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return errors.New(errors.CodeDeviceUnknown, fmt.Sprintf("supervisor for %s is closed", s.id))
	case <-ctx.Done():
		return errors.Wrap(errors.CodeDeviceBusy, fmt.Sprintf("command queue of %s is full", s.id), ctx.Err())
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		switch s.State() {
		case device.StateStopped, device.StateFailed:
			if !s.idle() {
				return
			}
		case device.StateProvisioning, device.StateRestarting:
			s.prepare()
		case device.StateStarting:
			s.launch()
		case device.StateRunning:
			s.watch()
		case device.StateCrashed:
			s.recover()
		case device.StateStopping:
			s.shutdown()
		}
	}
}

// idle waits for a command while no process exists. It returns false
// once the supervisor is closed.
func (s *Supervisor) idle() bool {
	select {
	case <-s.quit:
		return false
	case cmd := <-s.commands:
		switch cmd.kind {
		case cmdStart:
			s.beginStart(cmd)
		case cmdStop:
			s.mu.Lock()
			s.stopsHandled++
			failed := s.state == device.StateFailed
			s.mu.Unlock()
			if failed {
				s.transition(device.StateStopped, 0)
			}
			cmd.reply <- nil
		}
		return true
	}
}

func (s *Supervisor) beginStart(cmd command) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.desired = cmd.cfg
	s.restarts = 0
	s.lastErr = nil
	s.lastExit = ""
	s.logs = nil
	s.attemptCtx = ctx
	s.cancelAttempt = cancel
	// A stop queued behind this start has already been requested.
	if s.aborted || s.stopRequests > s.stopsHandled {
		cancel()
	}
	s.mu.Unlock()

	s.backoff.Reset()
	s.initial = true
	s.startWaiter = cmd.reply
	s.transition(device.StateProvisioning, 0)
}

// handleActive serves a command that arrives while a pair exists or a
// start attempt is in flight. It reports whether the device is now
// Stopping.
func (s *Supervisor) handleActive(cmd command) bool {
	switch cmd.kind {
	case cmdStop:
		s.mu.Lock()
		s.stopsHandled++
		s.mu.Unlock()
		s.stopWaiters = append(s.stopWaiters, cmd.reply)
		s.leave(device.StateStopping, 0)
		return true
	default:
		cmd.reply <- errors.New(errors.CodeDeviceBusy, fmt.Sprintf("device %s is already active", s.id))
		return false
	}
}

func (s *Supervisor) attempt() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attemptCtx
}

// prepare ensures the platform and reserves a display.
func (s *Supervisor) prepare() {
	ctx := s.attempt()
	if ctx.Err() != nil {
		s.transition(device.StateStopping, 0)
		return
	}

	tc, err := s.deps.Provisioner.Ensure(ctx)
	if err != nil {
		s.attemptFailed(ctx, err)
		return
	}
	s.toolchain = tc

	if ctx.Err() != nil {
		s.transition(device.StateStopping, 0)
		return
	}

	display, err := s.deps.Allocator.Allocate(s.id)
	if err != nil {
		s.attemptFailed(ctx, err)
		return
	}
	s.mu.Lock()
	s.display = display
	s.mu.Unlock()

	s.transition(device.StateStarting, 0)
}

// launch spawns the pair and waits for readiness.
func (s *Supervisor) launch() {
	ctx := s.attempt()
	if ctx.Err() != nil {
		s.transition(device.StateStopping, 0)
		return
	}

	s.mu.RLock()
	spec := LaunchSpec{
		DeviceID:  s.id,
		Display:   s.display,
		Config:    s.desired,
		Toolchain: s.toolchain,
	}
	s.mu.RUnlock()

	pair, err := s.deps.Launcher.Launch(ctx, spec)
	if err != nil {
		if errors.GetCode(err) == errors.CodeUnknown {
			err = errors.ProcessSpawnFailed("pair", err)
		}
		s.attemptFailed(ctx, err)
		return
	}

	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()
	s.recordProcesses(spec.Display, pair)

	timer := time.NewTimer(s.policy.ReadyTimeout)
	defer timer.Stop()

	for {
		select {
		case <-pair.Ready():
			s.becomeRunning(pair)
			return
		case exit := <-pair.Exited():
			s.attemptFailed(ctx, exitError(exit))
			return
		case <-timer.C:
			s.log.Warn().Dur("timeout", s.policy.ReadyTimeout).Msg("process pair not ready in time")
			s.attemptFailed(ctx, errors.ProcessReadyTimeout(s.policy.ReadyTimeout))
			return
		case <-ctx.Done():
			s.transition(device.StateStopping, 0)
			return
		case cmd := <-s.commands:
			if s.handleActive(cmd) {
				return
			}
		}
	}
}

func (s *Supervisor) becomeRunning(pair Pair) {
	s.mu.Lock()
	cfg := s.desired
	s.effective = &cfg
	s.startedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	s.mu.RLock()
	display := s.display
	s.mu.RUnlock()
	// The terminal pid is only known once the pair is up.
	s.recordProcesses(display, pair)

	s.deps.Frames.Publish(s.id, pair.Source())
	s.transition(device.StateRunning, 0)

	if s.startWaiter != nil {
		s.startWaiter <- nil
		s.startWaiter = nil
	}
	s.initial = false
}

// watch waits for the running pair to exit or for a stop.
func (s *Supervisor) watch() {
	ctx := s.attempt()
	s.mu.RLock()
	pair := s.pair
	s.mu.RUnlock()

	var stable <-chan time.Time
	if s.policy.StableAfter > 0 {
		t := time.NewTimer(s.policy.StableAfter)
		defer t.Stop()
		stable = t.C
	}

	for {
		select {
		case <-stable:
			stable = nil
			s.mu.Lock()
			reset := s.restarts > 0
			s.restarts = 0
			s.mu.Unlock()
			s.backoff.Reset()
			if reset {
				s.log.Info().Msg("pair is stable, crash counter reset")
			}
		case exit := <-pair.Exited():
			err := exitError(exit)
			s.log.Warn().Str("role", exit.Role).Int("exit_code", exit.Code).Msg("process exited unexpectedly")
			s.deps.Frames.Invalidate(s.id)
			s.teardown()
			s.recordCrash(err)
			s.transition(device.StateCrashed, 0)
			return
		case <-ctx.Done():
			s.leave(device.StateStopping, 0)
			return
		case cmd := <-s.commands:
			if s.handleActive(cmd) {
				return
			}
		}
	}
}

// recover decides between Failed and a delayed restart.
func (s *Supervisor) recover() {
	s.mu.Lock()
	s.restarts++
	restarts := s.restarts
	cause := s.lastErr
	s.mu.Unlock()

	if restarts > s.policy.MaxRestarts {
		s.log.Error().Int("restarts", restarts-1).Msg("restart limit reached")
		s.fail(cause)
		return
	}

	delay := s.backoff.NextBackOff()
	s.transition(device.StateRestarting, delay)

	ctx := s.attempt()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return
		case <-ctx.Done():
			s.transition(device.StateStopping, 0)
			return
		case cmd := <-s.commands:
			if s.handleActive(cmd) {
				return
			}
		}
	}
}

// shutdown terminates the pair gracefully and returns to Stopped.
func (s *Supervisor) shutdown() {
	s.mu.RLock()
	pair := s.pair
	s.mu.RUnlock()

	s.deps.Frames.Invalidate(s.id)

	if pair != nil {
		pair.Terminate()
		timer := time.NewTimer(s.policy.GracePeriod)
		select {
		case <-pair.Done():
		case <-timer.C:
			s.log.Warn().Dur("grace", s.policy.GracePeriod).Msg("pair did not exit after SIGTERM, killing")
			pair.Kill()
			<-pair.Done()
		}
		timer.Stop()
	}
	s.clearPair()
	s.releaseDisplay()
	s.endAttempt()

	s.mu.Lock()
	s.effective = nil
	s.mu.Unlock()

	s.transition(device.StateStopped, 0)

	if s.startWaiter != nil {
		s.startWaiter <- errors.Canceled(s.id, context.Canceled)
		s.startWaiter = nil
	}
	for _, w := range s.stopWaiters {
		w <- nil
	}
	s.stopWaiters = nil
	s.initial = false
}

// attemptFailed routes an error raised while provisioning, allocating,
// spawning or waiting for readiness.
func (s *Supervisor) attemptFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		s.leave(device.StateStopping, 0)
		return
	}

	s.teardown()

	fatal := errors.IsCode(err, errors.CodePlatformUnsupported)
	if fatal || (s.initial && !errors.Retryable(err)) {
		s.log.Error().Err(err).Msg("start attempt failed")
		s.fail(err)
		return
	}

	s.log.Warn().Err(err).Msg("start attempt failed, will restart")
	s.recordCrash(err)
	if s.startWaiter != nil {
		s.startWaiter <- err
		s.startWaiter = nil
	}
	s.initial = false
	s.transition(device.StateCrashed, 0)
}

func (s *Supervisor) recordCrash(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.lastExit = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.teardown()
	s.endAttempt()

	s.mu.Lock()
	if err != nil {
		s.lastErr = err
	}
	s.effective = nil
	s.mu.Unlock()

	s.transition(device.StateFailed, 0)

	if s.startWaiter != nil {
		s.startWaiter <- err
		s.startWaiter = nil
	}
	s.initial = false
}

// leave invalidates the frame handle before moving out of Running.
func (s *Supervisor) leave(next device.State, delay time.Duration) {
	if s.State() == device.StateRunning {
		s.deps.Frames.Invalidate(s.id)
	}
	s.transition(next, delay)
}

// teardown force-kills the pair, waits for it and releases the display.
func (s *Supervisor) teardown() {
	s.mu.RLock()
	pair := s.pair
	s.mu.RUnlock()

	if pair != nil {
		pair.Kill()
		<-pair.Done()
	}
	s.clearPair()
	s.releaseDisplay()
}

func (s *Supervisor) clearPair() {
	s.mu.Lock()
	had := s.pair != nil
	if had {
		s.logs = s.pair.Logs()
	}
	s.pair = nil
	s.mu.Unlock()

	if had && s.deps.Records != nil {
		if err := s.deps.Records.ClearProcesses(s.id); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear process records")
		}
	}
}

func (s *Supervisor) recordProcesses(display int, pair Pair) {
	if s.deps.Records == nil {
		return
	}
	if err := s.deps.Records.RecordProcesses(s.id, display, pair.Processes()); err != nil {
		s.log.Warn().Err(err).Msg("failed to record process ids")
	}
}

func (s *Supervisor) releaseDisplay() {
	s.mu.Lock()
	display := s.display
	s.display = -1
	s.mu.Unlock()

	if display >= 0 {
		s.deps.Allocator.Release(display)
	}
}

func (s *Supervisor) endAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
}

func (s *Supervisor) transition(next device.State, delay time.Duration) {
	s.mu.Lock()
	from := s.state
	s.state = next
	ev := Event{
		DeviceID: s.id,
		State:    next,
		From:     from,
		Restarts: s.restarts,
		Delay:    delay,
		LastExit: s.lastExit,
		At:       time.Now(),
	}
	if s.display >= 0 {
		d := s.display
		ev.Display = &d
	}
	if s.lastErr != nil && (next == device.StateFailed || next == device.StateCrashed || next == device.StateRestarting) {
		ev.ErrorCode, ev.ErrorMessage = errors.ToCodeAndMessage(s.lastErr)
	}
	s.mu.Unlock()

	logEvent := s.log.Info()
	if next == device.StateFailed || next == device.StateCrashed {
		logEvent = s.log.Warn()
	}
	logEvent = logEvent.Str("from", string(from)).Str("to", string(next))
	if delay > 0 {
		logEvent = logEvent.Dur("delay", delay)
	}
	if ev.Display != nil {
		logEvent = logEvent.Int("display", *ev.Display)
	}
	logEvent.Msg("state transition")

	if s.deps.Observer != nil {
		s.deps.Observer(ev)
	}
}

func exitError(exit Exit) error {
	if exit.Err != nil {
		if errors.GetCode(exit.Err) != errors.CodeUnknown {
			return exit.Err
		}
		return errors.ProcessSpawnFailed(exit.Role, exit.Err)
	}
	return errors.ProcessCrashed(exit.Role, exit.Code)
}
