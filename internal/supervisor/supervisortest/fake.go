// Package supervisortest provides in-memory fakes for exercising a
// supervisor without spawning processes.
package supervisortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/platform"
	"github.com/termcam/host/internal/supervisor"
)

// Pair is a fake process pair controlled by the test.
type Pair struct {
	spec supervisor.LaunchSpec

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan supervisor.Exit
	exitOnce  sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu         sync.Mutex
	ignoreTerm bool
	terminated bool
	killed     bool
}

// NewPair returns a pair that is neither ready nor exited.
func NewPair(spec supervisor.LaunchSpec) *Pair {
	return &Pair{
		spec:   spec,
		ready:  make(chan struct{}),
		exited: make(chan supervisor.Exit, 1),
		done:   make(chan struct{}),
	}
}

// Spec returns the launch spec the pair was created with.
func (p *Pair) Spec() supervisor.LaunchSpec { return p.spec }

// MarkReady reports both processes ready.
func (p *Pair) MarkReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// Crash reports an unexpected exit of role with code.
func (p *Pair) Crash(role string, code int) {
	p.exitOnce.Do(func() {
		p.exited <- supervisor.Exit{Role: role, Code: code}
	})
}

// IgnoreTerminate makes Terminate a no-op, forcing a kill after the grace
// period.
func (p *Pair) IgnoreTerminate() {
	p.mu.Lock()
	p.ignoreTerm = true
	p.mu.Unlock()
}

// Terminated reports whether Terminate was called.
func (p *Pair) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Killed reports whether Kill was called.
func (p *Pair) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Reaped reports whether the pair is fully gone.
func (p *Pair) Reaped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pair) Processes() []supervisor.ProcessInfo {
	base := 1000 + p.spec.Display*2
	return []supervisor.ProcessInfo{
		{Role: supervisor.RoleDisplay, PID: base},
		{Role: supervisor.RoleTerminal, PID: base + 1},
	}
}

func (p *Pair) Ready() <-chan struct{} { return p.ready }
func (p *Pair) Exited() <-chan supervisor.Exit { return p.exited }
func (p *Pair) Done() <-chan struct{} { return p.done }

func (p *Pair) Terminate() {
	p.mu.Lock()
	p.terminated = true
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

func (p *Pair) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Pair) Source() frame.Source {
	return frame.Source{
		Display:    p.spec.Display,
		Geometry:   p.spec.Config.ScreenGeometry(),
		XAuthority: fmt.Sprintf("/tmp/termcam-test/Xauthority%d", p.spec.Display),
		FFmpeg:     p.spec.Toolchain.FFmpeg,
	}
}

func (p *Pair) Logs() []string {
	return []string{fmt.Sprintf("display :%d up", p.spec.Display)}
}

// Mode selects what a fake launcher does with each launch.
type Mode int

const (
	// Ready pairs become ready immediately.
	Ready Mode = iota
	// Manual pairs wait for the test to call MarkReady or Crash.
	Manual
	// CrashImmediately pairs exit with status 1 before becoming ready.
	CrashImmediately
	// SpawnFail makes Launch itself fail.
	SpawnFail
)

// Launcher is a fake supervisor.Launcher.
type Launcher struct {
	mu    sync.Mutex
	mode  Mode
	pairs []*Pair
	next  chan *Pair
}

// NewLauncher creates a launcher in the given mode.
func NewLauncher(mode Mode) *Launcher {
	return &Launcher{mode: mode, next: make(chan *Pair, 64)}
}

// SetMode changes the behavior of later launches.
func (l *Launcher) SetMode(mode Mode) {
	l.mu.Lock()
	l.mode = mode
	l.mu.Unlock()
}

func (l *Launcher) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Pair, error) {
	l.mu.Lock()
	mode := l.mode
	l.mu.Unlock()

	if mode == SpawnFail {
		l.mu.Lock()
		l.pairs = append(l.pairs, nil)
		l.mu.Unlock()
		return nil, errors.ProcessSpawnFailed(supervisor.RoleTerminal, fmt.Errorf("exec: %q: file does not exist", spec.Config.TerminalProgram))
	}

	p := NewPair(spec)
	switch mode {
	case Ready:
		p.MarkReady()
	case CrashImmediately:
		p.Crash(supervisor.RoleTerminal, 1)
	}

	l.mu.Lock()
	l.pairs = append(l.pairs, p)
	l.mu.Unlock()

	select {
	case l.next <- p:
	default:
	}
	return p, nil
}

// Launches returns the number of Launch calls.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pairs)
}

// Last returns the most recent pair, or nil.
func (l *Launcher) Last() *Pair {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pairs) == 0 {
		return nil
	}
	return l.pairs[len(l.pairs)-1]
}

// Pairs returns every launched pair in order. Failed spawns are nil.
func (l *Launcher) Pairs() []*Pair {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Pair(nil), l.pairs...)
}

// Provisioner is a fake supervisor.Provisioner.
type Provisioner struct {
	mu    sync.Mutex
	err   error
	block bool
	calls int
	tc    platform.Toolchain
}

// NewProvisioner returns a provisioner that always succeeds.
func NewProvisioner() *Provisioner {
	return &Provisioner{tc: platform.Toolchain{
		Class: platform.ClassLinux,
		Xvfb:  "/usr/bin/Xvfb",
		Xterm: "/usr/bin/xterm",
		Xauth: "/usr/bin/xauth",
	}}
}

// Fail makes every later Ensure return err.
func (p *Provisioner) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Block makes Ensure wait until its context is canceled.
func (p *Provisioner) Block() {
	p.mu.Lock()
	p.block = true
	p.mu.Unlock()
}

// Calls returns the number of Ensure calls.
func (p *Provisioner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provisioner) Ensure(ctx context.Context) (platform.Toolchain, error) {
	p.mu.Lock()
	p.calls++
	err, block, tc := p.err, p.block, p.tc
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return platform.Toolchain{}, ctx.Err()
	}
	if err != nil {
		return platform.Toolchain{}, err
	}
	return tc, nil
}

// Records is an in-memory supervisor.ProcessRecorder.
type Records struct {
	mu   sync.Mutex
	live map[string][]supervisor.ProcessInfo
}

// NewRecords creates an empty record set.
func NewRecords() *Records {
	return &Records{live: make(map[string][]supervisor.ProcessInfo)}
}

func (r *Records) RecordProcesses(deviceID string, display int, procs []supervisor.ProcessInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[deviceID] = append([]supervisor.ProcessInfo(nil), procs...)
	return nil
}

func (r *Records) ClearProcesses(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, deviceID)
	return nil
}

// Live returns the recorded processes of a device.
func (r *Records) Live(deviceID string) []supervisor.ProcessInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[deviceID]
}

// Events collects supervisor events.
type Events struct {
	mu     sync.Mutex
	events []supervisor.Event
}

// Observe appends ev. Use it as Deps.Observer.
func (e *Events) Observe(ev supervisor.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

// All returns a copy of the collected events.
func (e *Events) All() []supervisor.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]supervisor.Event(nil), e.events...)
}

// Count returns how many events entered state.
func (e *Events) Count(state device.State) int {
	n := 0
	for _, ev := range e.All() {
		if ev.State == state {
			n++
		}
	}
	return n
}

// States returns the sequence of entered states.
func (e *Events) States() []device.State {
	var out []device.State
	for _, ev := range e.All() {
		out = append(out, ev.State)
	}
	return out
}
