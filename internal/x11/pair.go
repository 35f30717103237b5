package x11

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/pty"
	"github.com/termcam/host/internal/supervisor"
)

type pair struct {
	log         zerolog.Logger
	displayNum  int
	xauth       string
	source      frame.Source
	display     *pty.Process
	terminalCfg pty.Config
	socketReady func(int) bool
	poll        time.Duration
	settle      time.Duration

	ready    chan struct{}
	exited   chan supervisor.Exit
	exitOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	upDone   chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	terminal *pty.Process
	stopped  bool
}

// bringUp waits for the display socket, starts the terminal and declares
// the pair ready once the terminal survived the settle interval.
func (p *pair) bringUp() {
	defer close(p.upDone)

	if !p.waitForSocket() {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	term, err := pty.Start(p.terminalCfg)
	if err != nil {
		p.mu.Unlock()
		p.log.Error().Err(err).Msg("terminal failed to start")
		p.reportExit(supervisor.Exit{Role: supervisor.RoleTerminal, Err: errors.ProcessSpawnFailed(supervisor.RoleTerminal, err)})
		return
	}
	p.terminal = term
	p.mu.Unlock()

	p.log.Info().Int("pid", term.PID()).Msg("terminal started")
	go p.watch(supervisor.RoleTerminal, term)

	timer := time.NewTimer(p.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		close(p.ready)
	case <-term.Done():
	case <-p.display.Done():
	case <-p.stop:
	}
}

func (p *pair) waitForSocket() bool {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		if p.socketReady(p.displayNum) {
			return true
		}
		select {
		case <-ticker.C:
		case <-p.display.Done():
			return false
		case <-p.stop:
			return false
		}
	}
}

func (p *pair) watch(role string, proc *pty.Process) {
	<-proc.Done()
	p.reportExit(supervisor.Exit{Role: role, Code: proc.ExitCode()})
}

func (p *pair) reportExit(exit supervisor.Exit) {
	p.exitOnce.Do(func() {
		p.exited <- exit
	})
}

// reap closes done once every process of the pair is gone.
func (p *pair) reap() {
	<-p.display.Done()
	<-p.upDone

	p.mu.Lock()
	term := p.terminal
	p.mu.Unlock()
	if term != nil {
		<-term.Done()
	}

	removeCookie(p.xauth)
	close(p.done)
}

func (p *pair) halt(kill bool) {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	p.stopped = true
	term := p.terminal
	p.mu.Unlock()

	signal := (*pty.Process).Terminate
	if kill {
		signal = (*pty.Process).Kill
	}
	if term != nil {
		if err := signal(term); err != nil {
			p.log.Warn().Err(err).Msg("failed to signal terminal")
		}
	}
	if err := signal(p.display); err != nil {
		p.log.Warn().Err(err).Msg("failed to signal display server")
	}
}

func (p *pair) Terminate() { p.halt(false) }

func (p *pair) Kill() { p.halt(true) }

func (p *pair) Ready() <-chan struct{} { return p.ready }

func (p *pair) Exited() <-chan supervisor.Exit { return p.exited }

func (p *pair) Done() <-chan struct{} { return p.done }

func (p *pair) Source() frame.Source { return p.source }

func (p *pair) Processes() []supervisor.ProcessInfo {
	procs := []supervisor.ProcessInfo{{Role: supervisor.RoleDisplay, PID: p.display.PID()}}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal != nil {
		procs = append(procs, supervisor.ProcessInfo{Role: supervisor.RoleTerminal, PID: p.terminal.PID()})
	}
	return procs
}

func (p *pair) Logs() []string {
	var out []string
	for _, line := range p.display.Lines() {
		out = append(out, "["+supervisor.RoleDisplay+"] "+line)
	}
	p.mu.Lock()
	term := p.terminal
	p.mu.Unlock()
	if term != nil {
		for _, line := range term.Lines() {
			out = append(out, "["+supervisor.RoleTerminal+"] "+line)
		}
	}
	return out
}
