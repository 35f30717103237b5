package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
)

// Config describes a child process.
type Config struct {
	// Name labels the process in logs, e.g. "display" or "terminal".
	Name string
	Path string
	Args []string
	// Env is the complete child environment; nil inherits the parent's.
	Env []string
	Dir string
	// HistoryLines bounds the output tail.
	HistoryLines int
	// OnLine is called for every complete output line.
	OnLine func(line string)
}

// Process is a child running on the slave side of a PTY. Its output is read
// from the master and kept in a ring buffer so a device status can show why
// a display server or terminal died.
//
// Platforms without PTY support fall back to a plain pipe.
type Process struct {
	Name      string
	Path      string
	Args      []string
	StartedAt time.Time

	cmd    *exec.Cmd
	out    *os.File // PTY master or pipe read end
	buffer *RingBuffer
	onLine func(string)

	done       chan struct{}
	outputDone chan struct{}

	mu       sync.Mutex
	running  bool
	exitCode int
	waitErr  error
}

// Start spawns the process described by cfg.
func Start(cfg Config) (*Process, error) {
	p := &Process{
		Name:       cfg.Name,
		Path:       cfg.Path,
		Args:       cfg.Args,
		buffer:     NewRingBuffer(cfg.HistoryLines),
		onLine:     cfg.OnLine,
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
		exitCode:   -1,
	}

	p.cmd = exec.Command(cfg.Path, cfg.Args...)
	p.cmd.Env = cfg.Env
	p.cmd.Dir = cfg.Dir

	ptmx, err := pty.Start(p.cmd)
	if errors.Is(err, pty.ErrUnsupported) {
		ptmx, err = startWithPipe(p.cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Path, err)
	}

	p.out = ptmx
	p.running = true
	p.StartedAt = time.Now()

	go p.captureOutput()
	go p.waitForExit()

	return p, nil
}

// startWithPipe runs cmd with stdout and stderr joined into a pipe.
func startWithPipe(cmd *exec.Cmd) (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	w.Close()
	return r, nil
}

func (p *Process) captureOutput() {
	defer close(p.outputDone)

	buf := make([]byte, 4096)
	var pending strings.Builder

	for {
		n, err := p.out.Read(buf)
		if n > 0 {
			p.bufferLines(sanitizeUTF8(string(buf[:n])), &pending)
		}
		if err != nil {
			if pending.Len() > 0 {
				p.emit(pending.String())
			}
			return
		}
	}
}

// bufferLines splits a chunk into complete lines and keeps the trailing
// partial line in pending for the next chunk.
func (p *Process) bufferLines(chunk string, pending *strings.Builder) {
	if pending.Len() > 0 {
		chunk = pending.String() + chunk
		pending.Reset()
	}
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx == -1 {
			pending.WriteString(chunk)
			return
		}
		p.emit(chunk[:idx])
		chunk = chunk[idx+1:]
	}
}

func (p *Process) emit(line string) {
	line = strings.TrimRight(line, "\r")
	p.buffer.Write(line)
	if p.onLine != nil {
		p.onLine(line)
	}
}

func (p *Process) waitForExit() {
	err := p.cmd.Wait()

	// Children that inherited the PTY can keep the master open; closing it
	// ends the reader either way.
	select {
	case <-p.outputDone:
	case <-time.After(500 * time.Millisecond):
		p.out.Close()
		<-p.outputDone
	}

	p.mu.Lock()
	p.running = false
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.out.Close()
	p.mu.Unlock()

	close(p.done)
}

// sanitizeUTF8 replaces invalid UTF-8 bytes with U+FFFD so the tail can be
// sent as JSON.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Running reports whether the process has not been reaped yet.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ExitCode returns the exit status after Done, or -1 when the process was
// killed by a signal or is still running.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Lines returns the buffered output tail.
func (p *Process) Lines() []string {
	return p.buffer.Lines()
}

// Tail returns the newest n output lines.
func (p *Process) Tail(n int) []string {
	return p.buffer.Tail(n)
}

// Terminate asks the process to exit. Where signals are not supported the
// process is killed instead.
func (p *Process) Terminate() error {
	if !p.Running() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return p.Kill()
	}
	return nil
}

// Kill force-terminates the process together with its descendants.
func (p *Process) Kill() error {
	if !p.Running() {
		return nil
	}
	if err := KillTree(p.PID()); err != nil {
		// Fall back to the direct child; the tree walk fails once it is gone.
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
	}
	return nil
}
