//go:build darwin || linux

package keepawake

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/termcam/host/internal/errors"
)

// NewDefaultAdapter returns the inhibitor for this OS, bound to the host
// PID so it exits on its own if the host dies.
func NewDefaultAdapter() Adapter {
	return &execAdapter{
		hostPID: os.Getpid(),
		argv:    inhibitorArgv,
		execCmd: exec.Command,
	}
}

type execAdapter struct {
	hostPID int
	argv    func(hostPID int) []string
	execCmd func(name string, args ...string) *exec.Cmd
}

func (a *execAdapter) Acquire(ctx context.Context) (Handle, error) {
	if a.execCmd == nil || a.argv == nil {
		return nil, errors.New(errors.CodeKeepAwakeAcquireFailed, "keep-awake command runner is unavailable")
	}

	argv := a.argv(a.hostPID)
	cmd := a.execCmd(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		var ex *exec.Error
		if stderrors.As(err, &ex) || stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrap(errors.CodeKeepAwakeUnsupported, argv[0]+" is unavailable", err)
		}
		return nil, errors.Wrap(errors.CodeKeepAwakeAcquireFailed, "failed to start "+argv[0], err)
	}

	h := &execHandle{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

func pidArg(pid int) string { return strconv.Itoa(pid) }

type execHandle struct {
	cmd *exec.Cmd

	mu       sync.Mutex
	done     chan struct{}
	err      error
	released bool
	once     sync.Once
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.released {
		err = nil
	}
	h.err = err
	h.mu.Unlock()

	close(h.done)
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Release sends SIGTERM and escalates to SIGKILL when ctx expires first.
func (h *execHandle) Release(ctx context.Context) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	})

	select {
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		select {
		case <-h.done:
		case <-time.After(200 * time.Millisecond):
		}
		return fmt.Errorf("release timed out waiting for inhibitor exit: %w", ctx.Err())
	case <-h.done:
		return nil
	}
}
