//go:build darwin || linux

package keepawake

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/termcam/host/internal/errors"
)

func sleepArgv(int) []string { return []string{"sleep", "30"} }

func TestExecAcquireStartsInhibitorAndReleases(t *testing.T) {
	adapter := &execAdapter{hostPID: 1, argv: sleepArgv, execCmd: exec.Command}

	h, err := adapter.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := h.Err(); err != nil {
		t.Fatalf("released inhibitor should report no error, got %v", err)
	}
}

func TestExecAcquireUnsupportedWhenMissingBinary(t *testing.T) {
	adapter := &execAdapter{
		hostPID: 1,
		argv:    func(int) []string { return []string{"/nonexistent-binary-for-keepawake-test"} },
		execCmd: exec.Command,
	}

	_, err := adapter.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := errors.GetCode(err); got != errors.CodeKeepAwakeUnsupported {
		t.Fatalf("code=%s want %s", got, errors.CodeKeepAwakeUnsupported)
	}
}

func TestExecReleaseTimeoutEscalatesKill(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleep: %v", err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	if err := h.Release(ctx); err == nil {
		t.Fatal("expected timeout error")
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected process exit after kill escalation")
	}
}

func TestInhibitorArgvBindsHostPID(t *testing.T) {
	argv := inhibitorArgv(4242)
	if len(argv) == 0 {
		t.Fatal("empty argv")
	}
	found := false
	for _, a := range argv {
		if a == "4242" || a == "--pid=4242" {
			found = true
		}
	}
	if !found {
		t.Fatalf("argv %v does not reference the host pid", argv)
	}
}
