package pty

import (
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %s did not exit", p.Name)
	}
}

func TestProcessCapturesOutputAndExitCode(t *testing.T) {
	skipWithoutShell(t)

	var (
		mu   sync.Mutex
		seen []string
	)
	p, err := Start(Config{
		Name: "terminal",
		Path: "/bin/sh",
		Args: []string{"-c", "echo first; echo second; exit 3"},
		OnLine: func(line string) {
			mu.Lock()
			seen = append(seen, line)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	waitDone(t, p)

	assert.False(t, p.Running())
	assert.Equal(t, 3, p.ExitCode())
	assert.Equal(t, []string{"first", "second"}, p.Lines())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestProcessPartialFinalLineIsKept(t *testing.T) {
	skipWithoutShell(t)

	p, err := Start(Config{Path: "/bin/sh", Args: []string{"-c", "printf 'no newline'"}})
	require.NoError(t, err)
	waitDone(t, p)

	assert.Equal(t, []string{"no newline"}, p.Lines())
}

func TestProcessTerminate(t *testing.T) {
	skipWithoutShell(t)

	p, err := Start(Config{Name: "display", Path: "/bin/sleep", Args: []string{"30"}})
	require.NoError(t, err)
	require.True(t, p.Running())

	require.NoError(t, p.Terminate())
	waitDone(t, p)
	assert.Equal(t, -1, p.ExitCode(), "signaled processes report -1")

	assert.NoError(t, p.Terminate(), "terminating a reaped process is a no-op")
	assert.NoError(t, p.Kill())
}

func TestProcessKillTakesChildrenDown(t *testing.T) {
	skipWithoutShell(t)

	p, err := Start(Config{Path: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 30 & wait"}})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, p.Kill())
	waitDone(t, p)
}

func TestProcessStartInvalidCommand(t *testing.T) {
	_, err := Start(Config{Path: "/nonexistent/definitely-not-here"})
	require.Error(t, err)
}

func TestProcessEnvIsPassed(t *testing.T) {
	skipWithoutShell(t)

	p, err := Start(Config{
		Path: "/bin/sh",
		Args: []string{"-c", "echo $TERMCAM_TEST_VALUE"},
		Env:  append(os.Environ(), "TERMCAM_TEST_VALUE=hello"),
	})
	require.NoError(t, err)
	waitDone(t, p)

	assert.Equal(t, "hello", strings.Join(p.Lines(), ""))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ok", sanitizeUTF8("ok"))
	assert.Equal(t, "a�b", sanitizeUTF8("a\xffb"))
}

func TestMatchesName(t *testing.T) {
	assert.True(t, matchesName("Xvfb", []string{"/usr/bin/Xvfb"}))
	assert.True(t, matchesName("XVFB.EXE", []string{"Xvfb"}))
	assert.True(t, matchesName("xterm", []string{"Xvfb", "xterm"}))
	assert.False(t, matchesName("bash", []string{"Xvfb", "xterm"}))
}

func TestKillStaleIgnoresForeignProcess(t *testing.T) {
	killed, err := KillStale(os.Getpid(), "Xvfb", "xterm")
	require.NoError(t, err)
	assert.False(t, killed, "the test binary must never match the expected names")
}
