package main

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcam/host/internal/server"
	"github.com/termcam/host/internal/storage"
	"github.com/termcam/host/internal/supervisor"
)

// cleanupEnv writes a config pointing at a fresh data dir and returns the
// config path and database path.
func cleanupEnv(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "termcam.db")
	path := writeConfig(t, fmt.Sprintf("addr = %q\ndata_dir = %q\ndb_path = %q\n", "127.0.0.1:1", dir, dbPath))
	return path, dbPath
}

// stubCleanup swaps the kill and status seams. alive controls whether a
// host appears to answer.
func stubCleanup(t *testing.T, alive bool) *[]int {
	t.Helper()

	origKill, origStatus := cleanupKill, doctorQueryStatus
	t.Cleanup(func() { cleanupKill, doctorQueryStatus = origKill, origStatus })

	var mu sync.Mutex
	var killed []int
	cleanupKill = func(pid int, names ...string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		killed = append(killed, pid)
		return true, nil
	}
	doctorQueryStatus = func(string) (*server.StatusResponse, error) {
		if alive {
			return &server.StatusResponse{Version: Version}, nil
		}
		return nil, errors.New("connection refused")
	}
	return &killed
}

func seedRecords(t *testing.T, dbPath string) {
	t.Helper()
	store, err := storage.NewSQLiteStore(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.ReplaceProcessRecords("cam0", []storage.ProcessRecord{
		{DeviceID: "cam0", Role: supervisor.RoleDisplay, PID: 4101, Display: 100, StartedAt: now},
		{DeviceID: "cam0", Role: supervisor.RoleTerminal, PID: 4102, Display: 100, StartedAt: now},
	}))
}

func TestCleanupKillsRecordedProcesses(t *testing.T) {
	configPath, dbPath := cleanupEnv(t)
	seedRecords(t, dbPath)
	killed := stubCleanup(t, false)

	var stdout, stderr bytes.Buffer
	code := runCleanup([]string{"--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Contains(t, stdout.String(), "Killed 2 orphaned processes.")
	assert.ElementsMatch(t, []int{4101, 4102}, *killed)

	// Records are cleared, so a second sweep finds nothing.
	stdout.Reset()
	code = runCleanup([]string{"--config", configPath}, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Killed 0 orphaned processes.")
}

func TestCleanupNoDatabase(t *testing.T) {
	configPath, _ := cleanupEnv(t)
	killed := stubCleanup(t, false)

	var stdout, stderr bytes.Buffer
	code := runCleanup([]string{"--config", configPath}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "No process records found.")
	assert.Empty(t, *killed)
}

func TestCleanupRefusesWhileHostRuns(t *testing.T) {
	configPath, dbPath := cleanupEnv(t)
	seedRecords(t, dbPath)
	killed := stubCleanup(t, true)

	var stdout, stderr bytes.Buffer
	code := runCleanup([]string{"--config", configPath}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "a host is running")
	assert.Empty(t, *killed)
}

func TestCleanupForceIgnoresRunningHost(t *testing.T) {
	configPath, dbPath := cleanupEnv(t)
	seedRecords(t, dbPath)
	killed := stubCleanup(t, true)

	var stdout, stderr bytes.Buffer
	code := runCleanup([]string{"--config", configPath, "--force"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Len(t, *killed, 2)
}
