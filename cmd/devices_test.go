package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/fonts"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/reconcile"
	"github.com/termcam/host/internal/registry"
	"github.com/termcam/host/internal/server"
	"github.com/termcam/host/internal/supervisor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// fakeAPI is a canned control API.
type fakeAPI struct {
	mu      sync.Mutex
	devices map[string]registry.DeviceStatus
	lastPut *device.Config
	srv     *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{devices: make(map[string]registry.DeviceStatus)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		writeTestJSON(w, http.StatusOK, server.StatusResponse{
			ListeningAddress: api.srv.Listener.Addr().String(),
			Version:          "test",
			Platform:         "linux",
			Devices:          len(api.devices),
		})
	})
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		resp := server.DeviceListResponse{Devices: []registry.DeviceStatus{}}
		for _, d := range api.devices {
			resp.Devices = append(resp.Devices, d)
		}
		writeTestJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /api/devices", func(w http.ResponseWriter, r *http.Request) {
		var req server.CreateDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeTestJSON(w, http.StatusBadRequest, nil)
			return
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if _, ok := api.devices[req.ID]; ok {
			writeTestJSON(w, http.StatusConflict, server.ErrorBody{Error: server.ErrorPayload{
				Code: "device.duplicate", Message: "device " + req.ID + " already exists",
			}})
			return
		}
		display := 100
		st := registry.DeviceStatus{
			Status: supervisor.Status{
				DeviceID: req.ID,
				State:    device.StateRunning,
				Display:  &display,
				Desired:  req.Config,
			},
			CreatedAt: time.Now(),
		}
		api.devices[req.ID] = st
		writeTestJSON(w, http.StatusCreated, st)
	})
	mux.HandleFunc("GET /api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		st, ok := api.devices[r.PathValue("id")]
		if !ok {
			writeTestJSON(w, http.StatusNotFound, server.ErrorBody{Error: server.ErrorPayload{
				Code: "device.unknown", Message: "device " + r.PathValue("id") + " not found",
			}})
			return
		}
		writeTestJSON(w, http.StatusOK, st)
	})
	mux.HandleFunc("PUT /api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		var cfg device.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeTestJSON(w, http.StatusBadRequest, nil)
			return
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		st := api.devices[r.PathValue("id")]
		decision := reconcile.NoOp
		if cfg != st.Desired {
			decision = reconcile.Restart
		}
		st.Desired = cfg
		api.devices[r.PathValue("id")] = st
		api.lastPut = &cfg
		writeTestJSON(w, http.StatusOK, server.UpdateDeviceResponse{Decision: decision, Device: st})
	})
	mux.HandleFunc("DELETE /api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		delete(api.devices, r.PathValue("id"))
		api.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/devices/{id}/frame-source", func(w http.ResponseWriter, r *http.Request) {
		h := &frame.Handle{Token: "tok-1", DeviceID: r.PathValue("id"), Generation: 3, Display: 100}
		writeTestJSON(w, http.StatusOK, server.FrameSourceResponse{Handle: h, InputArgs: []string{"-f", "x11grab", "-i", ":100"}})
	})
	mux.HandleFunc("GET /api/fonts", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, server.FontsResponse{Families: []string{"Default", "DejaVu Sans Mono"}})
	})
	mux.HandleFunc("POST /api/fonts", func(w http.ResponseWriter, r *http.Request) {
		var req server.FontInstallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeTestJSON(w, http.StatusBadRequest, nil)
			return
		}
		resp := server.FontInstallResponse{Families: []string{"Default", "Hack"}}
		for _, u := range req.URLs {
			res := fonts.InstallResult{URL: u}
			if strings.HasSuffix(u, ".ttf") {
				res.Path, res.Downloaded, res.Valid = "/fonts/"+path.Base(u), true, true
			} else {
				res.Error = "fc-validate: exit status 1"
			}
			resp.Results = append(resp.Results, res)
		}
		writeTestJSON(w, http.StatusOK, resp)
	})

	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) addr() string {
	return a.srv.Listener.Addr().String()
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func runCmd(fn func([]string, io.Writer, io.Writer) int, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := fn(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{2 * time.Hour, "2h ago"},
		{48 * time.Hour, "2d ago"},
		{-5 * time.Minute, "in the future"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestDevicesAddThenList(t *testing.T) {
	api := newFakeAPI(t)

	code, out, errOut := runCmd(runDevicesAdd,
		"--addr", api.addr(), "--program", "htop", "--columns", "120", "--rows", "40", "cam0")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Device cam0 is running on display :100")

	code, out, errOut = runCmd(runDevicesList, "--addr", api.addr())
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "DEVICE ID")
	assert.Contains(t, out, "cam0")
	assert.Contains(t, out, "120x40")
}

func TestDevicesListEmpty(t *testing.T) {
	api := newFakeAPI(t)

	code, out, _ := runCmd(runDevicesList, "--addr", api.addr())
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No devices found.")
}

func TestDevicesAddDuplicateShowsNextAction(t *testing.T) {
	api := newFakeAPI(t)
	args := []string{"--addr", api.addr(), "--program", "htop", "cam0"}

	code, _, _ := runCmd(runDevicesAdd, args...)
	require.Equal(t, 0, code)

	code, _, errOut := runCmd(runDevicesAdd, args...)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "device.duplicate")
	assert.Contains(t, errOut, "->")
}

func TestDevicesAddRejectsInvalidConfigLocally(t *testing.T) {
	api := newFakeAPI(t)

	code, _, errOut := runCmd(runDevicesAdd, "--addr", api.addr(), "--program", "htop", "--columns", "0", "cam0")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.devices)
}

func TestDevicesAddRequiresID(t *testing.T) {
	code, _, errOut := runCmd(runDevicesAdd, "--program", "htop")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage: termcam devices add")
}

func TestDevicesUpdateKeepsUnsetFields(t *testing.T) {
	api := newFakeAPI(t)
	code, _, _ := runCmd(runDevicesAdd,
		"--addr", api.addr(), "--program", "htop", "--columns", "100", "--rows", "30", "--font", "Monospace", "cam0")
	require.Equal(t, 0, code)

	code, out, errOut := runCmd(runDevicesUpdate, "--addr", api.addr(), "--columns", "132", "cam0")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "restarted with the new configuration")

	api.mu.Lock()
	defer api.mu.Unlock()
	require.NotNil(t, api.lastPut)
	assert.Equal(t, "htop", api.lastPut.TerminalProgram)
	assert.Equal(t, 132, api.lastPut.TerminalColumns)
	assert.Equal(t, 30, api.lastPut.TerminalRows)
	assert.Equal(t, "Monospace", api.lastPut.FontName)
}

func TestDevicesUpdateUnknown(t *testing.T) {
	api := newFakeAPI(t)

	code, _, errOut := runCmd(runDevicesUpdate, "--addr", api.addr(), "--columns", "132", "ghost")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "device.unknown")
}

func TestDevicesGetAndRemove(t *testing.T) {
	api := newFakeAPI(t)
	code, _, _ := runCmd(runDevicesAdd, "--addr", api.addr(), "--program", "htop", "cam0")
	require.Equal(t, 0, code)

	code, out, _ := runCmd(runDevicesGet, "--addr", api.addr(), "cam0")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Device:       cam0")
	assert.Contains(t, out, "Program:      htop")

	code, out, _ = runCmd(runDevicesRemove, "--addr", api.addr(), "cam0")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Device cam0 removed.")

	code, _, errOut := runCmd(runDevicesGet, "--addr", api.addr(), "cam0")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "device.unknown")
}

func TestDevicesSource(t *testing.T) {
	api := newFakeAPI(t)

	code, out, errOut := runCmd(runDevicesSource, "--addr", api.addr(), "cam0")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Token:        tok-1")
	assert.Contains(t, out, "Generation:   3")
	assert.Contains(t, out, "x11grab")
}

func TestDevicesHostUnreachable(t *testing.T) {
	code, _, errOut := runCmd(runDevicesList, "--addr", "127.0.0.1:1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not reachable")
}

func TestStatusCommand(t *testing.T) {
	api := newFakeAPI(t)

	code, out, errOut := runCmd(runStatus, "--addr", api.addr())
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Host Status")
	assert.Contains(t, out, "Platform:     linux")

	code, out, _ = runCmd(runStatus, "--addr", api.addr(), "--json")
	require.Equal(t, 0, code)
	var st server.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "test", st.Version)
}

func TestFontsFromHost(t *testing.T) {
	api := newFakeAPI(t)

	code, out, errOut := runCmd(runFonts, "--addr", api.addr())
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, []string{"Default", "DejaVu Sans Mono"}, strings.Split(strings.TrimSpace(out), "\n"))
}

func TestFontsInstall(t *testing.T) {
	api := newFakeAPI(t)

	code, out, errOut := runCmd(runFonts, "install", "--addr", api.addr(), "https://example.com/Hack.ttf")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "OK    https://example.com/Hack.ttf -> /fonts/Hack.ttf")

	code, out, _ = runCmd(runFonts, "install", "--addr", api.addr(), "https://example.com/Hack.ttf", "https://example.com/broken.bin")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "FAIL  https://example.com/broken.bin: fc-validate")

	code, _, errOut = runCmd(runFonts, "install", "--addr", api.addr())
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage: termcam fonts install")
}

func TestFontsFallsBackToLocal(t *testing.T) {
	orig := fontsLocal
	t.Cleanup(func() { fontsLocal = orig })
	fontsLocal = func(_ context.Context, _ string) ([]string, error) {
		return []string{"Default", "Local Mono"}, nil
	}

	code, out, errOut := runCmd(runFonts, "--addr", "127.0.0.1:1")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Local Mono")
	assert.Contains(t, errOut, "querying fontconfig directly")
}
