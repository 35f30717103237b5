package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/termcam/host/internal/platform"
)

// StatusResponse contains host status information returned by /status.
// The CLI's status command prints it.
type StatusResponse struct {
	// ListeningAddress is the address the control API is bound to.
	ListeningAddress string `json:"listening_address"`

	Version string `json:"version"`

	// UptimeSeconds is how long the host has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// ConnectedClients is the number of WebSocket event subscribers.
	ConnectedClients int `json:"connected_clients"`

	// Platform is the detected provisioning class, empty if unsupported.
	Platform platform.Class `json:"platform"`

	Devices int `json:"devices"`
	Running int `json:"running"`
}

// StatusHandler serves GET /status.
type StatusHandler struct {
	server *Server
}

// NewStatusHandler creates a StatusHandler for s.
func NewStatusHandler(s *Server) *StatusHandler {
	return &StatusHandler{server: s}
}

// ServeHTTP answers local GET requests with a StatusResponse.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.server
	resp := StatusResponse{
		ListeningAddress: s.Addr(),
		Version:          s.opts.Version,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		ConnectedClients: s.ClientCount(),
		Platform:         s.opts.Platform.Class(),
		Devices:          len(s.opts.Devices.List()),
		Running:          s.opts.Devices.Running(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
