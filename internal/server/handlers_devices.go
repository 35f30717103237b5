package server

import (
	"net/http"
	"strconv"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/reconcile"
	"github.com/termcam/host/internal/registry"
)

// CreateDeviceRequest is the body of POST /api/devices.
type CreateDeviceRequest struct {
	ID     string        `json:"id"`
	Config device.Config `json:"config"`
}

// UpdateDeviceResponse is the body returned by PUT /api/devices/{id}.
type UpdateDeviceResponse struct {
	Decision reconcile.Decision    `json:"decision"`
	Device   registry.DeviceStatus `json:"device"`
}

// DeviceListResponse is the body of GET /api/devices.
type DeviceListResponse struct {
	Devices []registry.DeviceStatus `json:"devices"`
}

const defaultEventLimit = 50

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DeviceListResponse{Devices: s.opts.Devices.List()})
}

// handleCreateDevice waits for the first start attempt. A failed first
// attempt is reported as an error even though the device stays
// registered.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req CreateDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.opts.Devices.Create(r.Context(), req.ID, req.Config); err != nil {
		s.log.Warn().Err(err).Str("device", req.ID).Msg("create device failed")
		writeError(w, err)
		return
	}

	st, err := s.opts.Devices.Get(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Devices.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var cfg device.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}

	decision, err := s.opts.Devices.Update(r.Context(), id, cfg)
	if err != nil {
		s.log.Warn().Err(err).Str("device", id).Str("decision", string(decision)).Msg("update device failed")
		writeError(w, err)
		return
	}

	st, err := s.opts.Devices.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateDeviceResponse{Decision: decision, Device: st})
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Devices.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFrameSource(w http.ResponseWriter, r *http.Request) {
	h, err := s.opts.Devices.FrameSource(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FrameSourceResponse{Handle: h, InputArgs: h.InputArgs(), Env: h.Env()})
}

func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errInvalidQuery("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := s.opts.Devices.Events(r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": eventsOrEmpty(events)})
}
