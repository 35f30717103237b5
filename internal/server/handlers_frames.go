package server

import (
	"net/http"
	"time"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/storage"
)

// FrameSourceResponse is returned for a live frame handle, together with
// the ffmpeg input arguments and environment that grab it.
type FrameSourceResponse struct {
	Handle    *frame.Handle `json:"handle"`
	InputArgs []string      `json:"input_args"`
	Env       []string      `json:"env,omitempty"`
}

// EventRecord is one persisted transition.
type EventRecord struct {
	State     string    `json:"state"`
	From      string    `json:"from"`
	Display   *int      `json:"display,omitempty"`
	Restarts  int       `json:"restarts"`
	ErrorCode string    `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// handleResolveFrame answers 410 once the handle was invalidated.
func (s *Server) handleResolveFrame(w http.ResponseWriter, r *http.Request) {
	h, err := s.opts.Frames.Resolve(r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FrameSourceResponse{Handle: h, InputArgs: h.InputArgs(), Env: h.Env()})
}

func errInvalidQuery(reason string) error {
	return errors.InvalidMessage(reason)
}

func eventsOrEmpty(events []*storage.DeviceEvent) []EventRecord {
	out := make([]EventRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, EventRecord{
			State:     ev.State,
			From:      ev.From,
			Display:   ev.Display,
			Restarts:  ev.Restarts,
			ErrorCode: ev.ErrorCode,
			Message:   ev.Message,
			At:        ev.At,
		})
	}
	return out
}
