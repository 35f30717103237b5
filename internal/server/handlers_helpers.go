package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/termcam/host/internal/errors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 * 1024

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// statusForCode maps an error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case errors.CodeDeviceUnknown:
		return http.StatusNotFound
	case errors.CodeDeviceDuplicate, errors.CodeDeviceBusy, errors.CodeDeviceCanceled, errors.CodeFrameNotRunning:
		return http.StatusConflict
	case errors.CodeFrameStaleHandle:
		return http.StatusGone
	case errors.CodeConfigInvalid, errors.CodeServerInvalidMessage:
		return http.StatusBadRequest
	case errors.CodeServerForbidden:
		return http.StatusForbidden
	case errors.CodeServerRateLimited:
		return http.StatusTooManyRequests
	case errors.CodePlatformMissingDependency, errors.CodePlatformInstallFailed, errors.CodeFontUnsupported:
		return http.StatusFailedDependency
	case errors.CodePlatformUnsupported:
		return http.StatusNotImplemented
	case errors.CodeDisplayExhausted:
		return http.StatusServiceUnavailable
	case errors.CodeProcessSpawnFailed, errors.CodeProcessReadyTimeout, errors.CodeProcessCrashed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err as an ErrorBody with the status its code maps to.
func writeError(w http.ResponseWriter, err error) {
	code, msg := errors.ToCodeAndMessage(err)
	writeJSON(w, statusForCode(code), ErrorBody{Error: ErrorPayload{Code: code, Message: msg}})
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidMessage("invalid JSON body: " + err.Error())
	}
	return nil
}

// isLoopbackRequest reports whether the request comes from this machine.
// Unparseable addresses are rejected.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// loopbackOnly rejects requests from other machines.
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			s.log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("rejected non-local request")
			writeError(w, errors.New(errors.CodeServerForbidden, "the control API is local-only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited applies the mutation limiter to a handler.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, errors.New(errors.CodeServerRateLimited, "too many requests, slow down"))
			return
		}
		next(w, r)
	}
}
