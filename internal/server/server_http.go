package server

import (
	"net/http"
)

// Handler returns the HTTP handler of the control API.
func (s *Server) Handler() http.Handler {
	return s.loopbackOnly(s.createMux())
}

// createMux registers every endpoint.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /status", s.status)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices", s.rateLimited(s.handleCreateDevice))
	mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("PUT /api/devices/{id}", s.rateLimited(s.handleUpdateDevice))
	mux.HandleFunc("DELETE /api/devices/{id}", s.rateLimited(s.handleRemoveDevice))
	mux.HandleFunc("GET /api/devices/{id}/frame-source", s.handleFrameSource)
	mux.HandleFunc("GET /api/devices/{id}/events", s.handleDeviceEvents)
	mux.HandleFunc("GET /api/frames/{token}", s.handleResolveFrame)

	mux.HandleFunc("GET /api/platform", s.handlePlatform)
	mux.HandleFunc("POST /api/platform/revalidate", s.rateLimited(s.handleRevalidate))
	mux.HandleFunc("GET /api/fonts", s.handleFonts)
	mux.HandleFunc("POST /api/fonts", s.rateLimited(s.handleInstallFonts))

	return mux
}

// handleWebSocket upgrades a connection and streams device events to it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, channelBufferSize),
		done:   make(chan struct{}),
		server: s,
	}

	// The hello snapshot is queued before the client is registered, so it
	// always precedes the first event.
	client.send <- NewHelloMessage(s.opts.Version, s.opts.Devices.List())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	s.mu.Unlock()

	s.log.Debug().Int("clients", s.ClientCount()).Msg("client connected")

	go client.writePump()
	client.readPump()
}
