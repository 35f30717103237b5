package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// StartAsync starts serving in a goroutine. The returned channel receives
// nil once the listener is bound, or the error that prevented it (for
// example, the port is already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
		close(errCh)
		return errCh
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listenAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("control API listening")
		errCh <- nil
		close(errCh)

		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("control API stopped")
		}
	}()

	return errCh
}

// Stop disconnects every client, stops the event stream and shuts the
// HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)

	// Broadcast checks stopped under the same lock, so no sender races
	// the close.
	close(s.broadcast)
	srv := s.httpServer
	s.mu.Unlock()

	s.unsubscribe()
	<-s.forwardDone

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
