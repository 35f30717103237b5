package server

import (
	"github.com/termcam/host/internal/supervisor"
)

// Broadcast queues msg for every connected client. It never blocks; if the
// broadcast channel is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	// RLock through the send so Stop cannot close the channel under us.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	select {
	case s.broadcast <- msg:
	default:
		s.log.Warn().Str("type", string(msg.Type)).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastDeviceEvent sends a lifecycle event to the clients watching
// the device.
func (s *Server) BroadcastDeviceEvent(ev supervisor.Event) {
	s.Broadcast(NewDeviceEventMessage(ev))
}

func (s *Server) runBroadcaster() {
	for msg := range s.broadcast {
		deviceID := ""
		if ev, ok := msg.Payload.(supervisor.Event); ok {
			deviceID = ev.DeviceID
		}

		s.mu.RLock()
		for client := range s.clients {
			if deviceID != "" && !client.wants(deviceID) {
				continue
			}
			select {
			case <-client.done:
			case client.send <- msg:
			default:
				s.log.Warn().Msg("client send buffer full, dropping message")
			}
		}
		s.mu.RUnlock()
	}
}

// forwardEvents relays registry events until the subscription closes.
func (s *Server) forwardEvents(events <-chan supervisor.Event) {
	defer close(s.forwardDone)
	for ev := range events {
		s.BroadcastDeviceEvent(ev)
	}
}
