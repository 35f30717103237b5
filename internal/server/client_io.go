package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termcam/host/internal/errors"
)

// closeSend signals the client to shut down exactly once.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// wants reports whether the client watches deviceID.
func (c *Client) wants(deviceID string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return len(c.devices) == 0 || c.devices[deviceID]
}

// writePump sends queued messages and pings every 30 seconds.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			data, err := json.Marshal(msg)
			if err != nil {
				c.server.log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client messages and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c)
		c.server.mu.Unlock()

		c.closeSend()
		c.server.log.Debug().Int("clients", c.server.ClientCount()).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		var msg struct {
			Type    MessageType     `json:"type"`
			ID      string          `json:"id"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(NewErrorMessage("", errors.CodeServerInvalidMessage, "message is not valid JSON"))
			continue
		}

		switch msg.Type {
		case MessageTypeWatch:
			c.handleWatch(msg.ID, msg.Payload)
		default:
			c.reply(NewErrorMessage(msg.ID, errors.CodeServerInvalidMessage, "unknown message type "+string(msg.Type)))
		}
	}
}

func (c *Client) handleWatch(id string, raw json.RawMessage) {
	var payload WatchPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.reply(NewErrorMessage(id, errors.CodeServerInvalidMessage, "invalid device.watch payload"))
			return
		}
	}

	devices := make(map[string]bool, len(payload.DeviceIDs))
	for _, d := range payload.DeviceIDs {
		devices[d] = true
	}
	c.filterMu.Lock()
	c.devices = devices
	c.filterMu.Unlock()
}

// reply queues msg for this client only, dropping it if the client is
// gone or too slow.
func (c *Client) reply(msg Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
	}
}
