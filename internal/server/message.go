package server

import (
	"github.com/termcam/host/internal/registry"
	"github.com/termcam/host/internal/supervisor"
)

// MessageType identifies the kind of message sent over the WebSocket.
type MessageType string

const (
	// MessageTypeHello is sent once per connection.
	// Payload: HelloPayload
	MessageTypeHello MessageType = "host.hello"

	// MessageTypeDeviceEvent carries one lifecycle transition.
	// Payload: supervisor.Event
	MessageTypeDeviceEvent MessageType = "device.event"

	// MessageTypeWatch is sent by clients to restrict the events they
	// receive to some devices. An empty list watches every device.
	// Payload: WatchPayload
	MessageTypeWatch MessageType = "device.watch"

	// MessageTypeError reports a rejected client message.
	// Payload: ErrorPayload
	MessageTypeError MessageType = "error"
)

// Message is the envelope of every WebSocket message.
type Message struct {
	Type MessageType `json:"type"`

	// ID correlates a reply with the client message that caused it.
	ID string `json:"id,omitempty"`

	Payload interface{} `json:"payload"`
}

// HelloPayload is the snapshot a client receives on connect.
type HelloPayload struct {
	Version string                  `json:"version"`
	Devices []registry.DeviceStatus `json:"devices"`
}

// WatchPayload selects devices for a connection.
type WatchPayload struct {
	DeviceIDs []string `json:"device_ids"`
}

// ErrorPayload mirrors the HTTP error body.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHelloMessage creates a host.hello message.
func NewHelloMessage(version string, devices []registry.DeviceStatus) Message {
	return Message{
		Type:    MessageTypeHello,
		Payload: HelloPayload{Version: version, Devices: devices},
	}
}

// NewDeviceEventMessage creates a device.event message.
func NewDeviceEventMessage(ev supervisor.Event) Message {
	return Message{Type: MessageTypeDeviceEvent, Payload: ev}
}

// NewErrorMessage creates an error message in reply to id.
func NewErrorMessage(id, code, message string) Message {
	return Message{
		Type:    MessageTypeError,
		ID:      id,
		Payload: ErrorPayload{Code: code, Message: message},
	}
}
