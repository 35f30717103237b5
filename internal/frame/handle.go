// Package frame publishes the frame sources that streaming consumers use to
// grab a device's virtual display.
//
// A Handle is only valid while its device is running. Every time a device
// leaves the running state its handle is invalidated, and the next publish
// issues a new token with a higher generation. Consumers holding an old
// token get a stale-handle error and must fetch a fresh one.
package frame

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/errors"
)

// FrameRate is the capture rate handed to x11grab.
const FrameRate = 15

// Source describes a running display, as reported by the supervisor.
type Source struct {
	Display    int
	Geometry   device.Geometry
	XAuthority string
	FFmpeg     string
}

// Handle is an opaque reference to a running device's display output.
type Handle struct {
	Token       string          `json:"token"`
	DeviceID    string          `json:"device_id"`
	Generation  uint64          `json:"generation"`
	Display     int             `json:"display"`
	Geometry    device.Geometry `json:"geometry"`
	XAuthority  string          `json:"xauthority,omitempty"`
	FrameRate   int             `json:"frame_rate"`
	FFmpeg      string          `json:"ffmpeg,omitempty"`
	EncoderArgs string          `json:"encoder_args,omitempty"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// DisplayName returns the X display string, e.g. ":100".
func (h *Handle) DisplayName() string {
	return fmt.Sprintf(":%d", h.Display)
}

// InputArgs returns the ffmpeg input arguments that grab the display.
func (h *Handle) InputArgs() []string {
	return []string{
		"-f", "x11grab",
		"-framerate", fmt.Sprint(h.FrameRate),
		"-draw_mouse", "0",
		"-video_size", h.Geometry.String(),
		"-i", h.DisplayName(),
	}
}

// Env returns the environment the grabbing process needs.
func (h *Handle) Env() []string {
	if h.XAuthority == "" {
		return nil
	}
	return []string{"XAUTHORITY=" + h.XAuthority}
}

// EncoderOverride splits the opaque encoder override into arguments.
// The host never interprets them.
func (h *Handle) EncoderOverride() []string {
	return strings.Fields(h.EncoderArgs)
}

// Publisher tracks the live handle of every device.
type Publisher struct {
	encoderArgs string

	mu         sync.RWMutex
	byDevice   map[string]*Handle
	byToken    map[string]*Handle
	generation uint64
	now        func() time.Time
}

// NewPublisher creates a Publisher. encoderArgs is copied into every handle.
func NewPublisher(encoderArgs string) *Publisher {
	return &Publisher{
		encoderArgs: encoderArgs,
		byDevice:    make(map[string]*Handle),
		byToken:     make(map[string]*Handle),
		now:         time.Now,
	}
}

// Publish issues a new handle for a device that just reached running.
// Any previous handle for the device is invalidated first.
func (p *Publisher) Publish(deviceID string, src Source) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.invalidateLocked(deviceID)

	p.generation++
	h := &Handle{
		Token:       uuid.NewString(),
		DeviceID:    deviceID,
		Generation:  p.generation,
		Display:     src.Display,
		Geometry:    src.Geometry,
		XAuthority:  src.XAuthority,
		FrameRate:   FrameRate,
		FFmpeg:      src.FFmpeg,
		EncoderArgs: p.encoderArgs,
		IssuedAt:    p.now(),
	}
	p.byDevice[deviceID] = h
	p.byToken[h.Token] = h

	cp := *h
	return &cp
}

// Invalidate drops the device's handle. It returns once the old token can
// no longer be resolved.
func (p *Publisher) Invalidate(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateLocked(deviceID)
}

func (p *Publisher) invalidateLocked(deviceID string) {
	if h, ok := p.byDevice[deviceID]; ok {
		delete(p.byToken, h.Token)
		delete(p.byDevice, deviceID)
	}
}

// Current returns a copy of the device's live handle.
func (p *Publisher) Current(deviceID string) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h, ok := p.byDevice[deviceID]
	if !ok {
		return nil, errors.NotRunning(deviceID)
	}
	cp := *h
	return &cp, nil
}

// Resolve returns the live handle for a token, or a stale-handle error.
func (p *Publisher) Resolve(token string) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h, ok := p.byToken[token]
	if !ok {
		return nil, errors.StaleHandle(token)
	}
	cp := *h
	return &cp, nil
}

// Validate checks that h is still the device's live handle.
func (p *Publisher) Validate(h *Handle) error {
	if h == nil {
		return errors.StaleHandle("")
	}
	_, err := p.Resolve(h.Token)
	return err
}
