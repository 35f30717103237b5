// Package server provides the local control API of the termcam host.
//
// The API is plain JSON over HTTP and is only served to loopback clients.
// Lifecycle events of every device are streamed to WebSocket clients on
// /ws.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/fonts"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/platform"
	"github.com/termcam/host/internal/reconcile"
	"github.com/termcam/host/internal/registry"
	"github.com/termcam/host/internal/storage"
	"github.com/termcam/host/internal/supervisor"
)

// channelBufferSize is the buffer of the broadcast channel and of every
// client's send channel. A client that falls further behind loses
// messages.
const channelBufferSize = 256

// Defaults for the limiter on mutating requests.
const (
	DefaultRateLimit = 20
	DefaultRateBurst = 10
)

// Devices is the device registry. *registry.Registry satisfies it.
type Devices interface {
	Create(ctx context.Context, id string, cfg device.Config) error
	Update(ctx context.Context, id string, cfg device.Config) (reconcile.Decision, error)
	Remove(ctx context.Context, id string) error
	Get(id string) (registry.DeviceStatus, error)
	List() []registry.DeviceStatus
	FrameSource(id string) (*frame.Handle, error)
	Events(id string, limit int) ([]*storage.DeviceEvent, error)
	Subscribe(buffer int) (<-chan supervisor.Event, func())
	Running() int
}

// FrameResolver resolves frame handle tokens. *frame.Publisher satisfies it.
type FrameResolver interface {
	Resolve(token string) (*frame.Handle, error)
}

// Platform reports and revalidates the host's dependencies.
// *platform.Provisioner satisfies it.
type Platform interface {
	Class() platform.Class
	Dependencies() platform.DependencySet
	Revalidate(ctx context.Context) (platform.Toolchain, error)
}

// Fonts lists and installs font families. *fonts.Catalog satisfies it.
type Fonts interface {
	Families(ctx context.Context) []string
	Invalidate()
	Install(ctx context.Context, urls []string) ([]fonts.InstallResult, error)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:7171".
	Addr     string
	Version  string
	Devices  Devices
	Frames   FrameResolver
	Platform Platform
	// Fonts is optional.
	Fonts  Fonts
	Logger zerolog.Logger

	// RateLimit and RateBurst bound mutating requests. Zero uses the
	// defaults.
	RateLimit rate.Limit
	RateBurst int
}

// Server serves the control API and the event stream.
type Server struct {
	opts      Options
	log       zerolog.Logger
	startTime time.Time
	limiter   *rate.Limiter
	upgrader  websocket.Upgrader
	status    *StatusHandler

	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Message
	stopped    bool
	listenAddr string

	unsubscribe func()
	forwardDone chan struct{}
	httpServer  *http.Server
}

// Client is one WebSocket connection.
type Client struct {
	conn *websocket.Conn

	// send is drained by writePump.
	send chan Message

	// done is closed to signal the client should shut down. Senders check
	// it instead of the send channel being closed.
	done     chan struct{}
	sendOnce sync.Once

	server *Server

	// filterMu guards devices. An empty filter receives every device.
	filterMu sync.RWMutex
	devices  map[string]bool
}

// New creates a server and starts forwarding registry events to
// WebSocket clients. Call Stop to release it.
func New(opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}

	s := &Server{
		opts:      opts,
		log:       opts.Logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		upgrader: websocket.Upgrader{
			// Loopback-only; browsers on the same machine may connect.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:     make(map[*Client]bool),
		broadcast:   make(chan Message, channelBufferSize),
		listenAddr:  opts.Addr,
		forwardDone: make(chan struct{}),
	}
	s.status = NewStatusHandler(s)

	go s.runBroadcaster()

	events, unsubscribe := opts.Devices.Subscribe(channelBufferSize)
	s.unsubscribe = unsubscribe
	go s.forwardEvents(events)

	return s
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
