package supervisor

import (
	"context"
	"time"

	"github.com/termcam/host/internal/config"
	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/platform"
)

// Provisioner guarantees the platform toolchain. *platform.Provisioner
// satisfies it.
type Provisioner interface {
	Ensure(ctx context.Context) (platform.Toolchain, error)
}

// Allocator reserves display numbers. *display.Allocator satisfies it.
type Allocator interface {
	Allocate(deviceID string) (int, error)
	Release(display int)
}

// Publisher publishes frame sources. *frame.Publisher satisfies it.
type Publisher interface {
	Publish(deviceID string, src frame.Source) *frame.Handle
	Invalidate(deviceID string)
}

// ProcessRecorder persists the pids of a live pair so a later host
// instance can clean up after a crash. It is optional.
type ProcessRecorder interface {
	RecordProcesses(deviceID string, display int, procs []ProcessInfo) error
	ClearProcesses(deviceID string) error
}

// Launcher spawns the display server and terminal for one device.
//
// Launch returns once the display server is spawned, or with an error
// after making sure nothing it started is left running. Failures after
// that point, including a terminal that cannot be spawned, are reported
// on the pair's Exited channel.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Pair, error)
}

// LaunchSpec is everything a launcher needs to start a pair.
type LaunchSpec struct {
	DeviceID  string
	Display   int
	Config    device.Config
	Toolchain platform.Toolchain
}

// Role names a process of the pair.
const (
	RoleDisplay  = "display"
	RoleTerminal = "terminal"
)

// ProcessInfo identifies one OS process of a pair.
type ProcessInfo struct {
	Role string `json:"role"`
	PID  int    `json:"pid"`
}

// Exit describes the first process of a pair to exit.
type Exit struct {
	Role string
	Code int
	// Err is set when the process could not be started at all.
	Err error
}

// Pair is a running display server + terminal.
type Pair interface {
	Processes() []ProcessInfo
	// Ready is closed once both processes report ready.
	Ready() <-chan struct{}
	// Exited delivers the first exit of either process.
	Exited() <-chan Exit
	// Terminate asks both processes to exit.
	Terminate()
	// Kill force-terminates both processes.
	Kill()
	// Done is closed once both processes are reaped.
	Done() <-chan struct{}
	// Source describes the display for frame consumers.
	Source() frame.Source
	// Logs returns the recent output of both processes.
	Logs() []string
}

// Policy bounds the supervisor's waits and restarts.
type Policy struct {
	ReadyTimeout      time.Duration
	GracePeriod       time.Duration
	StableAfter       time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	MaxRestarts       int
	QueueSize         int
}

// PolicyFromConfig copies the restart policy out of a normalized config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		ReadyTimeout:      cfg.ReadyTimeout,
		GracePeriod:       cfg.GracePeriod,
		StableAfter:       cfg.StableAfter,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxRestarts:       cfg.MaxRestarts,
		QueueSize:         cfg.QueueSize,
	}
}

// Event is published on every state transition.
type Event struct {
	DeviceID     string        `json:"device_id"`
	State        device.State  `json:"state"`
	From         device.State  `json:"from"`
	Display      *int          `json:"display,omitempty"`
	Restarts     int           `json:"restarts"`
	Delay        time.Duration `json:"delay,omitempty"`
	LastExit     string        `json:"last_exit,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	At           time.Time     `json:"at"`
}

// Status is a point-in-time view of a supervisor.
type Status struct {
	DeviceID     string         `json:"device_id"`
	State        device.State   `json:"state"`
	Display      *int           `json:"display,omitempty"`
	Desired      device.Config  `json:"desired"`
	Effective    *device.Config `json:"effective,omitempty"`
	Restarts     int            `json:"restarts"`
	LastExit     string         `json:"last_exit,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	NextAction   string         `json:"next_action,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	Processes    []ProcessInfo  `json:"processes,omitempty"`
	Logs         []string       `json:"logs,omitempty"`
}
