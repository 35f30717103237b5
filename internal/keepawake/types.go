// Package keepawake holds an OS sleep inhibitor while any device is running.
//
// A sleeping host freezes every Xvfb display and with it every frame a
// streaming collaborator grabs. The Manager follows the registry's running
// count and acquires a process-scoped inhibitor on the first running device,
// releasing it when the last one stops.
package keepawake

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// State is the inhibitor state.
type State string

const (
	// StateOff means no inhibitor is held.
	StateOff State = "OFF"
	// StatePending means an acquire is in progress.
	StatePending State = "PENDING"
	// StateOn means the inhibitor is held.
	StateOn State = "ON"
	// StateDegraded means an inhibitor was wanted but could not be held.
	StateDegraded State = "DEGRADED"
)

// DegradedReason identifies why the manager entered StateDegraded.
type DegradedReason string

const (
	// DegradedReasonUnsupported means the OS offers no inhibitor we can run.
	DegradedReasonUnsupported DegradedReason = "unsupported"
	// DegradedReasonAcquireFailed means the inhibitor failed to start.
	DegradedReasonAcquireFailed DegradedReason = "acquire_failed"
	// DegradedReasonIntegrityLost means a held inhibitor exited on its own.
	DegradedReasonIntegrityLost DegradedReason = "integrity_lost"
)

// Status is a snapshot of the manager.
type Status struct {
	State   State          `json:"state"`
	Wanted  bool           `json:"wanted"`
	Running int            `json:"running"`
	Reason  DegradedReason `json:"reason,omitempty"`

	// LastError keeps the most recent failure, including release failures
	// that still settle at StateOff.
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	// Revision increments on every transition.
	Revision int64 `json:"revision"`
}

// Handle is an acquired inhibitor.
type Handle interface {
	// Done is closed when the inhibitor exits.
	Done() <-chan struct{}
	// Err returns the exit error once Done is closed.
	Err() error
	Release(ctx context.Context) error
}

// Adapter acquires OS-specific inhibitors.
type Adapter interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Options configures a Manager.
type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time

	Logger zerolog.Logger
}
