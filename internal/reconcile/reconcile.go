// Package reconcile decides how a device converges on a new desired
// configuration. There is no soft-apply path: any difference in the
// configuration restarts the pair.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/device"
)

// Decision is the action taken for an update.
type Decision string

const (
	NoOp    Decision = "noop"
	Restart Decision = "restart"
	Start   Decision = "start"
)

// Target is the device being reconciled. *supervisor.Supervisor satisfies it.
type Target interface {
	State() device.State
	Desired() device.Config
	Effective() *device.Config
	Start(ctx context.Context, cfg device.Config) error
	Stop(ctx context.Context) error
}

// Decide picks the action for moving a device in state, running effective
// (nil if none) and last requested desired, to next.
//
// Stopped and Failed devices always start, so re-submitting an identical
// config is how an operator retries a failed device.
func Decide(state device.State, effective *device.Config, desired, next device.Config) Decision {
	if state.Idle() {
		return Start
	}
	if state == device.StateStopping {
		return Restart
	}

	current := desired
	if effective != nil {
		current = *effective
	}
	if current.Equal(next) {
		return NoOp
	}
	return Restart
}

// Reconciler applies decisions to targets.
type Reconciler struct {
	log zerolog.Logger
}

// New creates a Reconciler.
func New(log zerolog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Reconcile converges target on cfg and returns the decision taken. The
// error is that of the stop or start it performed.
func (r *Reconciler) Reconcile(ctx context.Context, id string, target Target, cfg device.Config) (Decision, error) {
	d := Decide(target.State(), target.Effective(), target.Desired(), cfg)
	log := r.log.With().Str("device", id).Str("decision", string(d)).Logger()

	switch d {
	case NoOp:
		log.Debug().Msg("configuration unchanged")
		return d, nil
	case Restart:
		log.Info().Msg("configuration changed, restarting")
		if err := target.Stop(ctx); err != nil {
			return d, fmt.Errorf("stop %s: %w", id, err)
		}
	case Start:
		log.Info().Msg("starting device")
	}

	return d, target.Start(ctx, cfg)
}
