package x11

import (
	"context"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/platform"
	"github.com/termcam/host/internal/pty"
)

const (
	roleCygserver              = "cygserver"
	defaultCygserverRestart    = 5 * time.Second
	cygserverStopGrace         = 2 * time.Second
	cygserverConfigureDeadline = time.Minute
)

// CygserverOptions tunes a Cygserver. Zero values use the defaults.
type CygserverOptions struct {
	RestartDelay time.Duration
	Logger       zerolog.Logger
}

// Cygserver keeps the Cygwin IPC daemon running for the lifetime of the
// host. Xvfb on Cygwin needs it for shared memory, so it is restarted
// whenever it exits.
type Cygserver struct {
	tc     platform.Toolchain
	delay  time.Duration
	log    zerolog.Logger
	starts atomic.Int64
}

// NewCygserver creates a runner for the daemon in tc.
func NewCygserver(tc platform.Toolchain, opts CygserverOptions) *Cygserver {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultCygserverRestart
	}
	return &Cygserver{tc: tc, delay: opts.RestartDelay, log: opts.Logger}
}

// Starts reports how many times the daemon has been started.
func (c *Cygserver) Starts() int {
	return int(c.starts.Load())
}

// Run writes the daemon's default configuration, then runs it and
// restarts it after every exit until ctx ends.
func (c *Cygserver) Run(ctx context.Context) error {
	if c.tc.Cygserver == "" {
		return errors.MissingDependency(platform.ArtifactCygserver)
	}
	c.configure(ctx)

	for {
		proc, err := pty.Start(pty.Config{
			Name:         roleCygserver,
			Path:         c.tc.Cygserver,
			Env:          c.tc.Env,
			HistoryLines: 20,
			OnLine:       lineLogger(c.log, roleCygserver),
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("cygserver failed to start")
		} else {
			c.starts.Add(1)
			c.log.Info().Int("pid", proc.PID()).Msg("cygserver started")

			select {
			case <-proc.Done():
				c.log.Warn().Int("exit_code", proc.ExitCode()).Strs("tail", proc.Tail(5)).
					Dur("restart_in", c.delay).Msg("cygserver exited")
			case <-ctx.Done():
				c.stop(proc)
				return nil
			}
		}

		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// configure runs cygserver-config through the Cygwin shell. Failures are
// logged only: an existing configuration makes the script exit non-zero.
func (c *Cygserver) configure(ctx context.Context) {
	if c.tc.Shell == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cygserverConfigureDeadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.tc.Shell, "-l", "-c", "cygserver-config -n")
	cmd.Env = c.tc.Env
	if out, err := cmd.CombinedOutput(); err != nil {
		c.log.Debug().Err(err).Str("output", string(out)).Msg("cygserver-config did not complete")
	}
}

func (c *Cygserver) stop(proc *pty.Process) {
	_ = proc.Terminate()
	select {
	case <-proc.Done():
	case <-time.After(cygserverStopGrace):
		_ = proc.Kill()
		<-proc.Done()
	}
	c.log.Info().Msg("cygserver stopped")
}
