// Package x11 launches the Xvfb + xterm pair behind a virtual camera.
//
// Each pair gets its own Xauthority file with a fresh MIT cookie. The
// display server counts as ready once its unix socket accepts a
// connection; the terminal counts as ready once it has survived a short
// settle interval.
package x11

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/platform"
	"github.com/termcam/host/internal/pty"
	"github.com/termcam/host/internal/supervisor"
)

const (
	// DefaultSocketDir is where X servers create their unix sockets.
	DefaultSocketDir    = "/tmp/.X11-unix"
	defaultPollInterval = 50 * time.Millisecond
	defaultSettleDelay  = time.Second
	dialTimeout         = 200 * time.Millisecond
)

// FontResolver maps a configured font to an xterm -fa family, "" meaning
// the built-in font. *fonts.Catalog satisfies it.
type FontResolver interface {
	Resolve(ctx context.Context, name string) string
}

// Options configures a Launcher.
type Options struct {
	// XauthDir holds the per-display Xauthority files.
	XauthDir     string
	SocketDir    string
	PollInterval time.Duration
	SettleDelay  time.Duration
	HistoryLines int
	Fonts        FontResolver
	Logger       zerolog.Logger
	// SocketReady overrides the display readiness probe.
	SocketReady func(display int) bool
}

// Launcher is the supervisor.Launcher for X11 hosts.
type Launcher struct {
	opts Options
	log  zerolog.Logger
}

// New creates a Launcher.
func New(opts Options) *Launcher {
	if opts.SocketDir == "" {
		opts.SocketDir = DefaultSocketDir
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.SocketReady == nil {
		opts.SocketReady = socketProbe(opts.SocketDir)
	}
	return &Launcher{opts: opts, log: opts.Logger}
}

// Launch implements supervisor.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Pair, error) {
	tc := spec.Toolchain
	log := l.log.With().Str("device", spec.DeviceID).Int("display", spec.Display).Logger()

	base := tc.Env
	if base == nil {
		base = os.Environ()
	}

	xauth, err := l.writeCookie(ctx, spec.Display, tc.Xauth, base)
	if err != nil {
		return nil, err
	}

	env := append(append([]string(nil), base...), fmt.Sprintf("DISPLAY=:%d", spec.Display))
	if xauth != "" {
		env = append(env, "XAUTHORITY="+xauth)
	}

	geometry := spec.Config.ScreenGeometry()
	display, err := pty.Start(pty.Config{
		Name:         supervisor.RoleDisplay,
		Path:         tc.Xvfb,
		Args:         XvfbArgs(spec.Display, geometry, xauth),
		Env:          env,
		HistoryLines: l.opts.HistoryLines,
		OnLine:       lineLogger(log, supervisor.RoleDisplay),
	})
	if err != nil {
		removeCookie(xauth)
		return nil, errors.ProcessSpawnFailed(supervisor.RoleDisplay, err)
	}
	log.Info().Int("pid", display.PID()).Str("geometry", geometry.String()).Msg("display server started")

	font := ""
	if l.opts.Fonts != nil {
		font = l.opts.Fonts.Resolve(ctx, spec.Config.FontName)
	}

	p := &pair{
		log:         log,
		displayNum:  spec.Display,
		xauth:       xauth,
		display:     display,
		socketReady: l.opts.SocketReady,
		poll:        l.opts.PollInterval,
		settle:      l.opts.SettleDelay,
		source: frame.Source{
			Display:    spec.Display,
			Geometry:   geometry,
			XAuthority: xauth,
			FFmpeg:     tc.FFmpeg,
		},
		terminalCfg: pty.Config{
			Name:         supervisor.RoleTerminal,
			Path:         tc.Xterm,
			Args:         XtermArgs(spec.Config, font, tc.Class),
			Env:          env,
			HistoryLines: l.opts.HistoryLines,
			OnLine:       lineLogger(log, supervisor.RoleTerminal),
		},
		ready:  make(chan struct{}),
		exited: make(chan supervisor.Exit, 1),
		stop:   make(chan struct{}),
		upDone: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go p.watch(supervisor.RoleDisplay, display)
	go p.bringUp()
	go p.reap()
	return p, nil
}

// writeCookie creates the display's Xauthority file. Without an xauth
// binary the display runs without access control and "" is returned.
func (l *Launcher) writeCookie(ctx context.Context, display int, xauthBin string, env []string) (string, error) {
	if xauthBin == "" {
		return "", nil
	}
	if err := os.MkdirAll(l.opts.XauthDir, 0o700); err != nil {
		return "", errors.ProcessSpawnFailed("xauth", err)
	}

	path := filepath.Join(l.opts.XauthDir, fmt.Sprintf("Xauthority%d", display))
	removeCookie(path)

	cookie := strings.ReplaceAll(uuid.NewString(), "-", "")
	cmd := exec.CommandContext(ctx, xauthBin, "-f", path, "add", fmt.Sprintf(":%d", display), ".", cookie)
	cmd.Env = env
	if out, err := cmd.CombinedOutput(); err != nil {
		removeCookie(path)
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", errors.ProcessSpawnFailed("xauth", err)
	}
	return path, nil
}

func removeCookie(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// XvfbArgs returns the display server arguments.
func XvfbArgs(display int, geometry device.Geometry, xauth string) []string {
	args := []string{
		fmt.Sprintf(":%d", display),
		"-screen", "0", fmt.Sprintf("%sx24", geometry),
		"-nolisten", "tcp",
	}
	if xauth != "" {
		args = append(args, "-auth", xauth)
	}
	return args
}

// XtermArgs returns the terminal arguments. font is an xterm -fa family or
// "" for the default font.
func XtermArgs(cfg device.Config, font string, class platform.Class) []string {
	args := []string{"+sb", "-en", "UTF-8"}
	if font != "" {
		args = append(args, "-fa", font)
	}
	args = append(args, "-fs", strconv.Itoa(cfg.EffectiveFontSize()))
	if class == platform.ClassCygwin {
		args = append(args, "+tb", "-fullscreen")
	}
	args = append(args,
		"-geometry", fmt.Sprintf("%dx%d+0+0", cfg.TerminalColumns, cfg.TerminalRows),
		"-maximized",
		"-e", "/bin/sh", "-c", cfg.TerminalProgram,
	)
	return args
}

func socketProbe(dir string) func(int) bool {
	return func(display int) bool {
		conn, err := net.DialTimeout("unix", filepath.Join(dir, fmt.Sprintf("X%d", display)), dialTimeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

func lineLogger(log zerolog.Logger, role string) func(string) {
	return func(line string) {
		log.Debug().Str("role", role).Msg(line)
	}
}
