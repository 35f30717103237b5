package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/config"
	"github.com/termcam/host/internal/display"
	"github.com/termcam/host/internal/fonts"
	"github.com/termcam/host/internal/frame"
	"github.com/termcam/host/internal/keepawake"
	"github.com/termcam/host/internal/logger"
	"github.com/termcam/host/internal/mdns"
	"github.com/termcam/host/internal/platform"
	"github.com/termcam/host/internal/registry"
	"github.com/termcam/host/internal/server"
	"github.com/termcam/host/internal/storage"
	"github.com/termcam/host/internal/supervisor"
	"github.com/termcam/host/internal/x11"
)

const shutdownTimeout = 15 * time.Second

// StartConfig holds the flags of "termcam start".
type StartConfig struct {
	Config       string
	Addr         string
	DataDir      string
	LogLevel     string
	LogFile      string
	EncoderArgs  string
	DisplayBase  int
	DisplayCount int
	MdnsEnabled  bool
	KeepAwake    bool
}

// loadStartConfig merges the config file under the CLI flags and
// normalizes the result.
func loadStartConfig(cfg *StartConfig, explicit map[string]bool) (*config.Config, error) {
	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		return nil, err
	}

	if cfg.Addr != "" {
		fileCfg.Addr = cfg.Addr
	}
	if cfg.DataDir != "" {
		fileCfg.DataDir = cfg.DataDir
	}
	if cfg.LogLevel != "" {
		fileCfg.LogLevel = cfg.LogLevel
	}
	if cfg.LogFile != "" {
		fileCfg.LogFile = cfg.LogFile
	}
	if cfg.EncoderArgs != "" {
		fileCfg.EncoderArgs = cfg.EncoderArgs
	}
	if cfg.DisplayBase != 0 {
		fileCfg.DisplayBase = cfg.DisplayBase
	}
	if cfg.DisplayCount != 0 {
		fileCfg.DisplayCount = cfg.DisplayCount
	}
	// Booleans only override when given, so --mdns=false beats the file.
	if explicit["mdns"] {
		fileCfg.MdnsEnabled = cfg.MdnsEnabled
	}
	if explicit["keep-awake"] {
		fileCfg.KeepAwake = cfg.KeepAwake
	}

	if err := fileCfg.Normalize(); err != nil {
		return nil, err
	}
	if err := fileCfg.Validate(); err != nil {
		return nil, err
	}
	return fileCfg, nil
}

func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &StartConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.termcam/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Control API address, loopback only (default: "+config.DefaultAddr+")")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "Directory for the database and X authority files (default: ~/.termcam)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Log file path (default: stderr)")
	fs.StringVar(&cfg.EncoderArgs, "encoder-args", "", "Extra encoder arguments handed to streaming clients")
	fs.IntVar(&cfg.DisplayBase, "display-base", 0, "First reserved X display number")
	fs.IntVar(&cfg.DisplayCount, "display-count", 0, "Number of reserved X displays")
	fs.BoolVar(&cfg.MdnsEnabled, "mdns", false, "Advertise the host over mDNS/Bonjour")
	fs.BoolVar(&cfg.KeepAwake, "keep-awake", false, "Keep the machine awake while devices run")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam start [options]\n\nStart the host daemon and restore persisted devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	hostCfg, err := loadStartConfig(cfg, explicit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.Config == "" {
		if path, err := config.DefaultConfigPath(); err == nil {
			if err := config.WriteDefault(path); err != nil {
				fmt.Fprintf(stderr, "Warning: %v\n", err)
			}
		}
	}

	logOutput := "stderr"
	if hostCfg.LogFile != "" {
		logOutput = hostCfg.LogFile
	}
	log, logCloser, err := logger.New(logger.Config{Level: hostCfg.LogLevel, Output: logOutput})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	h, err := newHost(hostCfg, log)
	if err != nil {
		log.Error().Err(err).Msg("host startup failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := <-h.server.StartAsync(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		h.close()
		return 1
	}

	if h.advertiser != nil {
		if err := h.advertiser.Start(); err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement unavailable")
		}
	}
	h.startBackground()

	fmt.Fprintf(stdout, "termcam %s listening on http://%s (platform: %s)\n", Version, h.server.Addr(), h.platformName())
	fmt.Fprintf(stdout, "Follow device events with 'termcam events'.\n")

	restoreCtx, cancelRestore := context.WithCancel(context.Background())
	restored := make(chan struct{})
	go func() {
		defer close(restored)
		n, err := h.registry.Restore(restoreCtx)
		if err != nil {
			log.Error().Err(err).Msg("restoring devices failed")
			return
		}
		log.Info().Int("devices", n).Msg("devices restored")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	cancelRestore()
	<-restored
	h.close()
	return 0
}

// host wires the long-lived components of a running daemon.
type host struct {
	cfg *config.Config
	log zerolog.Logger

	store       *storage.SQLiteStore
	provisioner *platform.Provisioner
	registry    *registry.Registry
	server      *server.Server
	catalog     *fonts.Catalog
	keepAwake   *keepawake.Manager
	advertiser  *mdns.Advertiser

	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// newHost builds every component but starts nothing that listens.
// Orphans left by a crashed predecessor are killed before any device
// can claim a display.
func newHost(cfg *config.Config, log zerolog.Logger) (*host, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, logger.WithComponent(log, "storage"))
	if err != nil {
		return nil, err
	}

	if killed, err := registry.ReapOrphans(store, nil, logger.WithComponent(log, "cleanup")); err != nil {
		log.Warn().Err(err).Msg("orphan cleanup failed")
	} else if killed > 0 {
		log.Info().Int("killed", killed).Msg("killed orphaned processes")
	}

	h := &host{cfg: cfg, log: log, store: store}
	h.provisioner = newProvisioner(cfg, logger.WithComponent(log, "platform"))

	allocator := display.NewAllocator(display.Options{
		Base:   cfg.DisplayBase,
		Count:  cfg.DisplayCount,
		Busy:   display.LockFileBusy(display.LockDir),
		Logger: logger.WithComponent(log, "display"),
	})
	frames := frame.NewPublisher(cfg.EncoderArgs)
	h.catalog = fonts.NewCatalog(h.provisioner.Ensure, nil, logger.WithComponent(log, "fonts"))
	launcher := x11.New(x11.Options{
		XauthDir:     cfg.XauthDir(),
		HistoryLines: cfg.HistoryLines,
		Fonts:        h.catalog,
		Logger:       logger.WithComponent(log, "x11"),
	})

	if cfg.KeepAwake {
		h.keepAwake = keepawake.NewManager(keepawake.NewDefaultAdapter(), keepawake.Options{
			Logger: logger.WithComponent(log, "keepawake"),
		})
	}
	if cfg.MdnsEnabled {
		h.advertiser = mdns.NewAdvertiser(mdns.Config{Port: portOf(cfg.Addr)})
	}

	h.registry = registry.New(registry.Options{
		Provisioner:    h.provisioner,
		Allocator:      allocator,
		Launcher:       launcher,
		Frames:         frames,
		Store:          store,
		EventLog:       store,
		Policy:         supervisor.PolicyFromConfig(cfg),
		Logger:         log,
		OnActiveChange: h.onActiveChange,
	})

	h.server = server.New(server.Options{
		Addr:     cfg.Addr,
		Version:  Version,
		Devices:  h.registry,
		Frames:   frames,
		Platform: h.provisioner,
		Fonts:    h.catalog,
		Logger:   log,
	})

	return h, nil
}

// newProvisioner selects the platform strategy. An unsupported host still
// gets a provisioner so the API can report why devices cannot start.
func newProvisioner(cfg *config.Config, log zerolog.Logger) *platform.Provisioner {
	sys := platform.OSSystem(runtime.GOOS)
	class, err := platform.Detect(sys, cfg.InstallEnvironment)
	if err != nil {
		return platform.NewUnsupported(err, log)
	}
	variant, err := platform.NewVariant(class, sys, cfg.DataDir)
	if err != nil {
		return platform.NewUnsupported(err, log)
	}
	return platform.NewProvisioner(variant, log)
}

// portOf returns the port of a host:port address, or 0.
func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// startBackground runs the host companions: the Cygwin IPC daemon and
// the download of configured fonts. Both stop when the host closes.
func (h *host) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	h.bgCancel = cancel

	if h.provisioner.Class() == platform.ClassCygwin {
		h.bg.Add(1)
		go func() {
			defer h.bg.Done()
			h.runCygserver(ctx)
		}()
	}

	if len(h.cfg.FontURLs) > 0 {
		h.bg.Add(1)
		go func() {
			defer h.bg.Done()
			h.installFonts(ctx)
		}()
	}
}

func (h *host) runCygserver(ctx context.Context) {
	log := logger.WithComponent(h.log, "cygserver")
	tc, err := h.provisioner.Ensure(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cygserver not started, toolchain unavailable")
		return
	}
	if err := x11.NewCygserver(tc, x11.CygserverOptions{Logger: log}).Run(ctx); err != nil {
		log.Warn().Err(err).Msg("cygserver unavailable")
	}
}

func (h *host) installFonts(ctx context.Context) {
	results, err := h.catalog.Install(ctx, h.cfg.FontURLs)
	if err != nil {
		h.log.Warn().Err(err).Msg("font install skipped")
		return
	}
	installed := 0
	for _, r := range results {
		if r.Valid {
			installed++
		}
	}
	h.log.Info().Int("installed", installed).Int("requested", len(results)).Msg("configured fonts processed")
}

func (h *host) onActiveChange(running int) {
	if h.keepAwake != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		h.keepAwake.Track(ctx, running)
		cancel()
	}
	if h.advertiser != nil {
		h.advertiser.SetDevices(running)
	}
}

func (h *host) platformName() string {
	if c := h.provisioner.Class(); c != "" {
		return string(c)
	}
	return "unsupported"
}

// close stops everything in reverse order of creation. Device
// configurations stay persisted for the next start.
func (h *host) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if h.advertiser != nil {
		h.advertiser.Stop()
	}
	if err := h.server.Stop(ctx); err != nil {
		h.log.Warn().Err(err).Msg("control API shutdown failed")
	}
	if err := h.registry.Shutdown(ctx); err != nil {
		h.log.Warn().Err(err).Msg("device shutdown incomplete")
	}
	// Displays are gone, so cygserver can stop.
	if h.bgCancel != nil {
		h.bgCancel()
		h.bg.Wait()
	}
	if h.keepAwake != nil {
		if err := h.keepAwake.Close(ctx); err != nil {
			h.log.Warn().Err(err).Msg("keep-awake release failed")
		}
	}
	if err := h.store.Close(); err != nil {
		h.log.Warn().Err(err).Msg("closing storage failed")
	}
}
