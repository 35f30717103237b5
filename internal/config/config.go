// Package config loads the termcam host configuration from a TOML file.
//
// The default location is ~/.termcam/config.toml. Every field is optional;
// Normalize fills zero values with the defaults in defaults.go so callers
// can merge CLI flags first and normalize last.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds host-wide settings.
type Config struct {
	// Addr is the control API listen address.
	Addr string `toml:"addr"`

	// DataDir holds the database, Xauthority files and the Cygwin root.
	DataDir string `toml:"data_dir"`

	// DBPath overrides the SQLite database location.
	DBPath string `toml:"db_path"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	// MdnsEnabled advertises the control API on the LAN via zeroconf.
	MdnsEnabled bool `toml:"mdns_enabled"`

	// KeepAwake holds a sleep inhibitor while any device is running.
	KeepAwake bool `toml:"keep_awake"`

	// FontURLs are font files downloaded into the host's font directory
	// at startup.
	FontURLs []string `toml:"font_urls"`

	// InstallEnvironment forces the containerized provisioning strategy
	// when set to docker, lxc or lxc-docker.
	InstallEnvironment string `toml:"install_environment"`

	// EncoderArgs is forwarded untouched to the streaming collaborator.
	EncoderArgs string `toml:"encoder_args"`

	// DisplayBase and DisplayCount bound the reserved display namespace
	// [DisplayBase, DisplayBase+DisplayCount).
	DisplayBase  int `toml:"display_base"`
	DisplayCount int `toml:"display_count"`

	ReadyTimeout time.Duration `toml:"ready_timeout"`
	GracePeriod  time.Duration `toml:"grace_period"`
	StableAfter  time.Duration `toml:"stable_after"`

	BackoffInitial    time.Duration `toml:"backoff_initial"`
	BackoffMax        time.Duration `toml:"backoff_max"`
	BackoffMultiplier float64       `toml:"backoff_multiplier"`

	// MaxRestarts is the number of consecutive automatic restarts allowed
	// before a device is marked failed.
	MaxRestarts int `toml:"max_restarts"`

	// QueueSize bounds each device's supervisor command queue.
	QueueSize int `toml:"queue_size"`

	// HistoryLines is the per-process log tail kept in memory.
	HistoryLines int `toml:"history_lines"`
}

// DefaultConfigPath returns the default config file path (~/.termcam/config.toml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDataDir returns ~/.termcam.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termcam"), nil
}

// WriteDefault creates a starter config file at path.
// It leaves an existing file untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# termcam host configuration

# Control API (loopback only)
addr = %q

# Reserved X display range
display_base = %d
display_count = %d

# Restart policy
ready_timeout = %q
max_restarts = %d
backoff_initial = %q
backoff_max = %q

# Extra encoder arguments handed to the streaming pipeline, e.g. "-c:v h264_vaapi"
# encoder_args = ""
`, DefaultAddr, DefaultDisplayBase, DefaultDisplayCount,
		DefaultReadyTimeout.String(), DefaultMaxRestarts,
		DefaultBackoffInitial.String(), DefaultBackoffMax.String())

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a config file.
//
// If path is empty, the default location is tried; a missing default file
// yields an empty Config. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values that Normalize cannot repair.
func (c *Config) Validate() error {
	var problems []string

	if c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			problems = append(problems, fmt.Sprintf("addr %q: %v", c.Addr, err))
		}
	}

	switch c.InstallEnvironment {
	case "", "docker", "lxc", "lxc-docker":
	default:
		problems = append(problems, fmt.Sprintf("install_environment %q must be docker, lxc or lxc-docker", c.InstallEnvironment))
	}

	for _, raw := range c.FontURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("font_urls: %q is not an http(s) URL", raw))
		}
	}

	if c.DisplayBase < 0 {
		problems = append(problems, "display_base must not be negative")
	}
	if c.BackoffMultiplier != 0 && c.BackoffMultiplier < 1 {
		problems = append(problems, "backoff_multiplier must be at least 1")
	}
	if strings.ContainsAny(c.EncoderArgs, "\r\n") {
		problems = append(problems, "encoder_args must be a single line")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Normalize fills defaults and clamps values into their supported ranges.
func (c *Config) Normalize() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, DefaultDBName)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.DisplayBase == 0 {
		c.DisplayBase = DefaultDisplayBase
	}
	c.DisplayCount = clampInt(c.DisplayCount, DefaultDisplayCount, 1, MaxDisplayCount)

	c.ReadyTimeout = clampDuration(c.ReadyTimeout, DefaultReadyTimeout, 100*time.Millisecond, 5*time.Minute)
	c.GracePeriod = clampDuration(c.GracePeriod, DefaultGracePeriod, 10*time.Millisecond, time.Minute)
	c.StableAfter = clampDuration(c.StableAfter, DefaultStableAfter, 0, time.Hour)
	c.BackoffInitial = clampDuration(c.BackoffInitial, DefaultBackoffInitial, time.Millisecond, time.Hour)
	c.BackoffMax = clampDuration(c.BackoffMax, DefaultBackoffMax, c.BackoffInitial, time.Hour)
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}

	c.MaxRestarts = clampInt(c.MaxRestarts, DefaultMaxRestarts, 1, 100)
	c.QueueSize = clampInt(c.QueueSize, DefaultQueueSize, 1, 1024)
	c.HistoryLines = clampInt(c.HistoryLines, DefaultHistoryLines, 10, 100000)

	return nil
}

// XauthDir is where per-display Xauthority files are written.
func (c *Config) XauthDir() string {
	return filepath.Join(c.DataDir, "xauth")
}

// CygwinRoot is the portable Cygwin installation used on Windows.
func (c *Config) CygwinRoot() string {
	return filepath.Join(c.DataDir, "cygwin")
}

func clampInt(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, def, lo, hi time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
