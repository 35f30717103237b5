package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/registry"
	"github.com/termcam/host/internal/storage"
)

// cleanupKill is the kill function handed to ReapOrphans; nil means the
// real process-tree kill. Tests replace it.
var cleanupKill registry.KillFunc

func runCleanup(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	dataDir := fs.String("data-dir", "", "Data directory (default: ~/.termcam)")
	force := fs.Bool("force", false, "Run even if a host answers on the configured address")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam cleanup [options]\n\nKill Xvfb and terminal processes recorded by a host that did not shut down cleanly.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := loadStartConfig(&StartConfig{Config: *configPath, DataDir: *dataDir}, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// A live host owns its records; reaping them would kill running devices.
	if !*force {
		if _, err := doctorQueryStatus(cfg.Addr); err == nil {
			fmt.Fprintf(stderr, "Error: a host is running at %s; stop it first or pass --force\n", cfg.Addr)
			return 1
		}
	}

	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No process records found.")
		return 0
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open storage: %v\n", err)
		return 1
	}
	defer store.Close()

	killed, err := registry.ReapOrphans(store, cleanupKill, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Killed %d orphaned processes.\n", killed)
	return 0
}
