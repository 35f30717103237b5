package config

import "time"

// DefaultAddr is the default listen address for the control API.
const DefaultAddr = "127.0.0.1:7171"

// DefaultDBName is the database file created under the data directory.
const DefaultDBName = "termcam.db"

const DefaultLogLevel = "info"

// Display namespace. X displays below 100 are left to desktop sessions.
const (
	DefaultDisplayBase  = 100
	DefaultDisplayCount = 100
	MaxDisplayCount     = 1000
)

// Supervisor policy defaults.
const (
	DefaultReadyTimeout      = 15 * time.Second
	DefaultGracePeriod       = 5 * time.Second
	DefaultStableAfter       = 15 * time.Second
	DefaultBackoffInitial    = time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxRestarts       = 5
	DefaultQueueSize         = 16
	DefaultHistoryLines      = 200
)
