// Package storage persists device configurations and live process records
// in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	// Pure-Go SQLite driver; registers "sqlite" without CGO.
	_ "modernc.org/sqlite"
)

// SQLiteStore is the host's SQLite-backed store. It creates the database
// and tables on first use and serializes access through an internal lock.
type SQLiteStore struct {
	db  *sql.DB      // Database connection handle.
	mu  sync.RWMutex // Guards all database operations.
	log zerolog.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// applies pending migrations. Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	log = log.With().Str("component", "storage").Logger()
	log.Debug().Str("path", path).Msg("opening database")

	// busy_timeout covers the CLI cleanup command racing a running host.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, log: log}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info().Int("schema_version", currentSchemaVersion).Msg("database ready")
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.log.Debug().Msg("closing database")
	return s.db.Close()
}
