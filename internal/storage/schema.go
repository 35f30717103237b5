package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 3

// initSchema creates the schema_version table and applies every migration
// newer than the recorded version.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	migrations := []func() error{
		s.migrateToV1,
		s.migrateToV2,
		s.migrateToV3,
	}
	for i, migrate := range migrations {
		if version >= i+1 {
			continue
		}
		if err := migrate(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", i+1, err)
		}
	}

	return nil
}

// migrateToV1 creates the device_configs table holding desired configs.
func (s *SQLiteStore) migrateToV1() error {
	const table = `
		CREATE TABLE IF NOT EXISTS device_configs (
			id TEXT PRIMARY KEY,
			terminal_program TEXT NOT NULL,
			terminal_columns INTEGER NOT NULL,
			terminal_rows INTEGER NOT NULL,
			font_name TEXT NOT NULL DEFAULT '',
			font_size INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	return s.applyMigration(1, table)
}

// migrateToV2 creates process_records, used to kill orphans left behind by
// a host that crashed.
func (s *SQLiteStore) migrateToV2() error {
	const table = `
		CREATE TABLE IF NOT EXISTS process_records (
			device_id TEXT NOT NULL,
			role TEXT NOT NULL,
			pid INTEGER NOT NULL,
			display INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			PRIMARY KEY (device_id, role)
		);
	`
	return s.applyMigration(2, table)
}

// migrateToV3 creates the device_events table, a bounded lifecycle history.
func (s *SQLiteStore) migrateToV3() error {
	const table = `
		CREATE TABLE IF NOT EXISTS device_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state TEXT NOT NULL,
			from_state TEXT NOT NULL DEFAULT '',
			display INTEGER,
			restarts INTEGER NOT NULL DEFAULT 0,
			error_code TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_device_events_device ON device_events(device_id, id);
	`
	return s.applyMigration(3, table)
}

func (s *SQLiteStore) applyMigration(version int, ddl string) error {
	s.log.Info().Int("version", version).Msg("applying migration")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

// tableExists reports whether a table exists in the current database.
func (s *SQLiteStore) tableExists(name string) (bool, error) {
	var table string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return table == name, nil
}

// SchemaVersion returns the current database schema version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
