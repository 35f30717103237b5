package storage

// device_configs.go contains SQLiteStore methods for desired device
// configurations. A row exists for every registered device.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/termcam/host/internal/device"
)

// DeviceRecord is a persisted desired configuration.
type DeviceRecord struct {
	ID        string
	Config    device.Config
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveDeviceConfig inserts or replaces the desired config of a device.
// created_at is kept across updates.
func (s *SQLiteStore) SaveDeviceConfig(id string, cfg device.Config) error {
	if id == "" {
		return errors.New("device id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	const query = `
		INSERT INTO device_configs
			(id, terminal_program, terminal_columns, terminal_rows, font_name, font_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			terminal_program = excluded.terminal_program,
			terminal_columns = excluded.terminal_columns,
			terminal_rows = excluded.terminal_rows,
			font_name = excluded.font_name,
			font_size = excluded.font_size,
			updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		id,
		cfg.TerminalProgram,
		cfg.TerminalColumns,
		cfg.TerminalRows,
		cfg.FontName,
		cfg.FontSize,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("save device config: %w", err)
	}

	s.log.Debug().Str("device", id).Msg("saved device config")
	return nil
}

// GetDeviceConfig retrieves a device's desired config.
// Returns nil, nil if the device does not exist.
func (s *SQLiteStore) GetDeviceConfig(id string) (*DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, terminal_program, terminal_columns, terminal_rows, font_name, font_size, created_at, updated_at
		FROM device_configs
		WHERE id = ?
	`

	rec, err := scanDeviceRecord(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device config: %w", err)
	}
	return rec, nil
}

// ListDeviceConfigs returns every persisted device ordered by id.
func (s *SQLiteStore) ListDeviceConfigs() ([]*DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, terminal_program, terminal_columns, terminal_rows, font_name, font_size, created_at, updated_at
		FROM device_configs
		ORDER BY id ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query device configs: %w", err)
	}
	defer rows.Close()

	var records []*DeviceRecord
	for rows.Next() {
		rec, err := scanDeviceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device config: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device config rows: %w", err)
	}

	return records, nil
}

// DeleteDeviceConfig removes a device's config together with its process
// records. Deleting an unknown device is a no-op.
func (s *SQLiteStore) DeleteDeviceConfig(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM device_configs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete device config: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM process_records WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("delete process records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit device delete: %w", err)
	}

	s.log.Debug().Str("device", id).Msg("deleted device config")
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRecord(row rowScanner) (*DeviceRecord, error) {
	var (
		rec       DeviceRecord
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&rec.ID,
		&rec.Config.TerminalProgram,
		&rec.Config.TerminalColumns,
		&rec.Config.TerminalRows,
		&rec.Config.FontName,
		&rec.Config.FontSize,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}
