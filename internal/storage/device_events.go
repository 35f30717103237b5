package storage

// device_events.go keeps a bounded history of lifecycle transitions for
// status and debugging.

import (
	"database/sql"
	"fmt"
	"time"
)

// DeviceEvent is a persisted lifecycle transition.
type DeviceEvent struct {
	ID        int64
	DeviceID  string
	State     string
	From      string
	Display   *int
	Restarts  int
	ErrorCode string
	Message   string
	At        time.Time
}

// SaveAndPruneDeviceEvent inserts an event and prunes the device's history
// beyond maxRows in a single transaction.
func (s *SQLiteStore) SaveAndPruneDeviceEvent(ev *DeviceEvent, maxRows int) error {
	if ev == nil {
		return fmt.Errorf("device event cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var display sql.NullInt64
	if ev.Display != nil {
		display = sql.NullInt64{Int64: int64(*ev.Display), Valid: true}
	}

	const insertQuery = `
		INSERT INTO device_events
			(device_id, state, from_state, display, restarts, error_code, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.Exec(insertQuery,
		ev.DeviceID,
		ev.State,
		ev.From,
		display,
		ev.Restarts,
		ev.ErrorCode,
		ev.Message,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert device event: %w", err)
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM device_events
			WHERE device_id = ? AND id NOT IN (
				SELECT id FROM device_events WHERE device_id = ? ORDER BY id DESC LIMIT ?
			)
		`
		if _, err := tx.Exec(pruneQuery, ev.DeviceID, ev.DeviceID, maxRows); err != nil {
			return fmt.Errorf("prune device events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit device event: %w", err)
	}
	return nil
}

// ListDeviceEvents returns a device's events, newest first.
func (s *SQLiteStore) ListDeviceEvents(deviceID string, limit int) ([]*DeviceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, device_id, state, from_state, display, restarts, error_code, message, at
		FROM device_events
		WHERE device_id = ?
		ORDER BY id DESC
	`
	args := []any{deviceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query device events: %w", err)
	}
	defer rows.Close()

	var events []*DeviceEvent
	for rows.Next() {
		var (
			ev      DeviceEvent
			display sql.NullInt64
			atStr   string
		)
		err := rows.Scan(
			&ev.ID,
			&ev.DeviceID,
			&ev.State,
			&ev.From,
			&display,
			&ev.Restarts,
			&ev.ErrorCode,
			&ev.Message,
			&atStr,
		)
		if err != nil {
			return nil, fmt.Errorf("scan device event row: %w", err)
		}
		if display.Valid {
			d := int(display.Int64)
			ev.Display = &d
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, atStr); err != nil {
			return nil, fmt.Errorf("parse device event at: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device event rows: %w", err)
	}
	return events, nil
}

// DeleteDeviceEvents drops a device's history.
func (s *SQLiteStore) DeleteDeviceEvents(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM device_events WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("delete device events: %w", err)
	}
	return nil
}
