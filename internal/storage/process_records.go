package storage

// process_records.go tracks the OS processes of live pairs. Rows are
// written on spawn and deleted once termination is confirmed, so rows that
// survive a host restart point at orphans.

import (
	"fmt"
	"time"
)

// ProcessRecord is one live display server or terminal.
type ProcessRecord struct {
	DeviceID  string
	Role      string
	PID       int
	Display   int
	StartedAt time.Time
}

// ReplaceProcessRecords replaces every record of a device in one
// transaction.
func (s *SQLiteStore) ReplaceProcessRecords(deviceID string, records []ProcessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM process_records WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("clear process records: %w", err)
	}

	const insert = `
		INSERT INTO process_records (device_id, role, pid, display, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, r := range records {
		startedAt := r.StartedAt
		if startedAt.IsZero() {
			startedAt = time.Now()
		}
		if _, err := tx.Exec(insert, deviceID, r.Role, r.PID, r.Display, startedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert process record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit process records: %w", err)
	}
	return nil
}

// ClearProcessRecords deletes every record of a device.
func (s *SQLiteStore) ClearProcessRecords(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM process_records WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("clear process records: %w", err)
	}
	return nil
}

// ListProcessRecords returns every record ordered by device and role.
func (s *SQLiteStore) ListProcessRecords() ([]ProcessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT device_id, role, pid, display, started_at
		FROM process_records
		ORDER BY device_id ASC, role ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query process records: %w", err)
	}
	defer rows.Close()

	var records []ProcessRecord
	for rows.Next() {
		var (
			r         ProcessRecord
			startedAt string
		)
		if err := rows.Scan(&r.DeviceID, &r.Role, &r.PID, &r.Display, &startedAt); err != nil {
			return nil, fmt.Errorf("scan process record: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate process record rows: %w", err)
	}
	return records, nil
}

// ClearAllProcessRecords deletes every record, after orphan cleanup.
func (s *SQLiteStore) ClearAllProcessRecords() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM process_records"); err != nil {
		return fmt.Errorf("clear all process records: %w", err)
	}
	return nil
}
