package registry

//go:generate mockgen -destination=mock_store.go -package=registry github.com/termcam/host/internal/registry Store

import (
	"time"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/storage"
	"github.com/termcam/host/internal/supervisor"
)

// Store persists desired configurations and the pids of live pairs.
// *storage.SQLiteStore satisfies it.
type Store interface {
	SaveDeviceConfig(id string, cfg device.Config) error
	DeleteDeviceConfig(id string) error
	ListDeviceConfigs() ([]*storage.DeviceRecord, error)
	ReplaceProcessRecords(deviceID string, records []storage.ProcessRecord) error
	ClearProcessRecords(deviceID string) error
}

// EventLog keeps a bounded transition history per device.
// *storage.SQLiteStore satisfies it.
type EventLog interface {
	SaveAndPruneDeviceEvent(ev *storage.DeviceEvent, maxRows int) error
	ListDeviceEvents(deviceID string, limit int) ([]*storage.DeviceEvent, error)
	DeleteDeviceEvents(deviceID string) error
}

// processRecorder adapts a Store to supervisor.ProcessRecorder.
type processRecorder struct {
	store Store
	now   func() time.Time
}

func (p processRecorder) RecordProcesses(deviceID string, display int, procs []supervisor.ProcessInfo) error {
	started := p.now()
	records := make([]storage.ProcessRecord, 0, len(procs))
	for _, proc := range procs {
		records = append(records, storage.ProcessRecord{
			DeviceID:  deviceID,
			Role:      proc.Role,
			PID:       proc.PID,
			Display:   display,
			StartedAt: started,
		})
	}
	return p.store.ReplaceProcessRecords(deviceID, records)
}

func (p processRecorder) ClearProcesses(deviceID string) error {
	return p.store.ClearProcessRecords(deviceID)
}

func eventRecord(ev supervisor.Event) *storage.DeviceEvent {
	return &storage.DeviceEvent{
		DeviceID:  ev.DeviceID,
		State:     string(ev.State),
		From:      string(ev.From),
		Display:   ev.Display,
		Restarts:  ev.Restarts,
		ErrorCode: ev.ErrorCode,
		Message:   ev.ErrorMessage,
		At:        ev.At,
	}
}
