package registry

import (
	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/pty"
	"github.com/termcam/host/internal/storage"
	"github.com/termcam/host/internal/supervisor"
)

// OrphanStore lists and clears the process records left by an earlier
// host instance. *storage.SQLiteStore satisfies it.
type OrphanStore interface {
	ListProcessRecords() ([]storage.ProcessRecord, error)
	ClearAllProcessRecords() error
}

// KillFunc kills pid if its executable matches one of names.
type KillFunc func(pid int, names ...string) (bool, error)

var roleExecutables = map[string][]string{
	supervisor.RoleDisplay:  {"Xvfb"},
	supervisor.RoleTerminal: {"xterm"},
}

// ReapOrphans kills every recorded process that still runs the program
// its role implies, then clears the records. It must run before Restore.
// A nil kill uses pty.KillStale.
func ReapOrphans(store OrphanStore, kill KillFunc, log zerolog.Logger) (int, error) {
	if kill == nil {
		kill = pty.KillStale
	}

	records, err := store.ListProcessRecords()
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, rec := range records {
		names, ok := roleExecutables[rec.Role]
		if !ok {
			continue
		}
		ok, err := kill(rec.PID, names...)
		if err != nil {
			log.Warn().Err(err).Str("device", rec.DeviceID).Int("pid", rec.PID).Msg("killing orphan failed")
			continue
		}
		if ok {
			killed++
			log.Info().Str("device", rec.DeviceID).Str("role", rec.Role).Int("pid", rec.PID).Int("display", rec.Display).Msg("killed orphaned process")
		}
	}

	if err := store.ClearAllProcessRecords(); err != nil {
		return killed, err
	}
	return killed, nil
}
