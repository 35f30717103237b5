package keepawake

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/errors"
)

// Manager owns the inhibitor lifecycle.
type Manager struct {
	mu sync.Mutex

	adapter Adapter
	now     func() time.Time
	log     zerolog.Logger

	status    Status
	inhibitor Handle
	closed    bool
	// watchGen invalidates watchers of released inhibitors.
	watchGen uint64
}

// NewManager creates a manager in StateOff.
func NewManager(adapter Adapter, opts Options) *Manager {
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}

	return &Manager{
		adapter: adapter,
		now:     clock,
		log:     opts.Logger,
		status: Status{
			State:     StateOff,
			UpdatedAt: clock(),
		},
	}
}

// Snapshot returns a copy of the current status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Track reconciles the inhibitor with the number of running devices: held
// while running > 0, released at zero.
func (m *Manager) Track(ctx context.Context, running int) Status {
	m.mu.Lock()
	m.status.Running = running
	m.mu.Unlock()

	if running > 0 {
		return m.enable(ctx)
	}
	return m.disable(ctx)
}

// Close releases the inhibitor and blocks until the release completes.
// Track is a no-op afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.status.Wanted = false

	held := m.inhibitor
	m.inhibitor = nil
	m.watchGen++
	m.setStateLocked(StateOff, "", "")
	m.mu.Unlock()

	if held == nil {
		return nil
	}

	if err := held.Release(ctx); err != nil {
		m.mu.Lock()
		m.noteFailureLocked(err.Error())
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) enable(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}

	if m.status.Wanted && m.status.State == StateOn && m.inhibitor != nil {
		select {
		case <-m.inhibitor.Done():
			// Exited without the watcher noticing yet; reacquire below.
			reason := "inhibitor exited unexpectedly"
			if err := m.inhibitor.Err(); err != nil {
				reason = err.Error()
			}
			m.inhibitor = nil
			m.watchGen++
			m.setStateLocked(StateDegraded, DegradedReasonIntegrityLost, reason)
		default:
			defer m.mu.Unlock()
			return m.status
		}
	}

	m.status.Wanted = true
	m.setStateLocked(StatePending, "", "")
	m.mu.Unlock()

	h, err := m.adapter.Acquire(ctx)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateDegraded, classifyAcquireReason(err), err.Error())
		st := m.status
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("reason", string(st.Reason)).Msg("keep-awake unavailable")
		return st
	}

	m.mu.Lock()
	if !m.status.Wanted || m.closed {
		m.mu.Unlock()
		_ = h.Release(context.Background())
		m.mu.Lock()
		m.setStateLocked(StateOff, "", "")
		st := m.status
		m.mu.Unlock()
		return st
	}

	m.inhibitor = h
	m.watchGen++
	gen := m.watchGen
	m.setStateLocked(StateOn, "", "")
	st := m.status
	m.mu.Unlock()

	m.log.Info().Int("running", st.Running).Msg("keep-awake acquired")
	go m.watchInhibitor(h, gen)
	return st
}

func (m *Manager) disable(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}
	if !m.status.Wanted && m.inhibitor == nil {
		defer m.mu.Unlock()
		return m.status
	}

	m.status.Wanted = false
	held := m.inhibitor
	m.inhibitor = nil
	m.watchGen++
	m.setStateLocked(StateOff, "", "")
	st := m.status
	m.mu.Unlock()

	if held == nil {
		return st
	}

	if err := held.Release(ctx); err != nil {
		m.mu.Lock()
		m.noteFailureLocked(err.Error())
		st = m.status
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("keep-awake release failed")
		return st
	}

	m.log.Info().Msg("keep-awake released")
	return st
}

func (m *Manager) watchInhibitor(h Handle, gen uint64) {
	<-h.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inhibitor != h || m.watchGen != gen {
		return
	}
	if !m.status.Wanted || m.closed {
		return
	}

	reason := "inhibitor exited unexpectedly"
	if err := h.Err(); err != nil {
		reason = err.Error()
	}

	m.inhibitor = nil
	m.setStateLocked(StateDegraded, DegradedReasonIntegrityLost, reason)
	m.log.Warn().Str("error", reason).Msg("keep-awake inhibitor lost")
}

func (m *Manager) setStateLocked(next State, reason DegradedReason, lastErr string) {
	m.status.State = next
	m.status.Reason = reason
	m.status.LastError = lastErr
	m.status.UpdatedAt = m.now()
	m.status.Revision++
}

// noteFailureLocked keeps the state (OFF after an explicit release) but
// surfaces the failure.
func (m *Manager) noteFailureLocked(lastErr string) {
	m.status.Reason = ""
	m.status.LastError = lastErr
	m.status.UpdatedAt = m.now()
	m.status.Revision++
}

func classifyAcquireReason(err error) DegradedReason {
	if errors.IsCode(err, errors.CodeKeepAwakeUnsupported) {
		return DegradedReasonUnsupported
	}
	return DegradedReasonAcquireFailed
}
