package keepawake

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/termcam/host/internal/errors"
)

type fakeAdapter struct {
	mu      sync.Mutex
	calls   int
	acquire func(context.Context) (Handle, error)
}

func (a *fakeAdapter) Acquire(ctx context.Context) (Handle, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.acquire == nil {
		return newFakeHandle(), nil
	}
	return a.acquire(ctx)
}

func (a *fakeAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeHandle struct {
	done    chan struct{}
	once    sync.Once
	err     error
	release func(context.Context) error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) exit(err error) {
	h.err = err
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return h.err }
func (h *fakeHandle) Release(ctx context.Context) error {
	if h.release != nil {
		return h.release(ctx)
	}
	h.once.Do(func() { close(h.done) })
	return nil
}

func TestTrack_FirstRunningDeviceAcquires(t *testing.T) {
	adapter := &fakeAdapter{}
	m := NewManager(adapter, Options{})

	st := m.Track(context.Background(), 1)
	if st.State != StateOn {
		t.Fatalf("state=%s want ON", st.State)
	}
	if !st.Wanted || st.Running != 1 {
		t.Fatalf("wanted=%v running=%d", st.Wanted, st.Running)
	}
}

func TestTrack_MoreDevicesDoNotReacquire(t *testing.T) {
	adapter := &fakeAdapter{}
	m := NewManager(adapter, Options{})

	m.Track(context.Background(), 1)
	m.Track(context.Background(), 2)
	st := m.Track(context.Background(), 3)

	if adapter.Calls() != 1 {
		t.Fatalf("acquire calls=%d want 1", adapter.Calls())
	}
	if st.Running != 3 {
		t.Fatalf("running=%d want 3", st.Running)
	}
}

func TestTrack_ZeroRunningReleases(t *testing.T) {
	h := newFakeHandle()
	released := false
	h.release = func(context.Context) error {
		released = true
		h.once.Do(func() { close(h.done) })
		return nil
	}
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) { return h, nil }}, Options{})

	m.Track(context.Background(), 2)
	st := m.Track(context.Background(), 0)
	if st.State != StateOff {
		t.Fatalf("state=%s want OFF", st.State)
	}
	if !released {
		t.Fatal("expected release when no device runs")
	}
}

func TestTrack_ZeroWhileOffIsNoOp(t *testing.T) {
	m := NewManager(&fakeAdapter{}, Options{})
	before := m.Snapshot().Revision

	st := m.Track(context.Background(), 0)
	if st.State != StateOff {
		t.Fatalf("state=%s want OFF", st.State)
	}
	if st.Revision != before {
		t.Fatalf("revision moved from %d to %d", before, st.Revision)
	}
}

func TestTrack_AcquireFailureDegraded(t *testing.T) {
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) {
		return nil, stderrors.New("boom")
	}}, Options{})

	st := m.Track(context.Background(), 1)
	if st.State != StateDegraded {
		t.Fatalf("state=%s want DEGRADED", st.State)
	}
	if st.Reason != DegradedReasonAcquireFailed {
		t.Fatalf("reason=%s want acquire_failed", st.Reason)
	}
}

func TestTrack_UnsupportedDegraded(t *testing.T) {
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) {
		return nil, errors.New(errors.CodeKeepAwakeUnsupported, "unsupported")
	}}, Options{})

	st := m.Track(context.Background(), 1)
	if st.State != StateDegraded {
		t.Fatalf("state=%s want DEGRADED", st.State)
	}
	if st.Reason != DegradedReasonUnsupported {
		t.Fatalf("reason=%s want unsupported", st.Reason)
	}
}

func TestTrack_ReleaseFailureStillOffWithError(t *testing.T) {
	h := newFakeHandle()
	h.release = func(context.Context) error { return stderrors.New("release failed") }
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) { return h, nil }}, Options{})
	m.Track(context.Background(), 1)

	st := m.Track(context.Background(), 0)
	if st.State != StateOff {
		t.Fatalf("state=%s want OFF", st.State)
	}
	if st.Reason != "" {
		t.Fatalf("reason=%s want empty", st.Reason)
	}
	if st.LastError == "" {
		t.Fatal("expected lifecycle error text")
	}
}

func TestIntegrityLossTransitionsToDegraded(t *testing.T) {
	h := newFakeHandle()
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) { return h, nil }}, Options{})
	m.Track(context.Background(), 1)

	h.exit(stderrors.New("exited"))

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		st := m.Snapshot()
		if st.State == StateDegraded {
			if st.Reason != DegradedReasonIntegrityLost {
				t.Fatalf("reason=%s want integrity_lost", st.Reason)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected degraded transition after unexpected exit")
}

func TestTrack_LostHandleReacquires(t *testing.T) {
	h1 := newFakeHandle()
	h2 := newFakeHandle()
	adapter := &fakeAdapter{}
	adapter.acquire = func(context.Context) (Handle, error) {
		if adapter.calls == 1 {
			return h1, nil
		}
		return h2, nil
	}
	m := NewManager(adapter, Options{})

	if st := m.Track(context.Background(), 1); st.State != StateOn {
		t.Fatalf("state=%s want ON", st.State)
	}

	h1.exit(stderrors.New("unexpected exit"))

	st := m.Track(context.Background(), 2)
	if st.State != StateOn {
		t.Fatalf("state=%s want ON after reacquire", st.State)
	}
	if adapter.Calls() != 2 {
		t.Fatalf("acquire calls=%d want 2", adapter.Calls())
	}
}

func TestCloseReleasesHandleAndIgnoresLaterTrack(t *testing.T) {
	h := newFakeHandle()
	adapter := &fakeAdapter{acquire: func(context.Context) (Handle, error) { return h, nil }}
	m := NewManager(adapter, Options{})
	m.Track(context.Background(), 1)

	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("expected release on close")
	}

	st := m.Track(context.Background(), 1)
	if st.State != StateOff {
		t.Fatalf("state=%s want OFF after close", st.State)
	}
	if adapter.Calls() != 1 {
		t.Fatalf("acquire calls=%d want 1", adapter.Calls())
	}
}

func TestCloseReleaseFailureKeepsOffAndReturnsError(t *testing.T) {
	h := newFakeHandle()
	h.release = func(context.Context) error { return stderrors.New("release failed") }
	m := NewManager(&fakeAdapter{acquire: func(context.Context) (Handle, error) { return h, nil }}, Options{})
	m.Track(context.Background(), 1)

	if err := m.Close(context.Background()); err == nil {
		t.Fatal("expected close error")
	}
	st := m.Snapshot()
	if st.State != StateOff {
		t.Fatalf("state=%s want OFF", st.State)
	}
	if st.LastError == "" {
		t.Fatal("expected last error populated")
	}
}

func TestTrack_ConcurrentNoPanic(t *testing.T) {
	m := NewManager(&fakeAdapter{}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Track(context.Background(), i%2)
		}(i)
	}
	wg.Wait()
	_ = m.Close(context.Background())
}
