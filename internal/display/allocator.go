// Package display hands out X display numbers from a reserved range.
//
// The allocator is the only owner of the in-use set. The supervisor
// reserves a number before spawning a display server and releases it only
// after the server is confirmed dead, so the set always matches the
// displays backed by live processes.
package display

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/errors"
)

// Allocation records who holds a display number.
type Allocation struct {
	Display     int       `json:"display"`
	DeviceID    string    `json:"device_id"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// BusyFunc reports whether a display number is taken by something outside
// this allocator, such as a desktop X server.
type BusyFunc func(display int) bool

// Allocator reserves display numbers in [base, base+count).
type Allocator struct {
	base  int
	count int
	busy  BusyFunc
	log   zerolog.Logger

	mu    sync.Mutex
	inUse map[int]Allocation
	now   func() time.Time
}

// Options configures an Allocator.
type Options struct {
	Base  int
	Count int
	// Busy is optional; nil treats every number as free.
	Busy   BusyFunc
	Logger zerolog.Logger
}

// NewAllocator creates an allocator for the given range.
func NewAllocator(opts Options) *Allocator {
	count := opts.Count
	if count <= 0 {
		count = 1
	}
	return &Allocator{
		base:  opts.Base,
		count: count,
		busy:  opts.Busy,
		log:   opts.Logger,
		inUse: make(map[int]Allocation),
		now:   time.Now,
	}
}

// Allocate reserves the lowest free display number for deviceID.
func (a *Allocator) Allocate(deviceID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := a.base; n < a.base+a.count; n++ {
		if _, taken := a.inUse[n]; taken {
			continue
		}
		if a.busy != nil && a.busy(n) {
			a.log.Debug().Int("display", n).Msg("display held by a foreign server, skipping")
			continue
		}
		a.inUse[n] = Allocation{Display: n, DeviceID: deviceID, AllocatedAt: a.now()}
		a.log.Debug().Int("display", n).Str("device", deviceID).Msg("display allocated")
		return n, nil
	}

	return 0, errors.AllocationExhausted(a.base, a.count)
}

// Release frees a display number. Releasing a free number is a no-op.
func (a *Allocator) Release(display int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alloc, ok := a.inUse[display]; ok {
		delete(a.inUse, display)
		a.log.Debug().Int("display", display).Str("device", alloc.DeviceID).Msg("display released")
	}
}

// InUse returns the current allocations ordered by display number.
func (a *Allocator) InUse() []Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Allocation, 0, len(a.inUse))
	for _, alloc := range a.inUse {
		out = append(out, alloc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Display < out[j].Display })
	return out
}

// Capacity returns the size of the reserved range.
func (a *Allocator) Capacity() int {
	return a.count
}
