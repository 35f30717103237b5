package display

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/logger"
)

func newTestAllocator(base, count int, busy BusyFunc) *Allocator {
	return NewAllocator(Options{Base: base, Count: count, Busy: busy, Logger: logger.NewTestLogger()})
}

func TestAllocateLowestFree(t *testing.T) {
	a := newTestAllocator(100, 3, nil)

	n1, err := a.Allocate("cam1")
	require.NoError(t, err)
	n2, err := a.Allocate("cam2")
	require.NoError(t, err)
	assert.Equal(t, 100, n1)
	assert.Equal(t, 101, n2)

	a.Release(n1)
	n3, err := a.Allocate("cam3")
	require.NoError(t, err)
	assert.Equal(t, 100, n3, "released number should be reused first")
}

func TestAllocateExhausted(t *testing.T) {
	a := newTestAllocator(100, 2, nil)

	_, err := a.Allocate("cam1")
	require.NoError(t, err)
	_, err = a.Allocate("cam2")
	require.NoError(t, err)

	_, err = a.Allocate("cam3")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDisplayExhausted))

	a.Release(101)
	n, err := a.Allocate("cam3")
	require.NoError(t, err)
	assert.Equal(t, 101, n)
}

func TestReleaseIdempotent(t *testing.T) {
	a := newTestAllocator(100, 2, nil)
	n, err := a.Allocate("cam1")
	require.NoError(t, err)

	a.Release(n)
	a.Release(n)
	a.Release(999)

	assert.Empty(t, a.InUse())
}

func TestBusyDisplaysAreSkipped(t *testing.T) {
	a := newTestAllocator(100, 3, func(n int) bool { return n == 100 })

	n, err := a.Allocate("cam1")
	require.NoError(t, err)
	assert.Equal(t, 101, n)

	allocs := a.InUse()
	require.Len(t, allocs, 1)
	assert.Equal(t, 101, allocs[0].Display)
	assert.Equal(t, "cam1", allocs[0].DeviceID)
}

// TestRandomSequencesKeepSetConsistent drives random allocate/release
// sequences and checks the in-use set never holds duplicates or grows past
// the range.
func TestRandomSequencesKeepSetConsistent(t *testing.T) {
	const count = 8
	rng := rand.New(rand.NewSource(42))
	a := newTestAllocator(100, count, nil)
	held := map[int]bool{}

	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			n, err := a.Allocate(fmt.Sprintf("cam%d", i))
			if len(held) == count {
				require.Error(t, err)
				continue
			}
			require.NoError(t, err)
			require.False(t, held[n], "display %d handed out twice", n)
			require.GreaterOrEqual(t, n, 100)
			require.Less(t, n, 100+count)
			held[n] = true
		} else {
			n := 100 + rng.Intn(count+2)
			a.Release(n)
			delete(held, n)
		}

		allocs := a.InUse()
		require.LessOrEqual(t, len(allocs), count)
		require.Len(t, allocs, len(held))
		seen := map[int]bool{}
		for _, alloc := range allocs {
			require.False(t, seen[alloc.Display])
			seen[alloc.Display] = true
			require.True(t, held[alloc.Display])
		}
	}
}

func TestConcurrentAllocateIsExclusive(t *testing.T) {
	const count = 50
	a := newTestAllocator(100, count, nil)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = map[int]int{}
	)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := a.Allocate(fmt.Sprintf("cam%d", i))
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			mu.Lock()
			got[n]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, got, count)
	for n, times := range got {
		assert.Equal(t, 1, times, "display %d allocated %d times", n, times)
	}
}

func TestLockFileBusy(t *testing.T) {
	dir := t.TempDir()
	busy := LockFileBusy(dir)

	assert.False(t, busy(100), "no lock file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".X101-lock"), []byte(fmt.Sprintf("%10d\n", os.Getpid())), 0644))
	assert.True(t, busy(101), "lock file owned by this live process")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".X102-lock"), []byte("garbage"), 0644))
	assert.False(t, busy(102), "unparseable lock file")
}
