package ebrmap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConcurrentDistinctKeyPuts drives many goroutines each inserting a
// large, disjoint range of keys, then checks that both Len and View agree
// on the total — the property that matters under real contention, not
// just the golden-path sequential cases in table_test.go.
func TestConcurrentDistinctKeyPuts(t *testing.T) {
	goroutines := 8
	perGoroutine := 50_000
	if testing.Short() {
		perGoroutine = 2_000
	}

	tbl := NewTable[int]()
	defer tbl.Destroy()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			base := uint64(g) * uint64(perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				tbl.Put(h(base+uint64(i)), g)
			}
		}(g)
	}
	wg.Wait()

	total := goroutines * perGoroutine
	require.Equal(t, total, tbl.Len())
	require.Len(t, tbl.View(), total)
}

// TestConcurrentSameKeyReadersNeverObserveTornWrite has many readers
// hammering Get against a key that a single writer keeps overwriting
// with monotonically increasing values; a reader must never observe a
// value older than one it already saw, which is exactly what
// linearizability of get rules out.
func TestConcurrentSameKeyReadersNeverObserveTornWrite(t *testing.T) {
	iterations := 20_000
	if testing.Short() {
		iterations = 1_000
	}

	tbl := NewTable[int]()
	defer tbl.Destroy()
	tbl.Put(h(1), 0)

	var stop atomic.Bool
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= iterations; i++ {
			tbl.Put(h(1), i)
		}
		stop.Store(true)
	}()

	readers := 4
	errs := make(chan error, readers)
	wg.Add(readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer wg.Done()
			last := -1
			for !stop.Load() {
				v, present := tbl.Get(h(1))
				if !present {
					errs <- errNotPresent
					return
				}
				if v < last {
					errs <- errWentBackwards
					return
				}
				last = v
			}
			errs <- nil
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

// TestConcurrentMixedReadWriteUnderMigration exercises put and get
// together while the table is repeatedly forced through growth. Once
// everything quiesces, Len must count every key and the view must hold
// each key exactly once.
func TestConcurrentMixedReadWriteUnderMigration(t *testing.T) {
	keys := uint64(5_000)
	if testing.Short() {
		keys = 500
	}

	tbl := NewTable[int](WithInitialSizeExponent(3), WithShrinkEnabled())
	defer tbl.Destroy()

	var wg sync.WaitGroup
	writers := 4
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := uint64(w); i < keys; i += uint64(writers) {
				tbl.Put(h(i), int(i))
			}
		}(w)
	}

	readers := 4
	wg.Add(readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer wg.Done()
			for i := uint64(0); i < keys; i++ {
				tbl.Get(h(i))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int(keys), tbl.Len())

	seen := make(map[uint64]bool, keys)
	for _, e := range tbl.View() {
		require.False(t, seen[e.Hash.Lo])
		seen[e.Hash.Lo] = true
	}
	require.Len(t, seen, int(keys))
}

var (
	errNotPresent    = errSentinel("key unexpectedly absent")
	errWentBackwards = errSentinel("observed value decreased between reads")
)

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
