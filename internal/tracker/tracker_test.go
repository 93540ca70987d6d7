package tracker

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type run struct{ off, n int }

func collectRuns(t *testing.T, tr *Tracker) []run {
	t.Helper()

	var runs []run
	require.NoError(t, tr.FlushRuns(func(off, n int) error {
		runs = append(runs, run{off, n})
		return nil
	}))
	return runs
}

func TestTracker_MarkRange(t *testing.T) {
	tr := New(4096)

	tr.MarkRange(0, 1)          // page 0
	tr.MarkRange(4095, 2)       // pages 0-1
	tr.MarkRange(3*4096+17, 10) // page 3

	assert.Equal(t, uint64(3), tr.DirtyPages())

	runs := collectRuns(t, tr)
	assert.Equal(t, []run{
		{0, 2 * 4096},
		{3 * 4096, 4096},
	}, runs)

	// Drained.
	assert.Zero(t, tr.DirtyPages())
	assert.Empty(t, collectRuns(t, tr))
}

func TestTracker_IgnoresEmptyRanges(t *testing.T) {
	tr := New(4096)

	tr.MarkRange(100, 0)
	tr.MarkRange(100, -5)
	tr.MarkRange(-1, 10)

	assert.Zero(t, tr.DirtyPages())
}

func TestTracker_SingleRunSpansPages(t *testing.T) {
	tr := New(512)

	tr.MarkRange(500, 1000) // bytes 500..1499 -> pages 0..2

	runs := collectRuns(t, tr)
	assert.Equal(t, []run{{0, 3 * 512}}, runs)
}

func TestTracker_FlushErrorKeepsPagesDirty(t *testing.T) {
	tr := New(4096)

	tr.MarkRange(0, 4096)      // page 0
	tr.MarkRange(5*4096, 4096) // page 5
	tr.MarkRange(9*4096, 8192) // pages 9-10

	boom := errors.New("msync failed")
	calls := 0
	err := tr.FlushRuns(func(off, n int) error {
		calls++
		if off == 5*4096 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)

	// Page 0 flushed; pages 5, 9, 10 must still be dirty.
	assert.Equal(t, uint64(3), tr.DirtyPages())
	runs := collectRuns(t, tr)
	assert.Equal(t, []run{
		{5 * 4096, 4096},
		{9 * 4096, 2 * 4096},
	}, runs)
}

func TestTracker_ConcurrentMarks(t *testing.T) {
	tr := New(4096)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.MarkRange((g*100+i)*4096, 4096)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, uint64(800), tr.DirtyPages())
	runs := collectRuns(t, tr)
	assert.Equal(t, []run{{0, 800 * 4096}}, runs)
}
