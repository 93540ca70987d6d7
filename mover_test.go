package pmem

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinzs2048/pmem/vdm"
)

func TestDataMover_CopyLifecycle(t *testing.T) {
	m := newTestMap(t, 4096)
	mover := m.Mover()

	src := bytes.Repeat([]byte{0xAB}, 64)
	dst, err := m.Slice(0, 64)
	require.NoError(t, err)

	op := &vdm.Operation{Kind: vdm.KindMemcpy, Dst: dst, Src: src}

	h, err := mover.NewOperation(vdm.KindMemcpy)
	require.NoError(t, err)
	require.NotNil(t, h)

	// A created but not yet started operation reports idle.
	assert.Equal(t, vdm.StateIdle, mover.Check(h))

	var n vdm.Notifier
	require.NoError(t, mover.Start(h, op, &n))
	assert.Equal(t, vdm.NotifierNone, n.Used)

	// Completion is immediate and sticky.
	assert.Equal(t, vdm.StateComplete, mover.Check(h))
	assert.Equal(t, vdm.StateComplete, mover.Check(h))

	var out vdm.Output
	mover.Delete(h, op, &out)

	assert.Equal(t, vdm.StatusSuccess, out.Result)
	assert.Equal(t, vdm.KindMemcpy, out.Kind)
	require.Len(t, out.Dst, 64)
	assert.Same(t, &dst[0], &out.Dst[0])

	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 64), m.Bytes()[:64])
}

func TestDataMover_MoveOverlap(t *testing.T) {
	tests := []struct {
		name   string
		dstOff int
		srcOff int
		n      int
	}{
		{name: "forward overlap", dstOff: 8, srcOff: 0, n: 24},
		{name: "backward overlap", dstOff: 0, srcOff: 8, n: 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMap(t, 4096)

			region, err := m.Slice(0, 64)
			require.NoError(t, err)
			for i := range region {
				region[i] = byte(i)
			}
			want := make([]byte, 64)
			copy(want, region)
			copy(want[tt.dstOff:tt.dstOff+tt.n], append([]byte(nil), region[tt.srcOff:tt.srcOff+tt.n]...))

			f, err := m.MemmoveAsync(region[tt.dstOff:tt.dstOff+tt.n], region[tt.srcOff:tt.srcOff+tt.n], 0)
			require.NoError(t, err)

			out, err := f.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, vdm.StatusSuccess, out.Result)
			assert.Equal(t, want, region[:64])
		})
	}
}

func TestDataMover_KindMismatchPanics(t *testing.T) {
	m := newTestMap(t, 4096)
	mover := m.Mover()

	dst, err := m.Slice(0, 16)
	require.NoError(t, err)

	h, err := mover.NewOperation(vdm.KindMemcpy)
	require.NoError(t, err)

	op := &vdm.Operation{Kind: vdm.KindMemmove, Dst: dst, Src: make([]byte, 16)}
	assert.Panics(t, func() {
		_ = mover.Start(h, op, nil)
	})
}

func TestDataMover_UnsupportedKindPanics(t *testing.T) {
	m := newTestMap(t, 4096)
	mover := m.Mover()

	h, err := mover.NewOperation(vdm.Kind(99))
	require.NoError(t, err)

	op := &vdm.Operation{Kind: vdm.Kind(99)}
	assert.Panics(t, func() {
		_ = mover.Start(h, op, nil)
	})
}

func TestDataMover_AllocationExhaustion(t *testing.T) {
	m := newTestMap(t, 4096, WithArena(4096, 1))
	mover := m.Mover()

	var handles []vdm.Handle
	for {
		h, err := mover.NewOperation(vdm.KindMemcpy)
		if err != nil {
			assert.ErrorIs(t, err, vdm.ErrCreateFailed)
			assert.Nil(t, h)
			break
		}
		handles = append(handles, h)
	}
	require.NotEmpty(t, handles)

	// Releasing records makes allocation possible again.
	op := &vdm.Operation{Kind: vdm.KindMemcpy}
	var out vdm.Output
	for _, h := range handles {
		mover.Delete(h, op, &out)
	}

	h, err := mover.NewOperation(vdm.KindMemcpy)
	require.NoError(t, err)
	mover.Delete(h, op, &out)
}

func TestDataMover_CrossGoroutineVisibility(t *testing.T) {
	m := newTestMap(t, 4096)
	mover := m.Mover()

	src := bytes.Repeat([]byte{0xEE}, 512)
	dst, err := m.Slice(1024, 512)
	require.NoError(t, err)

	op := &vdm.Operation{Kind: vdm.KindMemcpy, Dst: dst, Src: src}
	h, err := mover.NewOperation(vdm.KindMemcpy)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = mover.Start(h, op, nil)
	}()

	// Observing completion must imply observing the copied bytes.
	deadline := time.Now().Add(5 * time.Second)
	for mover.Check(h) != vdm.StateComplete {
		if time.Now().After(deadline) {
			t.Fatal("operation never completed")
		}
	}
	assert.Equal(t, src, dst)

	wg.Wait()
	var out vdm.Output
	mover.Delete(h, op, &out)
	assert.Equal(t, vdm.StatusSuccess, out.Result)
}

func TestMap_MemcpyAsync(t *testing.T) {
	m := newTestMap(t, 4096)

	src := bytes.Repeat([]byte{0xAB}, 64)
	dst, err := m.Slice(0, 64)
	require.NoError(t, err)

	f, err := m.MemcpyAsync(dst, src, 0)
	require.NoError(t, err)
	assert.Equal(t, vdm.StateIdle, f.State())

	state, err := f.Poll()
	require.NoError(t, err)
	assert.Equal(t, vdm.StateComplete, state)

	out, ok := f.Output()
	require.True(t, ok)
	assert.Equal(t, vdm.StatusSuccess, out.Result)
	assert.Same(t, &dst[0], &out.Dst[0])
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 64), m.Bytes()[:64])

	// Polling a completed future stays complete.
	state, err = f.Poll()
	require.NoError(t, err)
	assert.Equal(t, vdm.StateComplete, state)
}

func TestMap_MemcpyAsync_Metrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	m := newTestMap(t, 4096, WithMetricsCollector(metrics))

	dst, err := m.Slice(0, 128)
	require.NoError(t, err)

	f, err := m.MemcpyAsync(dst, make([]byte, 128), 0)
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), metrics.CopyCount.Load())
	assert.Equal(t, int64(128), metrics.CopyBytes.Load())
}

func TestDataMover_ArenaStats(t *testing.T) {
	m := newTestMap(t, 4096)

	f, err := m.MemcpyAsync(m.Bytes()[:8], make([]byte, 8), 0)
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	require.NoError(t, err)

	stats := m.Mover().ArenaStats()
	assert.Greater(t, stats.BytesReserved, uint64(0))
	assert.Equal(t, stats.Allocs, stats.Frees)
}
