package pmem

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/kevinzs2048/pmem/internal/membuf"
	"github.com/kevinzs2048/pmem/vdm"
)

const (
	opPending uint32 = 0
	opDone    uint32 = 1
)

// opRecord is the per-operation state allocated from the mover's arena.
// It lives outside the Go heap, so it must hold no pointers: the request
// descriptor stays with the future and is handed back to every verb.
type opRecord struct {
	kind     uint32
	complete atomic.Uint32
}

const opRecordSize = int(unsafe.Sizeof(opRecord{}))

// DataMover executes copy and move requests eagerly while presenting the
// asynchronous mover contract: callers observe completion by polling, and
// completion is published with a release store so an observer on another
// goroutine also sees the copied bytes.
type DataMover struct {
	m       *Map
	buf     *membuf.Membuf
	logger  *Logger
	metrics MetricsCollector
}

func newDataMover(m *Map, o *options) (*DataMover, error) {
	dm := &DataMover{
		m:       m,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	bufOpts := []membuf.Option{
		membuf.WithChunkSize(o.arenaChunkSize),
	}
	if o.arenaMaxChunks > 0 {
		bufOpts = append(bufOpts, membuf.WithMaxChunks(o.arenaMaxChunks))
	}
	if o.controller != nil {
		bufOpts = append(bufOpts, membuf.WithMemoryAcquirer(o.controller))
	}

	buf, err := membuf.New(dm, bufOpts...)
	if err != nil {
		return nil, fmt.Errorf("create operation arena: %w", err)
	}
	dm.buf = buf
	return dm, nil
}

// Close releases the operation arena. Outstanding handles become invalid.
func (dm *DataMover) Close() {
	dm.buf.Close()
}

// NewOperation allocates an operation record for the given kind.
//
// Allocation failure is recoverable: the error wraps vdm.ErrCreateFailed
// and the caller may retry once in-flight operations finish.
func (dm *DataMover) NewOperation(kind vdm.Kind) (vdm.Handle, error) {
	p, err := dm.buf.Alloc(opRecordSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vdm.ErrCreateFailed, err)
	}
	rec := (*opRecord)(p)
	rec.kind = uint32(kind)
	rec.complete.Store(opPending)
	return vdm.Handle(p), nil
}

// Start executes the operation immediately and publishes completion.
//
// The notifier is told that no wakeup will ever be delivered: completion
// must be observed by polling Check. An unsupported operation kind is a
// protocol violation and panics.
func (dm *DataMover) Start(h vdm.Handle, op *vdm.Operation, n *vdm.Notifier) error {
	rec := (*opRecord)(h)
	if rec.kind != uint32(op.Kind) {
		panic(fmt.Sprintf("pmem: operation kind %s does not match record kind %s",
			op.Kind, vdm.Kind(rec.kind)))
	}

	// The record carries no back-reference. The owning mover is recovered
	// from the arena the handle was allocated out of.
	owner, ok := membuf.Owner(h).(*DataMover)
	if !ok {
		panic("pmem: operation record not allocated by a data mover")
	}

	if n != nil {
		n.Used = vdm.NotifierNone
	}

	start := time.Now()
	switch op.Kind {
	case vdm.KindMemcpy:
		owner.m.CopyFn()(op.Dst, op.Src, Flags(op.Flags)|FlagNonTemporal)
		owner.metrics.RecordCopy(len(op.Src), time.Since(start))
	case vdm.KindMemmove:
		owner.m.MoveFn()(op.Dst, op.Src, Flags(op.Flags)|FlagNonTemporal)
		owner.metrics.RecordMove(len(op.Src), time.Since(start))
	default:
		panic(fmt.Sprintf("pmem: unsupported operation kind %d", uint32(op.Kind)))
	}

	// Release store: the copied bytes above happen before any acquire
	// load in Check that observes opDone.
	rec.complete.Store(opDone)
	return nil
}

// Check reports whether the operation has completed. The load pairs with
// the release store in Start, so observing completion also guarantees
// visibility of the copied data.
func (dm *DataMover) Check(h vdm.Handle) vdm.State {
	rec := (*opRecord)(h)
	if rec.complete.Load() == opDone {
		return vdm.StateComplete
	}
	return vdm.StateIdle
}

// Delete populates the operation output and frees the record. The handle
// must not be used afterwards. A handle/descriptor kind mismatch is a
// protocol violation and panics.
func (dm *DataMover) Delete(h vdm.Handle, op *vdm.Operation, out *vdm.Output) {
	rec := (*opRecord)(h)
	if rec.kind != uint32(op.Kind) {
		panic(fmt.Sprintf("pmem: operation kind %s does not match record kind %s",
			op.Kind, vdm.Kind(rec.kind)))
	}

	switch op.Kind {
	case vdm.KindMemcpy, vdm.KindMemmove:
		out.Kind = op.Kind
		out.Result = vdm.StatusSuccess
		out.Dst = op.Dst
	default:
		panic(fmt.Sprintf("pmem: unsupported operation kind %d", uint32(op.Kind)))
	}

	membuf.Free(h)
}

// ArenaStats reports allocation statistics of the operation arena.
func (dm *DataMover) ArenaStats() membuf.Stats {
	return dm.buf.Stats()
}
