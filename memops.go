package pmem

import (
	"github.com/kevinzs2048/pmem/vdm"
)

// Flags adjust how a copy or move interacts with the cache hierarchy and
// the flush pipeline.
type Flags uint64

const (
	// FlagTemporal hints that the destination will be read again soon, so
	// cached stores are preferred.
	FlagTemporal Flags = 1 << iota

	// FlagNonTemporal hints that the destination will not be read again
	// soon, so stores should bypass the cache where possible.
	FlagNonTemporal

	// FlagNoFlush skips flushing the destination range. The caller takes
	// over responsibility for durability via Persist or Drain.
	FlagNoFlush

	// FlagNoDrain marks the destination range dirty instead of flushing
	// it inline; a later Drain writes it back. Useful for batches of
	// copies that should share one writeback. On mappings without a
	// dirty tracker it behaves like an inline flush.
	FlagNoDrain
)

// MemcpyFunc copies non-overlapping src into dst inside a mapped region
// and makes the destination range durable according to flags.
type MemcpyFunc func(dst, src []byte, flags Flags)

// MemmoveFunc is like MemcpyFunc but tolerates overlapping ranges.
type MemmoveFunc func(dst, src []byte, flags Flags)

// CopyFn returns the durability-aware copy routine for this mapping.
//
// The routine copies min(len(dst), len(src)) bytes and, unless FlagNoFlush
// is set, makes the written range durable before returning. Destinations
// outside the mapped region are copied but never flushed.
func (m *Map) CopyFn() MemcpyFunc {
	return func(dst, src []byte, flags Flags) {
		m.copyAndPersist(dst, src, flags)
	}
}

// MoveFn returns the durability-aware move routine for this mapping. It
// handles overlapping source and destination ranges.
func (m *Map) MoveFn() MemmoveFunc {
	return func(dst, src []byte, flags Flags) {
		m.copyAndPersist(dst, src, flags)
	}
}

// copyAndPersist is the single store path behind both routines. Go's copy
// builtin already handles overlap in either direction.
func (m *Map) copyAndPersist(dst, src []byte, flags Flags) {
	n := copy(dst, src)
	if n == 0 {
		return
	}
	if flags&FlagNoFlush != 0 || m.gran == GranularityByte {
		return
	}
	off, ok := m.offsetOf(dst[:n])
	if !ok {
		return
	}
	if m.track != nil && (m.deferred || flags&FlagNoDrain != 0) {
		m.track.MarkRange(off, n)
		return
	}
	// Durability failures on the eager path surface through logging and
	// metrics; callers that need a hard guarantee call Persist.
	_ = m.persistRange(off, n)
}

// MemcpyAsync starts an asynchronous copy of src into dst through the
// mapping's data mover and returns a future for it. The returned future
// must be driven to completion with Poll or Wait so the operation record
// is reclaimed.
func (m *Map) MemcpyAsync(dst, src []byte, flags Flags) (*vdm.Future, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return vdm.Memcpy(m.mover, dst, src, uint64(flags))
}

// MemmoveAsync is like MemcpyAsync for overlapping ranges.
func (m *Map) MemmoveAsync(dst, src []byte, flags Flags) (*vdm.Future, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return vdm.Memmove(m.mover, dst, src, uint64(flags))
}
