// Package tracker records dirty pages of a mapped region between flushes.
//
// Copy routines operating in deferred-flush mode mark the pages they touch
// instead of issuing a writeback per operation. A later drain walks the
// dirty set and flushes each contiguous page run with a single writeback,
// which collapses many small stores into few msync calls.
//
// The dirty set is a roaring bitmap of page indices: dense runs (bulk
// loads) and sparse scatters (record updates) are both compact.
package tracker

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Tracker accumulates dirty page indices. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	dirty    *roaring.Bitmap
	pageSize int
}

// New creates a tracker for a region with the given page size.
// pageSize must be positive.
func New(pageSize int) *Tracker {
	if pageSize <= 0 {
		panic("tracker: page size must be positive")
	}
	return &Tracker{
		dirty:    roaring.New(),
		pageSize: pageSize,
	}
}

// PageSize returns the page size the tracker was created with.
func (t *Tracker) PageSize() int {
	return t.pageSize
}

// MarkRange marks every page overlapping [off, off+n) as dirty.
// Zero-length ranges are ignored.
func (t *Tracker) MarkRange(off, n int) {
	if n <= 0 || off < 0 {
		return
	}

	first := uint64(off / t.pageSize)
	last := uint64((off + n - 1) / t.pageSize)

	t.mu.Lock()
	t.dirty.AddRange(first, last+1)
	t.mu.Unlock()
}

// DirtyPages returns the number of pages currently marked dirty.
func (t *Tracker) DirtyPages() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty.GetCardinality()
}

// take swaps out the dirty set, leaving an empty one behind.
func (t *Tracker) take() *roaring.Bitmap {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.dirty
	t.dirty = roaring.New()
	return d
}

// merge puts pages back into the dirty set (after a failed flush).
func (t *Tracker) merge(b *roaring.Bitmap) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty.Or(b)
}

// FlushRuns drains the dirty set, invoking flush once per contiguous page
// run with byte offset and length. Pages marked while FlushRuns is running
// stay dirty for the next drain.
//
// If flush fails, the unflushed pages (including the failing run) are
// returned to the dirty set and the error is reported.
func (t *Tracker) FlushRuns(flush func(off, n int) error) error {
	d := t.take()
	if d.IsEmpty() {
		return nil
	}

	flushRun := func(start, end uint64) error { // [start, end] inclusive
		off := int(start) * t.pageSize
		n := int(end-start+1) * t.pageSize
		if err := flush(off, n); err != nil {
			// Everything from this run onward stays dirty.
			d.RemoveRange(0, start)
			t.merge(d)
			return err
		}
		return nil
	}

	it := d.Iterator()
	if !it.HasNext() {
		return nil
	}

	runStart := uint64(it.Next())
	prev := runStart
	for it.HasNext() {
		page := uint64(it.Next())
		if page == prev+1 {
			prev = page
			continue
		}
		if err := flushRun(runStart, prev); err != nil {
			return err
		}
		runStart, prev = page, page
	}
	return flushRun(runStart, prev)
}
