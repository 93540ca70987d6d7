package pmem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/kevinzs2048/pmem/codec"
	"github.com/kevinzs2048/pmem/internal/mmap"
	"github.com/kevinzs2048/pmem/internal/tracker"
	"github.com/kevinzs2048/pmem/resource"
)

// Granularity is the smallest unit of data that reaches stable media on its
// own once stores become globally visible.
type Granularity int

const (
	// GranularityPage requires an explicit page-granular writeback (msync)
	// for stores to become durable. This is what a mapping without hardware
	// persistence support provides.
	GranularityPage Granularity = iota

	// GranularityCacheLine means stores are durable once flushed from the
	// CPU cache. A synchronous DAX mapping on ADR platforms provides this.
	GranularityCacheLine

	// GranularityByte means stores are durable as soon as they are globally
	// visible (eADR platforms). Persist is a no-op.
	GranularityByte
)

func (g Granularity) String() string {
	switch g {
	case GranularityPage:
		return "page"
	case GranularityCacheLine:
		return "cacheline"
	case GranularityByte:
		return "byte"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Map is a persistent-memory-mapped file region.
//
// The mapped bytes are accessed through Bytes or Slice. Writes become
// durable according to the mapping's Granularity: use the copy routines
// (CopyFn, MoveFn) or the asynchronous entry points (MemcpyAsync,
// MemmoveAsync) for writes that are flushed automatically, or write
// directly and call Persist.
type Map struct {
	mapping *mmap.Mapping
	file    *os.File
	path    string
	size    int
	gran    Granularity

	mover    *DataMover
	track    *tracker.Tracker
	deferred bool
	rc       *resource.Controller
	codec    codec.Codec

	logger  *Logger
	metrics MetricsCollector

	closed atomic.Bool
}

// MapFile maps the file at path for persistent-memory access.
//
// The file must exist and be non-empty; its entire content is mapped. On
// platforms and filesystems with DAX support the mapping is established
// synchronously and Persist degrades to a cache flush or a no-op. Without
// that support the mapping falls back to a conventional shared mapping
// with page-granular writeback.
func MapFile(path string, opts ...Option) (*Map, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := int(st.Size())
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	mapping, gran, err := mapWithGranularity(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	if o.granularity != nil {
		gran = *o.granularity
	}

	m := &Map{
		mapping: mapping,
		file:    f,
		path:    path,
		size:    size,
		gran:    gran,
		rc:      o.controller,
		codec:   o.codec,
		logger:  o.logger.WithPath(path),
		metrics: o.metricsCollector,
	}
	// Page-granular mappings carry a dirty tracker whether or not
	// deferred flushing is the default, so FlagNoDrain copies have
	// somewhere to record their pending writeback.
	if gran == GranularityPage {
		m.track = tracker.New(os.Getpagesize())
		m.deferred = o.deferredFlush
	}

	m.mover, err = newDataMover(m, o)
	if err != nil {
		mapping.Close()
		f.Close()
		return nil, err
	}

	m.logger.LogMap(path, size, gran)
	return m, nil
}

// mapWithGranularity probes for a synchronous mapping first and falls back
// to a conventional shared mapping.
func mapWithGranularity(f *os.File, size int) (*mmap.Mapping, Granularity, error) {
	mapping, err := mmap.MapFile(f, size, true)
	if err == nil {
		return mapping, GranularityCacheLine, nil
	}
	if !errors.Is(err, mmap.ErrSyncUnsupported) {
		return nil, 0, err
	}
	mapping, err = mmap.MapFile(f, size, false)
	if err != nil {
		return nil, 0, err
	}
	return mapping, GranularityPage, nil
}

// Bytes returns the mapped region. The slice is valid until Close.
func (m *Map) Bytes() []byte {
	return m.mapping.Bytes()
}

// Len returns the size of the mapped region in bytes.
func (m *Map) Len() int {
	return m.size
}

// Path returns the path of the backing file.
func (m *Map) Path() string {
	return m.path
}

// Granularity returns the store granularity of the mapping.
func (m *Map) Granularity() Granularity {
	return m.gran
}

// Mover returns the synchronous data mover bound to this mapping.
func (m *Map) Mover() *DataMover {
	return m.mover
}

// Slice returns the sub-range [off, off+n) of the mapped region.
func (m *Map) Slice(off, n int) ([]byte, error) {
	if err := m.checkRange(off, n); err != nil {
		return nil, err
	}
	return m.mapping.Bytes()[off : off+n : off+n], nil
}

func (m *Map) checkRange(off, n int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if off < 0 || n < 0 || off+n > m.size {
		return &RangeError{Off: off, Len: n, Size: m.size}
	}
	return nil
}

// Advise hints the expected access pattern for the region to the kernel.
func (m *Map) Advise(pattern mmap.AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.mapping.Advise(pattern)
}

// Persist makes the range [off, off+n) durable. It blocks until the data
// has reached stable media.
//
// On byte-granular mappings this is a no-op. On page-granular mappings the
// range is widened to page boundaries before writeback.
func (m *Map) Persist(off, n int) error {
	if err := m.checkRange(off, n); err != nil {
		return err
	}
	if n == 0 || m.gran == GranularityByte {
		return nil
	}
	return m.persistRange(off, n)
}

// persistRange performs the flush without bounds checking. The offset is
// assumed valid; page-widened lengths from the dirty tracker are clamped
// to the mapping.
func (m *Map) persistRange(off, n int) error {
	if off+n > m.size {
		n = m.size - off
	}
	if err := m.rc.WaitFlush(context.Background(), n); err != nil {
		return err
	}
	start := time.Now()
	err := m.mapping.Flush(off, n)
	m.metrics.RecordFlush(n, time.Since(start), err)
	m.logger.LogFlush(off, n, err)
	return err
}

// Drain completes all pending deferred flushes. On mappings without
// deferred flushing it returns immediately.
//
// After Drain returns nil, every write issued through the copy routines
// before the call is durable.
func (m *Map) Drain() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.track == nil {
		return nil
	}
	return m.track.FlushRuns(m.persistRange)
}

// offsetOf reports the offset of b within the mapped region, or false if b
// does not alias the mapping.
func (m *Map) offsetOf(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	data := m.mapping.Bytes()
	base := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p+uintptr(len(b)) > base+uintptr(len(data)) {
		return 0, false
	}
	return int(p - base), true
}

// Close tears down the mover, flushes pending deferred writes and unmaps
// the region. It is safe to call multiple times.
func (m *Map) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if m.track != nil {
		if err := m.track.FlushRuns(m.persistRange); err != nil {
			firstErr = err
		}
	}
	m.mover.Close()
	if err := m.mapping.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
