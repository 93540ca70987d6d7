package mmap

import (
	"os"
	"sync/atomic"
)

// Mapping represents a shared read-write memory mapping.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	sync   bool // established with MAP_SYNC
	closed atomic.Bool
	// unmap and flush are the platform-specific teardown/writeback hooks.
	unmap func([]byte) error
	flush func([]byte) error
}

// MapFile maps size bytes of f as a shared read-write mapping.
//
// When syncMap is true a synchronous (MAP_SYNC) mapping is requested;
// if the kernel or filesystem refuses, MapFile fails with
// ErrSyncUnsupported and the caller may retry with syncMap false.
func MapFile(f *os.File, size int, syncMap bool) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, flushFunc, err := osMapFile(f, size, syncMap)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  size,
		sync:  syncMap,
		unmap: unmapFunc,
		flush: flushFunc,
	}, nil
}

// MapAnon creates an anonymous private read-write mapping.
// Anonymous mappings have no backing file and cannot be flushed.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  size,
		unmap: unmapFunc,
	}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Sync reports whether the mapping was established with MAP_SYNC.
func (m *Mapping) Sync() bool {
	return m.sync
}

// Flush writes back the mapped range [off, off+n) to the backing store
// and does not return until the data is durable.
//
// The range is widened to page boundaries since msync operates on whole
// pages. Flushing an anonymous mapping is a no-op.
func (m *Mapping) Flush(off, n int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if off < 0 || n < 0 || off+n > m.size {
		return ErrOutOfBounds
	}
	if n == 0 || m.flush == nil {
		return nil
	}

	page := os.Getpagesize()
	start := off &^ (page - 1)
	end := off + n
	if rem := end % page; rem != 0 {
		end += page - rem
	}
	if end > m.size {
		end = m.size
	}
	return m.flush(m.data[start:end])
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}
