// Package mmap provides memory-mapped access to persistent-memory files.
//
// # Overview
//
// Unlike a read-only segment mapper, this package establishes shared
// read-write mappings: stores through Bytes() land directly in the page
// cache (or, for DAX-capable filesystems, directly in persistent memory)
// and become durable once the covering range has been flushed.
//
// # Usage
//
//	f, _ := os.OpenFile("pool.pmem", os.O_RDWR, 0)
//	m, err := mmap.MapFile(f, size, true)
//	if err != nil { ... }
//	defer m.Close()
//
//	copy(m.Bytes()[off:], payload)
//	m.Flush(off, len(payload))
//
// # Store granularity
//
// MapFile can request a synchronous (MAP_SYNC) mapping. When the kernel
// and filesystem grant it, page faults are guaranteed not to tear file
// metadata and flushing degrades to a CPU-cache writeback performed by
// msync. When the request is refused, MapFile reports ErrSyncUnsupported
// and the caller falls back to a regular shared mapping with page-level
// flushing. Higher layers translate this into a store granularity.
//
// # Anonymous Mappings
//
// MapAnon() creates read-write anonymous mappings for off-heap memory.
// The membuf allocator uses these for operation-record chunks so that
// short-lived records never touch the Go heap.
//
// # Thread Safety
//
// A Mapping is safe for concurrent access to disjoint ranges. Close() is
// idempotent; callers must ensure no goroutine touches Bytes() after
// Close() returns.
package mmap
