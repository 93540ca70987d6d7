// Package membuf provides a chunked bump allocator for per-operation records.
//
// # Concurrency Model
//
// Membuf supports concurrent Alloc/Free but does NOT support calling Close
// concurrently with allocations. The typical usage pattern is:
//   - Create one membuf per data mover, at mover construction
//   - Allocate operation records from any goroutine (SAFE)
//   - Free each record exactly once when its operation is deleted
//   - Call Close() once when the mover is torn down
//
// # Memory Management
//
// Memory is obtained in chunks via anonymous mappings (off the Go heap) and
// handed out with a lock-free CAS bump pointer. Records never move. Each
// allocation carries a small header identifying the owning membuf and its
// chunk, so Free and Owner work from a bare pointer with no back-reference
// stored in the record itself.
//
// A chunk that fills up is sealed and retired; once every record in it has
// been freed it is recycled for subsequent allocations. Sealing flips a bit
// in the chunk's offset word, which both stops new allocations and makes
// any in-flight CAS against the pre-seal offset fail, so a recycled chunk
// can never hand out overlapping memory.
package membuf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/kevinzs2048/pmem/internal/mmap"
)

// MemoryAcquirer is an interface for acquiring memory from a shared budget.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrAllocationFailed is returned when an allocation cannot be satisfied.
	ErrAllocationFailed = errors.New("membuf: allocation failed")
	// ErrMaxChunksExceeded is returned when the membuf would exceed its chunk limit.
	ErrMaxChunksExceeded = errors.New("membuf: max chunks exceeded")
	// ErrClosed is returned when allocating from a closed membuf.
	ErrClosed = errors.New("membuf: closed")
)

const (
	// DefaultChunkSize is the default size of a chunk (64 KiB).
	DefaultChunkSize = 64 * 1024
	// DefaultMaxChunks bounds the memory a single membuf may hold.
	DefaultMaxChunks = 1024
	// alignment is the payload alignment, enough for any record field.
	alignment = 8

	// sealedBit marks a retired chunk in its offset word. A set bit makes
	// every in-flight offset CAS fail and stops new allocation attempts.
	sealedBit = uint64(1) << 63

	// MaxChunkSize keeps bump offsets clear of the sealed bit.
	MaxChunkSize = 1 << 32
)

// allocHeader precedes every allocation. It records which membuf and chunk
// the allocation came from; the record itself stays free of back-references.
type allocHeader struct {
	buf   uint32 // registry id of the owning membuf
	chunk uint32 // chunk index within the membuf
	size  uint32 // payload bytes requested
	_     uint32 // pad: keeps the payload 8-byte aligned
}

const headerSize = int(unsafe.Sizeof(allocHeader{}))

// The registry maps ids to live membufs so Free/Owner can work from a bare
// allocation pointer without storing a Go pointer in off-heap memory.
var (
	regMu    sync.RWMutex
	registry = make(map[uint32]*Membuf)
	nextID   atomic.Uint32
)

func register(b *Membuf) {
	regMu.Lock()
	registry[b.id] = b
	regMu.Unlock()
}

func unregister(id uint32) {
	regMu.Lock()
	delete(registry, id)
	regMu.Unlock()
}

func lookup(id uint32) *Membuf {
	regMu.RLock()
	b := registry[id]
	regMu.RUnlock()
	return b
}

// Stats tracks membuf usage.
type Stats struct {
	Allocs          uint64 // cumulative successful allocations
	Frees           uint64 // cumulative frees
	ChunksAllocated uint64 // cumulative chunks mapped
	ChunksRecycled  uint64 // cumulative chunk reuses
	ActiveChunks    uint64 // chunks currently mapped
	BytesReserved   uint64 // memory currently mapped
}

type atomicStats struct {
	Allocs          atomic.Uint64
	Frees           atomic.Uint64
	ChunksAllocated atomic.Uint64
	ChunksRecycled  atomic.Uint64
	ActiveChunks    atomic.Uint64
	BytesReserved   atomic.Uint64
}

type chunk struct {
	data    []byte
	mapping *mmap.Mapping
	offset  atomic.Uint64 // bump offset, sealedBit set once retired
	live    atomic.Int64  // allocations not yet freed
	index   uint32
	queued  bool // on the free list (protected by Membuf.mu)
}

// Membuf is a chunked bump allocator bound to an owner context.
type Membuf struct {
	id        uint32
	owner     any
	chunkSize int
	maxChunks int

	chunks     []atomic.Pointer[chunk]
	chunkCount atomic.Uint32
	current    atomic.Pointer[chunk]

	mu       sync.Mutex
	freeList []uint32 // indices of drained chunks ready for reuse

	acquirer MemoryAcquirer
	stats    atomicStats
	closed   atomic.Bool
}

// Option is a configuration option for Membuf.
type Option func(*Membuf)

// WithChunkSize sets the chunk size in bytes.
func WithChunkSize(size int) Option {
	return func(b *Membuf) {
		if size > 0 && size <= MaxChunkSize {
			b.chunkSize = size
		}
	}
}

// WithMaxChunks bounds the number of chunks the membuf may hold at once.
func WithMaxChunks(n int) Option {
	return func(b *Membuf) {
		if n > 0 {
			b.maxChunks = n
		}
	}
}

// WithMemoryAcquirer charges chunk memory against a shared budget.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(b *Membuf) {
		b.acquirer = acquirer
	}
}

// New creates a membuf bound to owner. The owner is recoverable from any
// allocation via Owner. The first chunk is mapped eagerly so that a
// successfully constructed membuf can always satisfy small allocations.
func New(owner any, opts ...Option) (*Membuf, error) {
	b := &Membuf{
		id:        nextID.Add(1),
		owner:     owner,
		chunkSize: DefaultChunkSize,
		maxChunks: DefaultMaxChunks,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.chunks = make([]atomic.Pointer[chunk], b.maxChunks)

	b.mu.Lock()
	err := b.growLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	register(b)
	return b, nil
}

// Owner returns the owner context of the membuf.
func (b *Membuf) Owner() any {
	return b.owner
}

// growLocked makes a recycled or fresh chunk current, sealing the old
// current chunk. Caller holds b.mu.
func (b *Membuf) growLocked() error {
	old := b.current.Load()

	// Seal first: a current chunk whose records were all freed goes
	// straight to the free list and can be handed back out below. Without
	// this a full single-chunk membuf could never recover.
	if old != nil {
		b.sealLocked(old)
	}

	var next *chunk
	if n := len(b.freeList); n > 0 {
		idx := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		next = b.chunks[idx].Load()
		next.queued = false
		// Unseal with a fresh offset; the chunk is drained so nothing can
		// overlap allocations restarting at zero.
		next.offset.Store(0)
		b.stats.ChunksRecycled.Add(1)
	} else {
		idx := b.chunkCount.Load()
		if int(idx) >= b.maxChunks {
			return fmt.Errorf("%w: %w", ErrAllocationFailed, ErrMaxChunksExceeded)
		}

		if b.acquirer != nil {
			if err := b.acquirer.AcquireMemory(context.Background(), int64(b.chunkSize)); err != nil {
				return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
			}
		}

		mapping, err := mmap.MapAnon(b.chunkSize)
		if err != nil {
			if b.acquirer != nil {
				b.acquirer.ReleaseMemory(int64(b.chunkSize))
			}
			return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}

		next = &chunk{
			data:    mapping.Bytes(),
			mapping: mapping,
			index:   idx,
		}
		b.chunks[idx].Store(next)

		b.stats.ChunksAllocated.Add(1)
		b.stats.ActiveChunks.Add(1)
		b.stats.BytesReserved.Add(uint64(b.chunkSize))

		// Count before current: a pointer handed out from the new chunk
		// must always resolve through chunks[idx].
		b.chunkCount.Add(1)
	}

	b.current.Store(next)
	return nil
}

// sealLocked retires a chunk: setting the sealed bit changes the offset
// word, so any in-flight CAS against the pre-seal offset fails and new
// attempts bail out before trying. If the chunk is already drained it goes
// straight to the free list; otherwise the last Free queues it. Caller
// holds b.mu.
func (b *Membuf) sealLocked(c *chunk) {
	for {
		v := c.offset.Load()
		if c.offset.CompareAndSwap(v, v|sealedBit) {
			break
		}
	}
	// The seal CAS orders after every committed allocation in this chunk,
	// and each allocation bumps live before committing, so a zero read here
	// means the chunk is truly empty.
	if c.live.Load() == 0 && !c.queued {
		c.queued = true
		b.freeList = append(b.freeList, c.index)
	}
}

// Alloc returns a pointer to size bytes of zero-initialized, 8-byte aligned
// memory. The pointer stays valid until Free; the backing memory is off the
// Go heap, so records must not contain Go pointers.
func (b *Membuf) Alloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocationFailed, size)
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	mask := alignment - 1
	total := uint64(headerSize + (size+mask)&^mask)
	if total > uint64(b.chunkSize) {
		return nil, fmt.Errorf("%w: size %d exceeds chunk size %d", ErrAllocationFailed, size, b.chunkSize)
	}

	for {
		curr := b.current.Load()
		if curr == nil {
			return nil, ErrClosed
		}

		if p, ok := b.tryAlloc(curr, size, total); ok {
			return p, nil
		}

		// Current chunk is full. If another goroutine already swapped in a
		// new one, retry; otherwise grow under the lock.
		if b.current.Load() != curr {
			continue
		}

		b.mu.Lock()
		if b.current.Load() != curr {
			b.mu.Unlock()
			continue
		}
		if err := b.growLocked(); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.mu.Unlock()
	}
}

func (b *Membuf) tryAlloc(curr *chunk, size int, total uint64) (unsafe.Pointer, bool) {
	v := curr.offset.Load()
	if v&sealedBit != 0 {
		return nil, false
	}
	off := v
	if off+total > uint64(len(curr.data)) {
		return nil, false
	}

	// live must rise before the offset CAS commits: sealLocked relies on
	// this order to decide whether a retired chunk is drained.
	curr.live.Add(1)
	if !curr.offset.CompareAndSwap(v, v+total) {
		// Lost the race, or the chunk was sealed under us.
		if curr.live.Add(-1) == 0 {
			b.maybeRecycle(curr)
		}
		return nil, false
	}

	b.stats.Allocs.Add(1)

	base := unsafe.Pointer(&curr.data[off])
	hdr := (*allocHeader)(base)
	hdr.buf = b.id
	hdr.chunk = curr.index
	hdr.size = uint32(size)

	p := unsafe.Add(base, headerSize)
	// Recycled chunks hold stale bytes; records expect zeroed memory.
	clear(unsafe.Slice((*byte)(p), size))
	return p, true
}

func headerOf(p unsafe.Pointer) *allocHeader {
	return (*allocHeader)(unsafe.Add(p, -headerSize))
}

// Free returns an allocation to its membuf. Freeing a pointer twice, or a
// pointer that did not come from a live membuf, is a protocol violation.
func Free(p unsafe.Pointer) {
	hdr := headerOf(p)
	b := lookup(hdr.buf)
	if b == nil {
		panic("membuf: free of pointer with no live owner")
	}

	c := b.chunks[hdr.chunk].Load()
	n := c.live.Add(-1)
	if n < 0 {
		panic("membuf: double free")
	}
	b.stats.Frees.Add(1)

	if n == 0 {
		b.maybeRecycle(c)
	}
}

// Owner recovers the owner context of the membuf that p was allocated from.
func Owner(p unsafe.Pointer) any {
	hdr := headerOf(p)
	b := lookup(hdr.buf)
	if b == nil {
		panic("membuf: owner lookup on pointer with no live owner")
	}
	return b.owner
}

// maybeRecycle queues a drained, retired chunk for reuse.
func (b *Membuf) maybeRecycle(c *chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The current chunk still takes allocations; growLocked seals and
	// queues it when it retires. Re-check live under the lock since an
	// allocation may have raced the drain.
	if b.current.Load() == c || c.live.Load() != 0 || c.queued {
		return
	}
	// Retired chunks are sealed by growLocked; this queues a chunk whose
	// last record was freed after retirement.
	b.sealLocked(c)
}

// Stats returns current membuf statistics.
func (b *Membuf) Stats() Stats {
	return Stats{
		Allocs:          b.stats.Allocs.Load(),
		Frees:           b.stats.Frees.Load(),
		ChunksAllocated: b.stats.ChunksAllocated.Load(),
		ChunksRecycled:  b.stats.ChunksRecycled.Load(),
		ActiveChunks:    b.stats.ActiveChunks.Load(),
		BytesReserved:   b.stats.BytesReserved.Load(),
	}
}

// Close unmaps all chunks and unregisters the membuf.
//
// The caller must guarantee that no allocation from this membuf is
// referenced afterwards; Close does not wait for outstanding records.
// Close is idempotent and must not run concurrently with Alloc/Free.
func (b *Membuf) Close() {
	if b.closed.Swap(true) {
		return
	}
	unregister(b.id)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.current.Store(nil)

	count := b.chunkCount.Load()
	for i := uint32(0); i < count; i++ {
		c := b.chunks[i].Load()
		if c != nil && c.mapping != nil {
			_ = c.mapping.Close()
		}
		b.chunks[i].Store(nil)
	}

	if b.acquirer != nil {
		if reserved := b.stats.BytesReserved.Load(); reserved > 0 {
			b.acquirer.ReleaseMemory(int64(reserved))
		}
	}

	b.chunkCount.Store(0)
	b.freeList = nil
	b.stats.ActiveChunks.Store(0)
	b.stats.BytesReserved.Store(0)
}
