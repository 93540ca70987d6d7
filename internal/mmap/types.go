package mmap

import "errors"

// AccessPattern provides hints to the kernel about how the data will be accessed.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects data to be accessed sequentially.
	AccessSequential
	// AccessRandom expects data to be accessed randomly.
	AccessRandom
	// AccessWillNeed expects data to be accessed in the near future.
	AccessWillNeed
	// AccessDontNeed expects data to not be accessed in the near future.
	AccessDontNeed
)

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the requested mapping size is invalid.
	ErrInvalidSize = errors.New("mmap: invalid mapping size")
	// ErrOutOfBounds is returned when a range falls outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrSyncUnsupported is returned when a synchronous (MAP_SYNC) mapping
	// was requested but the platform, kernel or filesystem refused it.
	ErrSyncUnsupported = errors.New("mmap: synchronous mapping unsupported")
)
