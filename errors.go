package pmem

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed Map.
	ErrClosed = errors.New("pmem: map is closed")

	// ErrEmptyFile is returned when the backing file has zero length.
	ErrEmptyFile = errors.New("pmem: cannot map empty file")

	// ErrOutOfRange is returned when a requested range falls outside the
	// mapped region. Use errors.As to recover the *RangeError detail.
	ErrOutOfRange = errors.New("pmem: range out of bounds")

	// ErrSnapshotCorrupt is returned when snapshot data fails validation.
	// Use errors.As to recover the *SnapshotError detail.
	ErrSnapshotCorrupt = errors.New("pmem: snapshot corrupt")
)

// RangeError describes a range request that does not fit the mapping.
//
// errors.Is(err, ErrOutOfRange) matches it.
type RangeError struct {
	Off  int
	Len  int
	Size int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%d, %d) outside mapping of %d bytes", e.Off, e.Off+e.Len, e.Size)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// SnapshotError describes why snapshot data was rejected.
//
// errors.Is(err, ErrSnapshotCorrupt) matches it.
type SnapshotError struct {
	Reason string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot corrupt: %s", e.Reason)
}

func (e *SnapshotError) Unwrap() error { return ErrSnapshotCorrupt }

// SizeMismatchError is returned when a snapshot was taken from a region of a
// different size than the mapping it is being restored into.
type SizeMismatchError struct {
	Snapshot int64
	Mapping  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("snapshot size %d does not match mapping size %d", e.Snapshot, e.Mapping)
}
