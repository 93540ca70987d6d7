// Package vdm defines the virtual data-mover contract: an asynchronous
// interface for memory copy and move operations.
//
// A Mover backend implements four lifecycle verbs (NewOperation, Start,
// Check, Delete) and the Future type drives them from the caller side by
// polling. The contract deliberately permits backends that complete work
// long after Start returns (queued or offloaded movers); the synchronous
// reference backend simply completes everything inside Start. Callers must
// never assume Start is non-blocking, and must always observe completion
// through polling rather than by returning from Start.
package vdm

import (
	"errors"
	"unsafe"
)

// Kind identifies an operation type. The set is closed: backends
// dispatch exhaustively and treat any other value as a protocol
// violation, not a runtime error.
type Kind uint32

const (
	// KindMemcpy copies between non-overlapping ranges.
	KindMemcpy Kind = iota + 1
	// KindMemmove copies between possibly overlapping ranges.
	KindMemmove
)

// String returns the kind's name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindMemcpy:
		return "memcpy"
	case KindMemmove:
		return "memmove"
	default:
		return "unknown"
	}
}

// State is the observable lifecycle state of an operation.
type State int

const (
	// StateIdle means the operation has not started (or, from Check, that
	// a started operation is still pending).
	StateIdle State = iota
	// StateRunning means the operation has been started and not yet
	// observed complete by the driving future.
	StateRunning
	// StateComplete means the operation finished and its output is valid.
	StateComplete
)

// Status is the result classification carried in an Output.
type Status int

const (
	// StatusSuccess indicates the operation completed.
	StatusSuccess Status = iota
	// StatusFailure is reserved for backends whose primitives can fail;
	// the synchronous backend never produces it.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Operation describes a requested copy or move. Dst and Src must be the
// exact ranges: len(Src) bytes are transferred to Dst[0:len(Src)].
// Flags carry backend-specific durability hints and pass through the
// framework uninterpreted.
type Operation struct {
	Kind  Kind
	Dst   []byte
	Src   []byte
	Flags uint64
}

// Output is the result of a completed operation, populated by the
// backend's Delete.
type Output struct {
	Kind   Kind
	Result Status
	// Dst is the destination range of a memcpy/memmove, returned so
	// callers can chain or verify.
	Dst []byte
}

// Handle refers to backend-private per-operation state. It is allocated
// by NewOperation and valid until Delete.
type Handle = unsafe.Pointer

// NotifierKind enumerates completion notification mechanisms.
type NotifierKind int

const (
	// NotifierNone means the backend completes synchronously or offers no
	// wake mechanism; callers must poll.
	NotifierNone NotifierKind = iota
	// NotifierPoller means the backend exposes a memory location to poll.
	NotifierPoller
	// NotifierWaker means the backend will invoke Wake on completion.
	NotifierWaker
)

// Notifier is offered to Start by a driver that can sleep. The backend
// records in Used which mechanism it will honor; NotifierNone tells the
// driver to poll Check instead of waiting.
type Notifier struct {
	Used NotifierKind
	// Wake is invoked on completion when Used is NotifierWaker.
	Wake func()
}

// ErrCreateFailed wraps backend allocation failures surfaced by the
// Memcpy/Memmove constructors.
var ErrCreateFailed = errors.New("vdm: operation creation failed")

// Mover is the backend contract.
//
// The completion protocol is the backend's responsibility: everything the
// operation wrote must be visible to any goroutine that observes
// StateComplete from Check. Delete must be called exactly once, only
// after Check has reported completion, and invalidates the handle.
type Mover interface {
	// NewOperation allocates per-operation state for the given kind.
	// A nil handle with an error means the operation could not be
	// created; no partial state is retained.
	NewOperation(kind Kind) (Handle, error)

	// Start begins (and, for synchronous backends, completes) the
	// operation. Start must be called at most once per handle.
	Start(h Handle, op *Operation, n *Notifier) error

	// Check reports whether the operation has completed. It never
	// blocks and is safe to call repeatedly from any goroutine,
	// including before Start (which reports StateIdle).
	Check(h Handle) State

	// Delete populates out and releases the handle's state.
	Delete(h Handle, op *Operation, out *Output)
}
