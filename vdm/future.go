package vdm

import (
	"context"
	"runtime"
)

// Future is a poll-driven handle to an in-flight operation.
//
// A Future must be driven by a single goroutine: Poll and Wait mutate
// driver-side state. The underlying backend may complete the operation on
// any goroutine; the backend's Check provides the synchronization.
type Future struct {
	mover    Mover
	handle   Handle
	op       Operation
	out      Output
	state    State
	notifier Notifier
}

// Memcpy creates a copy future. len(src) bytes will be copied into dst,
// which must be at least as long; overlapping dst/src is caller error for
// memcpy (use Memmove). The operation does not run until the future is
// polled.
func Memcpy(m Mover, dst, src []byte, flags uint64) (*Future, error) {
	return newFuture(m, KindMemcpy, dst, src, flags)
}

// Memmove creates a move future. Overlapping ranges are handled like
// memmove(3): the result is as if src were first copied aside.
func Memmove(m Mover, dst, src []byte, flags uint64) (*Future, error) {
	return newFuture(m, KindMemmove, dst, src, flags)
}

func newFuture(m Mover, kind Kind, dst, src []byte, flags uint64) (*Future, error) {
	h, err := m.NewOperation(kind)
	if err != nil {
		return nil, err
	}
	return &Future{
		mover:  m,
		handle: h,
		op: Operation{
			Kind:  kind,
			Dst:   dst,
			Src:   src,
			Flags: flags,
		},
	}, nil
}

// State returns the driver-side state without advancing the future.
func (f *Future) State() State {
	return f.state
}

// Poll advances the future: it starts the operation on the first call,
// then checks for completion, and on completion collects the output and
// releases the backend state. Poll never blocks beyond what the backend's
// Start does.
func (f *Future) Poll() (State, error) {
	switch f.state {
	case StateIdle:
		if err := f.mover.Start(f.handle, &f.op, &f.notifier); err != nil {
			return f.state, err
		}
		f.state = StateRunning
		fallthrough
	case StateRunning:
		if f.mover.Check(f.handle) == StateComplete {
			f.mover.Delete(f.handle, &f.op, &f.out)
			f.handle = nil
			f.state = StateComplete
		}
	}
	return f.state, nil
}

// Output returns the operation result. It is only valid once Poll has
// returned StateComplete.
func (f *Future) Output() (*Output, bool) {
	if f.state != StateComplete {
		return nil, false
	}
	return &f.out, true
}

// Wait drives the future to completion, yielding between polls, and
// returns its output. It stops early if ctx is canceled; the operation
// itself cannot be canceled and will still complete in the backend.
func (f *Future) Wait(ctx context.Context) (*Output, error) {
	for {
		state, err := f.Poll()
		if err != nil {
			return nil, err
		}
		if state == StateComplete {
			return &f.out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			runtime.Gosched()
		}
	}
}
