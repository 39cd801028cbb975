package kernel

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by host-facing constructors and lookups. Guest
// APIs themselves mostly report failure as a bool/status return — these
// are for host-programmer misuse (nil args, double init) that the
// original would have asserted on.
var (
	ErrNilThread     = errors.New("kernel: nil thread")
	ErrInvalidCore   = errors.New("kernel: invalid core id")
	ErrNotOwner      = errors.New("kernel: unlock by non-owner")
	ErrAlreadyJoined = errors.New("kernel: thread already has a joiner")
)

// FatalError represents a guest/emulator invariant violation: a corrupted
// stack sentinel, an unlock by a non-owner, or a scheduler consistency
// check that failed. These indicate a bug in the guest or the emulator,
// not a recoverable user error, so FatalError is meant to be passed to
// panic(), not returned and inspected.
type FatalError struct {
	Op     string
	Thread *Thread
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Thread != nil {
		return fmt.Sprintf("kernel: fatal: %s (thread %d %q): %v", e.Op, e.Thread.id, e.Thread.name, e.Cause)
	}
	return fmt.Sprintf("kernel: fatal: %s: %v", e.Op, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

func fatal(op string, t *Thread, cause error) {
	panic(&FatalError{Op: op, Thread: t, Cause: cause})
}
