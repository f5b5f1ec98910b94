// Package perr holds the sentinel errors shared by every primitive in
// this module, declared with errors.New and wrapped at call sites with
// github.com/pkg/errors for context.
package perr

import "errors"

var (
	// ErrNotFound is returned when a cache lookup misses.
	ErrNotFound = errors.New("perr: not found")

	// ErrClosed is returned by any operation on a component that has
	// already been shut down.
	ErrClosed = errors.New("perr: closed")

	// ErrTimeout is returned when a FIFO call's cumulative wait
	// exceeds its configured timeout.
	ErrTimeout = errors.New("perr: timed out")

	// ErrInvariantViolation covers contract violations detected at
	// runtime: PutAll with count > capacity, an out-of-range skip list
	// index, or a duplicate name registered with the process registry.
	ErrInvariantViolation = errors.New("perr: invariant violation")

	// ErrMisuse marks a call made in a way the contract forbids but
	// that checked builds choose to report rather than silently permit
	// (e.g. Get called from a thread other than the declared SPSC
	// consumer). Non-checked builds never return it.
	ErrMisuse = errors.New("perr: misuse")

	// ErrResourceExhausted wraps allocation and resource-limit failures.
	ErrResourceExhausted = errors.New("perr: resource exhausted")

	// ErrIndexOutOfRange is returned by skip list operations addressing
	// a position outside [0, count).
	ErrIndexOutOfRange = errors.New("perr: index out of range")

	// ErrShutdown is returned by worker pool or IO thread pool
	// operations attempted after shutdown.
	ErrShutdown = errors.New("perr: shut down")
)
