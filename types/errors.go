package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the ensemble core.
//
// All components surface known failure modes through these sentinel and
// typed errors so callers can branch with errors.Is / errors.As. External
// errors are wrapped with context using fmt.Errorf("...: %w", err).
//
// Transport and worker-runtime errors never cross into the manager loop as
// panics; they are converted to typed events the loop consumes.

var (
	// ErrTimeout is returned when a bounded wait expires. The manager loop
	// escalates it to peer loss unless it is the top-level wall-clock
	// criterion, which is a clean exit reason.
	ErrTimeout = errors.New("timed out waiting for message")

	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("endpoint closed")

	// ErrSessionClosed is returned by Session.Recv after the manager has
	// requested the session to stop.
	ErrSessionClosed = errors.New("persistent session closed")

	// ErrUnknownRow is returned for row ids absent from the ledger.
	ErrUnknownRow = errors.New("unknown ledger row id")
)

// InvalidTransitionError reports a forbidden ledger row status change.
//
// This is a programming error in calling discipline and is fatal to the run.
type InvalidTransitionError struct {
	Row    int64
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on row %d: %s", e.Op, e.Row, e.Reason)
}

// SchemaMismatchError reports a payload whose shape violates the declared
// run schema. Fatal to the run.
type SchemaMismatchError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on field %q: %s", e.Field, e.Reason)
}

// PeerLostError reports that a worker endpoint died or became unreachable.
//
// Recoverable: the manager releases the worker's rows for reassignment and
// the run continues while live workers remain.
type PeerLostError struct {
	Worker int
	Cause  error
}

// Error implements the error interface.
func (e *PeerLostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("lost worker %d: %v", e.Worker, e.Cause)
	}

	return fmt.Sprintf("lost worker %d", e.Worker)
}

// Unwrap returns the underlying transport error.
func (e *PeerLostError) Unwrap() error { return e.Cause }

// RoutineError reports an error raised by a user routine, captured with the
// row ids the worker held so no work silently disappears.
type RoutineError struct {
	Worker int
	RowIDs []int64
	Cause  error
}

// Error implements the error interface.
func (e *RoutineError) Error() string {
	return fmt.Sprintf("routine error on worker %d (rows %v): %v", e.Worker, e.RowIDs, e.Cause)
}

// Unwrap returns the underlying routine error.
func (e *RoutineError) Unwrap() error { return e.Cause }

// IsPeerLost reports whether err is (or wraps) a PeerLostError, returning
// the lost worker id.
func IsPeerLost(err error) (int, bool) {
	var pl *PeerLostError
	if errors.As(err, &pl) {
		return pl.Worker, true
	}

	return 0, false
}
