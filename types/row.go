package types

import "time"

// RoutineKind identifies the category of user routine that produced or will
// consume a row.
type RoutineKind int

const (
	// KindNone marks rows or work items with no routine binding.
	KindNone RoutineKind = iota

	// KindGen marks generation-kind work: routines that propose new rows.
	KindGen

	// KindSim marks simulation-kind work: routines that evaluate existing rows.
	KindSim
)

// String returns the string representation of the routine kind.
func (k RoutineKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindGen:
		return "gen"
	case KindSim:
		return "sim"
	default:
		return "unknown"
	}
}

// Row is one work-unit in the ledger.
//
// Status flags are monotone: once set, only cancellation may later flip a
// non-returned row out of the pipeline. A row transitions
//
//	unallocated → allocated → given → returned
//
// and never regresses except via Release after a worker failure, which
// returns an unreturned row to the allocatable pool.
type Row struct {
	// ID is the monotonically increasing row identifier, unique for the
	// run's lifetime and never reused.
	ID int64 `json:"id"`

	// Allocated is set when the allocation engine has emitted the row in a
	// work item.
	Allocated bool `json:"allocated"`

	// Given is set when the row has been dispatched to a worker.
	Given bool `json:"given"`

	// Returned is set when the worker's output for the row has been folded
	// back into the ledger. Terminal together with Cancelled.
	Returned bool `json:"returned"`

	// Cancelled is set when the manager withdrew the row before completion.
	Cancelled bool `json:"cancelled"`

	// GivenTime records the first dispatch time. Set once.
	GivenTime time.Time `json:"given_time,omitzero"`

	// ReturnedTime records the completion time. Set once.
	ReturnedTime time.Time `json:"returned_time,omitzero"`

	// Owner is the worker currently holding (or that last held) the row.
	// Zero means unowned. Reassignable only after the prior holder is
	// declared failed.
	Owner int `json:"owner"`

	// ProducedBy records which routine kind created the row. The allocation
	// engine uses it for routing.
	ProducedBy RoutineKind `json:"produced_by"`

	// Retries counts how many times the row was released back to the pool
	// after a worker failure.
	Retries int `json:"retries,omitempty"`

	// Payload holds the user-declared domain columns.
	Payload Payload `json:"payload"`
}

// InFlight reports whether the row is currently held by a worker.
func (r Row) InFlight() bool {
	return r.Given && !r.Returned && !r.Cancelled
}

// Allocatable reports whether the allocation engine may hand the row out.
func (r Row) Allocatable() bool {
	return !r.Allocated && !r.Cancelled && !r.Returned
}

// Terminal reports whether the row has reached a final state.
func (r Row) Terminal() bool {
	return r.Returned || r.Cancelled
}
