package types

import "time"

// LedgerView is the read-only ledger snapshot the allocation engine and exit
// criteria inspect.
//
// Views are immutable once taken; the manager takes a fresh view after every
// ledger mutation.
type LedgerView interface {
	// Len returns the number of rows.
	Len() int

	// Row returns the row with the given id.
	Row(id int64) (Row, bool)

	// Rows returns all rows in id order. Callers must not mutate.
	Rows() []Row

	// NextID returns the id the next appended row will receive.
	NextID() int64

	// ReturnedCount returns the number of returned rows produced by the
	// given routine kind (KindNone counts all returned rows).
	ReturnedCount(kind RoutineKind) int
}

// Allocator decides what work to dispatch next.
//
// Implementations are pure functions of the visible state: given an
// identical ledger view and worker-record snapshot they must return an
// identical work-item list, enabling deterministic replay in tests. Any
// randomness must come through explicitly seeded state in PersisInfo.
//
// The manager invokes Allocate after every ledger mutation and worker state
// change, synchronously within the loop step, so implementations must not
// block. Allocators are swappable without touching the manager loop or the
// transport.
type Allocator interface {
	// Allocate returns the work items to dispatch given the current state.
	//
	// Parameters:
	//   - view: Immutable ledger snapshot
	//   - workers: Worker records, refreshed this loop iteration
	//
	// Returns:
	//   - []WorkItem: Assignments to dispatch (may be empty)
	//   - error: Allocation error (fatal to the run)
	Allocate(view LedgerView, workers []WorkerRecord) ([]WorkItem, error)
}

// ExitCriteria are the predicates over ledger state and elapsed time that
// end a run.
//
// The zero value never triggers; the run then ends only through worker
// exhaustion or context cancellation.
type ExitCriteria struct {
	// SimMax ends the run once this many rows have completed simulation and
	// returned (0 = no cap).
	SimMax int `yaml:"simMax"`

	// WallClock ends the run after this elapsed time (0 = no deadline).
	// Expiry is a clean exit with StatusWallClock, not a peer-loss event.
	WallClock time.Duration `yaml:"wallClock"`

	// Stop is an optional user predicate over the ledger. Evaluated once
	// per loop iteration.
	Stop func(view LedgerView) bool `yaml:"-"`
}

// Met reports whether the row-count or custom predicate criteria hold.
// The wall clock is enforced separately by the manager loop.
func (c ExitCriteria) Met(view LedgerView) bool {
	if c.SimMax > 0 && view.ReturnedCount(KindNone) >= c.SimMax {
		return true
	}
	if c.Stop != nil && c.Stop(view) {
		return true
	}

	return false
}
