package types

// WorkerState is the manager-side view of a worker's lifecycle.
type WorkerState int

const (
	// WorkerIdle means the worker has no outstanding work.
	WorkerIdle WorkerState = iota

	// WorkerActive means the worker is executing a one-shot work item.
	WorkerActive

	// WorkerPersistent means the worker holds a long-lived session and is
	// exchanging messages with the manager.
	WorkerPersistent

	// WorkerCrashed is terminal for the worker id. Its held rows are
	// released back to the pool, but the record itself is kept for the
	// final report.
	WorkerCrashed
)

// String returns the string representation of the worker state.
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerActive:
		return "active"
	case WorkerPersistent:
		return "persistent-active"
	case WorkerCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// WorkerRecord is the manager's bookkeeping entry for one worker.
//
// Records are refreshed once per manager loop iteration; the allocation
// engine sees an immutable snapshot of them.
type WorkerRecord struct {
	// ID is the worker's small integer endpoint id (1..N).
	ID int `json:"id"`

	// State is the current lifecycle state.
	State WorkerState `json:"state"`

	// ActiveRows lists the ledger row ids currently assigned to the worker.
	// Empty unless State is WorkerActive or WorkerPersistent.
	ActiveRows []int64 `json:"active_rows,omitempty"`

	// ActiveKind is the routine kind of the outstanding work item.
	ActiveKind RoutineKind `json:"active_kind,omitempty"`

	// Failures counts routine errors attributed to this worker.
	Failures int `json:"failures,omitempty"`
}

// Idle reports whether the worker can accept a new work item.
func (w WorkerRecord) Idle() bool {
	return w.State == WorkerIdle
}

// Clone returns a deep copy of the record.
func (w WorkerRecord) Clone() WorkerRecord {
	cp := w
	cp.ActiveRows = append([]int64(nil), w.ActiveRows...)

	return cp
}
