package types

// State represents the manager lifecycle state.
//
// States follow a defined progression during normal operation:
//
//	StateInit → StateRunning → StateDraining → StateShutdown
//
// StateDraining covers the stop broadcast and the bounded wait for worker
// acknowledgements. StateShutdown is terminal.
type State int

const (
	// StateInit is the initial state before Run is called.
	StateInit State = iota

	// StateRunning indicates the manager loop is dispatching work.
	StateRunning

	// StateDraining indicates stop has been broadcast and the manager is
	// waiting for worker acknowledgements.
	StateDraining

	// StateShutdown indicates the run has ended. Terminal.
	StateShutdown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// RunStatus is the termination status code returned to the caller.
type RunStatus int

const (
	// StatusClean (0): clean completion by exit criteria.
	StatusClean RunStatus = 0

	// StatusWorkerFailure (1): completion after a non-fatal worker failure.
	StatusWorkerFailure RunStatus = 1

	// StatusFatal (2): all workers lost; the run could not continue.
	StatusFatal RunStatus = 2

	// StatusWallClock (3): the wall-clock deadline expired.
	StatusWallClock RunStatus = 3
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusWorkerFailure:
		return "worker-failure"
	case StatusFatal:
		return "fatal"
	case StatusWallClock:
		return "wall-clock-exceeded"
	default:
		return "unknown"
	}
}

// UnreturnedRow describes one row that never reached Returned by run end.
type UnreturnedRow struct {
	// ID is the ledger row id.
	ID int64 `json:"id"`

	// Worker is the last holder (0 if never dispatched).
	Worker int `json:"worker,omitempty"`

	// Reason explains why the row did not return (peer lost, routine error,
	// cancelled at shutdown, retries exhausted).
	Reason string `json:"reason"`
}

// RunReport summarizes how a run ended.
//
// The report always accounts for every row that never returned alongside
// the partial ledger, so no work silently disappears.
type RunReport struct {
	// Status is the termination status code.
	Status RunStatus `json:"status"`

	// Unreturned lists rows that never reached Returned, with reasons.
	Unreturned []UnreturnedRow `json:"unreturned,omitempty"`

	// CrashedWorkers lists worker ids declared failed during the run.
	CrashedWorkers []int `json:"crashed_workers,omitempty"`

	// Workers holds the final worker records.
	Workers []WorkerRecord `json:"workers,omitempty"`
}
