package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from the manager loop and worker runtimes and must
// be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ManagerMetrics
	LedgerMetrics
	CommsMetrics
	WorkerRuntimeMetrics
}

// ManagerMetrics defines metrics for manager-level operations.
type ManagerMetrics interface {
	// RecordStateTransition records a manager state transition event.
	RecordStateTransition(from, to State, duration float64)

	// RecordAllocation records one allocation-engine invocation.
	//
	// Parameters:
	//   - items: Number of work items emitted
	//   - duration: Time taken in seconds
	RecordAllocation(items int, duration float64)

	// RecordWorkerFailure records a worker declared failed.
	//
	// Parameters:
	//   - workerID: The failed worker
	//   - reason: Failure class ("peer_lost", "routine_error")
	RecordWorkerFailure(workerID int, reason string)

	// RecordActiveWorkers sets the current live worker count (gauge metric).
	RecordActiveWorkers(count int)
}

// LedgerMetrics defines metrics for ledger mutations.
type LedgerMetrics interface {
	// RecordRowsAppended records rows appended to the ledger.
	RecordRowsAppended(count int, kind RoutineKind)

	// RecordRowsReturned records rows folded back into the ledger.
	RecordRowsReturned(count int, kind RoutineKind)

	// RecordRowsReleased records rows released back to the pool after a
	// worker failure.
	RecordRowsReleased(count int)
}

// CommsMetrics defines metrics for transport traffic.
type CommsMetrics interface {
	// RecordMessage records a message send or receive.
	//
	// Parameters:
	//   - kind: Message kind string
	//   - direction: "send" or "recv"
	RecordMessage(kind string, direction string)
}

// WorkerRuntimeMetrics defines metrics recorded by worker runtimes.
type WorkerRuntimeMetrics interface {
	// RecordRoutineDuration records one routine invocation.
	//
	// Parameters:
	//   - kind: Routine kind
	//   - duration: Time taken in seconds
	//   - success: false if the routine returned an error
	RecordRoutineDuration(kind RoutineKind, duration float64, success bool)
}
