package metrics

import "github.com/hpcoord/ensemble/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	collector := metrics.NewNop()
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy, ensemble.WithMetrics(collector))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ManagerMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
	// No-op
}

// RecordAllocation discards the allocation metric.
func (n *NopMetrics) RecordAllocation(_ /* items */ int, _ /* duration */ float64) {
	// No-op
}

// RecordWorkerFailure discards the worker failure metric.
func (n *NopMetrics) RecordWorkerFailure(_ /* workerID */ int, _ /* reason */ string) {
	// No-op
}

// RecordActiveWorkers discards the active worker gauge update.
func (n *NopMetrics) RecordActiveWorkers(_ /* count */ int) {
	// No-op
}

// LedgerMetrics implementation

// RecordRowsAppended discards the rows appended metric.
func (n *NopMetrics) RecordRowsAppended(_ /* count */ int, _ /* kind */ types.RoutineKind) {
	// No-op
}

// RecordRowsReturned discards the rows returned metric.
func (n *NopMetrics) RecordRowsReturned(_ /* count */ int, _ /* kind */ types.RoutineKind) {
	// No-op
}

// RecordRowsReleased discards the rows released metric.
func (n *NopMetrics) RecordRowsReleased(_ /* count */ int) {
	// No-op
}

// CommsMetrics implementation

// RecordMessage discards the message traffic metric.
func (n *NopMetrics) RecordMessage(_ /* kind */ string, _ /* direction */ string) {
	// No-op
}

// WorkerRuntimeMetrics implementation

// RecordRoutineDuration discards the routine duration metric.
func (n *NopMetrics) RecordRoutineDuration(_ /* kind */ types.RoutineKind, _ /* duration */ float64, _ /* success */ bool) {
	// No-op
}
