package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpcoord/ensemble/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Metrics are registered lazily on first use. Registering against a registry
// that already holds the same metric families reuses the existing collectors,
// so several instances can safely share prometheus.DefaultRegisterer.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions  *prometheus.CounterVec
	stateDuration     *prometheus.HistogramVec
	allocationItems   prometheus.Histogram
	allocationLatency prometheus.Histogram
	workerFailures    *prometheus.CounterVec
	activeWorkers     prometheus.Gauge

	rowsAppended *prometheus.CounterVec
	rowsReturned *prometheus.CounterVec
	rowsReleased prometheus.Counter

	messages *prometheus.CounterVec

	routineDuration *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "ensemble" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "ensemble"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "state_transitions_total",
			Help:      "Total manager state transitions by from/to state.",
		}, []string{"from", "to"})

		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "state_duration_seconds",
			Help:      "Time spent in each manager state in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"state"})

		p.allocationItems = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "allocation_items",
			Help:      "Work items emitted per allocation-engine invocation.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		})

		p.allocationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "allocation_latency_seconds",
			Help:      "Latency of allocation-engine invocations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us .. ~200ms
		})

		p.workerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "worker_failures_total",
			Help:      "Total workers declared failed by reason (peer_lost,routine_error).",
		}, []string{"reason"})

		p.activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "active_workers",
			Help:      "Current number of live workers.",
		})

		p.rowsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ledger",
			Name:      "rows_appended_total",
			Help:      "Total rows appended to the ledger by producing routine kind.",
		}, []string{"kind"})

		p.rowsReturned = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ledger",
			Name:      "rows_returned_total",
			Help:      "Total rows folded back into the ledger by routine kind.",
		}, []string{"kind"})

		p.rowsReleased = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ledger",
			Name:      "rows_released_total",
			Help:      "Total rows released back to the pool after worker failures.",
		})

		p.messages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "comms",
			Name:      "messages_total",
			Help:      "Total transport messages by kind and direction (send,recv).",
		}, []string{"kind", "direction"})

		p.routineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "routine_duration_seconds",
			Help:      "Routine invocation duration in seconds by kind and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms .. ~32s
		}, []string{"kind", "outcome"})

		p.stateTransitions = register(p.reg, p.stateTransitions)
		p.stateDuration = register(p.reg, p.stateDuration)
		p.allocationItems = register(p.reg, p.allocationItems)
		p.allocationLatency = register(p.reg, p.allocationLatency)
		p.workerFailures = register(p.reg, p.workerFailures)
		p.activeWorkers = register(p.reg, p.activeWorkers)
		p.rowsAppended = register(p.reg, p.rowsAppended)
		p.rowsReturned = register(p.reg, p.rowsReturned)
		p.rowsReleased = register(p.reg, p.rowsReleased)
		p.messages = register(p.reg, p.messages)
		p.routineDuration = register(p.reg, p.routineDuration)
	})
}

// register registers a collector, reusing an existing one when another
// PrometheusCollector on the same registry got there first.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(C)
		}
		panic(err)
	}

	return c
}

// ManagerMetrics implementation

// RecordStateTransition records a manager state transition and the time spent
// in the previous state.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.stateDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordAllocation records one allocation-engine invocation.
func (p *PrometheusCollector) RecordAllocation(items int, duration float64) {
	p.ensureRegistered()
	p.allocationItems.Observe(float64(items))
	p.allocationLatency.Observe(duration)
}

// RecordWorkerFailure increments the failure counter for the given reason.
func (p *PrometheusCollector) RecordWorkerFailure(_ /* workerID */ int, reason string) {
	p.ensureRegistered()
	p.workerFailures.WithLabelValues(reason).Inc()
}

// RecordActiveWorkers sets the live worker gauge.
func (p *PrometheusCollector) RecordActiveWorkers(count int) {
	p.ensureRegistered()
	p.activeWorkers.Set(float64(count))
}

// LedgerMetrics implementation

// RecordRowsAppended increments the appended-row counter.
func (p *PrometheusCollector) RecordRowsAppended(count int, kind types.RoutineKind) {
	p.ensureRegistered()
	p.rowsAppended.WithLabelValues(kind.String()).Add(float64(count))
}

// RecordRowsReturned increments the returned-row counter.
func (p *PrometheusCollector) RecordRowsReturned(count int, kind types.RoutineKind) {
	p.ensureRegistered()
	p.rowsReturned.WithLabelValues(kind.String()).Add(float64(count))
}

// RecordRowsReleased increments the released-row counter.
func (p *PrometheusCollector) RecordRowsReleased(count int) {
	p.ensureRegistered()
	p.rowsReleased.Add(float64(count))
}

// CommsMetrics implementation

// RecordMessage increments the message counter for kind and direction.
func (p *PrometheusCollector) RecordMessage(kind string, direction string) {
	p.ensureRegistered()
	p.messages.WithLabelValues(kind, direction).Inc()
}

// WorkerRuntimeMetrics implementation

// RecordRoutineDuration observes one routine invocation.
func (p *PrometheusCollector) RecordRoutineDuration(kind types.RoutineKind, duration float64, success bool) {
	p.ensureRegistered()
	outcome := "success"
	if !success {
		outcome = "error"
	}
	p.routineDuration.WithLabelValues(kind.String(), outcome).Observe(duration)
}
