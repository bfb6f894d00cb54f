package ensemble

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpcoord/ensemble/internal/logging"
	"github.com/hpcoord/ensemble/internal/metrics"
	"github.com/hpcoord/ensemble/persist"
)

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
	store   persist.Store
	runID   string
	seed    uint64
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &ensemble.Hooks{
//	    OnRowsReturned: func(ctx context.Context, ids []int64, kind ensemble.RoutineKind) error {
//	        return recordProgress(ids, kind)
//	    },
//	}
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy, ensemble.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := metrics.NewPrometheus(nil, "ensemble")
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy, ensemble.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := zap.NewExample().Sugar()
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy, ensemble.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithCheckpointStore injects the checkpoint backend used for periodic
// ledger snapshots, overriding the file store derived from
// Config.Checkpoint.Path.
//
// Parameters:
//   - store: Checkpoint store (e.g. persist.NewNATSStore)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	store, err := persist.NewNATSStore(ctx, nc, "")
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy,
//	    ensemble.WithCheckpointStore(store),
//	)
func WithCheckpointStore(store persist.Store) Option {
	return func(o *managerOptions) {
		o.store = store
	}
}

// WithRunID fixes the run identifier instead of generating a random one.
//
// Runs resume automatically: when a checkpoint store holds a snapshot for
// this id, the manager restores the ledger from it before dispatching work.
//
// Parameters:
//   - id: Stable run identifier
//
// Returns:
//   - Option: Functional option for NewManager
func WithRunID(id string) Option {
	return func(o *managerOptions) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithSeed sets the base seed for per-worker random streams. Worker w
// receives seed+w, giving every worker an independent, reproducible stream.
// Defaults to 0.
func WithSeed(seed uint64) Option {
	return func(o *managerOptions) {
		o.seed = seed
	}
}

// NewPrometheusMetrics returns a MetricsCollector backed by Prometheus,
// registering all run metrics on reg under the "ensemble" namespace.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy,
//	    ensemble.WithMetrics(ensemble.NewPrometheusMetrics(reg)))
func NewPrometheusMetrics(reg prometheus.Registerer) MetricsCollector {
	return metrics.NewPrometheus(reg, "ensemble")
}

// NewSlogLogger returns a Logger backed by the given slog logger. Passing
// nil uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return logging.NewSlogDefault()
	}

	return logging.NewSlog(l)
}
