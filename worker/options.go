package worker

import (
	"time"

	"github.com/hpcoord/ensemble/types"
)

// Option configures a Runner with optional dependencies.
type Option func(*runnerOptions)

// runnerOptions holds optional Runner configuration.
type runnerOptions struct {
	gen           types.Routine
	sim           types.Routine
	persistentGen types.PersistentRoutine
	specs         map[types.RoutineKind]types.RoutineSpec
	logger        types.Logger
	metrics       types.WorkerRuntimeMetrics
	pollInterval  time.Duration
}

// WithGen binds the one-shot generation routine and its I/O contract.
//
// Parameters:
//   - r: Routine invoked for generation work items
//   - spec: Declared inputs, outputs and batch size
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	runner, err := worker.New(ep, worker.WithGen(genRoutine, genSpec))
func WithGen(r types.Routine, spec types.RoutineSpec) Option {
	return func(o *runnerOptions) {
		o.gen = r
		spec.Kind = types.KindGen
		o.specs[types.KindGen] = spec
	}
}

// WithSim binds the simulation routine and its I/O contract.
//
// Parameters:
//   - r: Routine invoked for simulation work items
//   - spec: Declared inputs and outputs
//
// Returns:
//   - Option: Functional option for New
func WithSim(r types.Routine, spec types.RoutineSpec) Option {
	return func(o *runnerOptions) {
		o.sim = r
		spec.Kind = types.KindSim
		o.specs[types.KindSim] = spec
	}
}

// WithPersistentGen binds the persistent generation routine. A runner with a
// persistent routine can still serve one-shot work; the manager's allocation
// policy decides which form it receives.
//
// Parameters:
//   - r: PersistentRoutine driven through a Session for the run's duration
//   - spec: Declared inputs, outputs and batch size
//
// Returns:
//   - Option: Functional option for New
func WithPersistentGen(r types.PersistentRoutine, spec types.RoutineSpec) Option {
	return func(o *runnerOptions) {
		o.persistentGen = r
		spec.Kind = types.KindGen
		o.specs[types.KindGen] = spec
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for New
func WithLogger(logger types.Logger) Option {
	return func(o *runnerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets a metrics collector for routine instrumentation.
//
// Parameters:
//   - metrics: WorkerRuntimeMetrics implementation
//
// Returns:
//   - Option: Functional option for New
func WithMetrics(metrics types.WorkerRuntimeMetrics) Option {
	return func(o *runnerOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithPollInterval sets the bounded wait used between transport polls
// (default 100ms). Shorter intervals react to context cancellation faster
// at slightly higher idle cost.
func WithPollInterval(d time.Duration) Option {
	return func(o *runnerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
