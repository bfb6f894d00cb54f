package types

import "context"

// Hooks defines callbacks for manager lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the manager loop. Hooks receive the run's lifecycle
// context, which is cancelled during shutdown.
//
// Best practices for hook implementation:
//   - Complete quickly (< 1 second recommended)
//   - Respect context cancellation
//   - Make hooks idempotent (may be called multiple times)
//   - Handle errors gracefully (returned errors are logged, never fatal)
type Hooks struct {
	// OnStateChanged is called when the manager state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnRowsReturned is called after results are folded into the ledger.
	OnRowsReturned func(ctx context.Context, ids []int64, kind RoutineKind) error

	// OnWorkerFailed is called when a worker is declared failed, with the
	// row ids released back to the pool.
	OnWorkerFailed func(ctx context.Context, worker int, released []int64) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
