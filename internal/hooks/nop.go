package hooks

import (
	"context"

	"github.com/hpcoord/ensemble/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error   = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, []int64, types.RoutineKind) error = (*NopHooks)(nil).OnRowsReturned
	_ func(context.Context, int, []int64) error               = (*NopHooks)(nil).OnWorkerFailed
	_ func(context.Context, error) error                      = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnRowsReturned: h.OnRowsReturned,
		OnWorkerFailed: h.OnWorkerFailed,
		OnError:        h.OnError,
	}
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(ctx context.Context, from, to types.State) error {
	return nil
}

// OnRowsReturned is a no-op implementation.
func (h *NopHooks) OnRowsReturned(ctx context.Context, ids []int64, kind types.RoutineKind) error {
	return nil
}

// OnWorkerFailed is a no-op implementation.
func (h *NopHooks) OnWorkerFailed(ctx context.Context, worker int, released []int64) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
