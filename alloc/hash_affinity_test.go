package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpcoord/ensemble/ledger"
	"github.com/hpcoord/ensemble/types"
)

// keyedView builds a view whose unallocated rows carry the given affinity
// keys in a "group" string field.
func keyedView(t *testing.T, keys ...string) types.LedgerView {
	t.Helper()

	l := ledger.New(types.Schema{Fields: []types.Field{
		{Name: "group", Kind: types.FieldString},
		{Name: "f", Kind: types.FieldFloat},
	}})

	payloads := make([]types.Payload, len(keys))
	for i, k := range keys {
		payloads[i] = types.Payload{"group": types.StringValue(k)}
	}
	_, err := l.Append(payloads, types.KindGen)
	require.NoError(t, err)

	return l.Snapshot()
}

func TestHashAffinity_Allocate(t *testing.T) {
	t.Run("same key lands on the same worker", func(t *testing.T) {
		// Batch large enough that every preferred worker drains its whole
		// bucket, so the keyed rows are never stolen.
		policy := NewHashAffinity(
			WithAffinityKey("group"),
			WithAffinitySeed(42),
			WithAffinitySimBatch(6),
		)
		view := keyedView(t, "a", "a", "a", "b", "b", "c")

		owner := map[string]int{}
		items, err := policy.Allocate(view, idleWorkers(1, 2, 3, 4))
		require.NoError(t, err)
		for _, item := range items {
			require.Equal(t, types.KindSim, item.Kind)
			for _, id := range item.RowIDs {
				row, ok := view.Row(id)
				require.True(t, ok)
				key := row.Payload["group"].Str
				if prev, seen := owner[key]; seen {
					require.Equal(t, prev, item.Worker, "key %q split across workers", key)
				}
				owner[key] = item.Worker
			}
		}
	})

	t.Run("deterministic on identical snapshots", func(t *testing.T) {
		policy := NewHashAffinity(WithAffinityKey("group"), WithAffinitySeed(7))
		view := keyedView(t, "a", "b", "c", "d", "e")
		workers := idleWorkers(1, 2, 3)

		first, err := policy.Allocate(view, workers)
		require.NoError(t, err)
		for range 10 {
			again, err := policy.Allocate(view, workers)
			require.NoError(t, err)
			require.Equal(t, first, again)
		}
	})

	t.Run("idle workers without affine rows steal the oldest", func(t *testing.T) {
		// One distinct key: all rows prefer a single worker, yet every idle
		// worker must still receive work.
		policy := NewHashAffinity(WithAffinityKey("group"))
		view := keyedView(t, "only", "only", "only", "only")

		items, err := policy.Allocate(view, idleWorkers(1, 2, 3))
		require.NoError(t, err)
		require.Len(t, items, 3)

		seen := map[int64]bool{}
		for _, item := range items {
			require.Equal(t, types.KindSim, item.Kind)
			require.Len(t, item.RowIDs, 1)
			require.False(t, seen[item.RowIDs[0]], "row dispatched twice")
			seen[item.RowIDs[0]] = true
		}
	})

	t.Run("falls back to row id without a key field", func(t *testing.T) {
		policy := NewHashAffinity(WithAffinitySeed(1))
		view := testView(t, 6, 0, 0)

		items, err := policy.Allocate(view, idleWorkers(1, 2))
		require.NoError(t, err)
		require.Len(t, items, 2)
		for _, item := range items {
			require.Equal(t, types.KindSim, item.Kind)
		}
	})

	t.Run("issues gen work when no rows remain", func(t *testing.T) {
		policy := NewHashAffinity()
		view := testView(t, 0, 0, 0)

		items, err := policy.Allocate(view, idleWorkers(1, 2))
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, types.KindGen, items[0].Kind)
		require.Equal(t, 1, items[0].Worker)
	})

	t.Run("crashed workers never preferred", func(t *testing.T) {
		policy := NewHashAffinity(WithAffinityKey("group"), WithAffinitySeed(42))
		view := keyedView(t, "a", "b", "c", "d", "e", "f")

		workers := []types.WorkerRecord{
			{ID: 1, State: types.WorkerIdle},
			{ID: 2, State: types.WorkerCrashed},
			{ID: 3, State: types.WorkerIdle},
		}
		items, err := policy.Allocate(view, workers)
		require.NoError(t, err)
		for _, item := range items {
			require.NotEqual(t, 2, item.Worker)
		}
	})

	t.Run("errors with no live workers", func(t *testing.T) {
		policy := NewHashAffinity()
		view := testView(t, 1, 0, 0)

		_, err := policy.Allocate(view, []types.WorkerRecord{
			{ID: 1, State: types.WorkerCrashed},
		})
		require.ErrorIs(t, err, ErrNoWorkers)
	})
}

func TestHashAffinity_SimBatch(t *testing.T) {
	policy := NewHashAffinity(WithAffinitySimBatch(3))
	view := testView(t, 5, 0, 0)

	items, err := policy.Allocate(view, idleWorkers(1, 2))
	require.NoError(t, err)

	total := 0
	for _, item := range items {
		require.LessOrEqual(t, len(item.RowIDs), 3)
		total += len(item.RowIDs)
	}
	require.Equal(t, 5, total)
}
