package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpcoord/ensemble/types"
)

func TestCheckpointRestore(t *testing.T) {
	t.Run("round trips rows, statuses, and next id exactly", func(t *testing.T) {
		l := New(testSchema())
		ids, err := l.Append(genPayloads(5), types.KindGen)
		require.NoError(t, err)

		now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		require.NoError(t, l.MarkAllocated(ids[:4]))
		require.NoError(t, l.MarkGiven(ids[:4], 2, now))
		require.NoError(t, l.MarkReturned(ids[:2], []types.Payload{
			{"f": types.FloatValue(1.25), "sim_id": types.IntValue(7)},
			{"f": types.FloatValue(-3.5)},
		}, now.Add(time.Second)))
		require.NoError(t, l.MarkCancelled(ids[4:]))

		data, err := l.Checkpoint()
		require.NoError(t, err)

		restored, err := Restore(data)
		require.NoError(t, err)

		require.Equal(t, l.NextID(), restored.NextID())
		require.Equal(t, l.Len(), restored.Len())
		require.Equal(t, l.Schema().Fingerprint(), restored.Schema().Fingerprint())

		for _, id := range ids {
			want, ok := l.Row(id)
			require.True(t, ok)
			got, ok := restored.Row(id)
			require.True(t, ok)
			require.Equal(t, want, got, "row %d must round-trip exactly", id)
		}

		// Restored ledger resumes the id sequence.
		more, err := restored.Append(genPayloads(1), types.KindGen)
		require.NoError(t, err)
		require.Equal(t, []int64{6}, more)
	})

	t.Run("int and float columns stay distinct", func(t *testing.T) {
		l := New(testSchema())
		ids, err := l.Append([]types.Payload{{
			"sim_id": types.IntValue(9007199254740993), // beyond float64 integer precision
		}}, types.KindGen)
		require.NoError(t, err)

		data, err := l.Checkpoint()
		require.NoError(t, err)
		restored, err := Restore(data)
		require.NoError(t, err)

		row, ok := restored.Row(ids[0])
		require.True(t, ok)
		require.Equal(t, types.FieldInt, row.Payload["sim_id"].Kind)
		require.Equal(t, int64(9007199254740993), row.Payload["sim_id"].Int)
	})

	t.Run("rejects tampered schema", func(t *testing.T) {
		l := New(testSchema())
		_, err := l.Append(genPayloads(1), types.KindGen)
		require.NoError(t, err)

		data, err := l.Checkpoint()
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))
		raw["schema"] = json.RawMessage(`{"fields":[{"name":"y","kind":1}]}`)
		tampered, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = Restore(tampered)
		var mismatch *types.SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
	})

	t.Run("empty ledger restores with id sequence at one", func(t *testing.T) {
		l := New(testSchema())
		data, err := l.Checkpoint()
		require.NoError(t, err)

		restored, err := Restore(data)
		require.NoError(t, err)
		require.Zero(t, restored.Len())
		require.Equal(t, int64(1), restored.NextID())
	})
}
