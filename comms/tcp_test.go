package comms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpcoord/ensemble/types"
)

func startTCP(t *testing.T, workers int) (*TCPManager, []*TCPWorker) {
	t.Helper()

	mgr, err := ListenTCP("127.0.0.1:0", 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	eps := make([]*TCPWorker, workers)
	for i := range workers {
		w, err := DialTCP(mgr.Addr(), i+1, 64)
		require.NoError(t, err)
		t.Cleanup(func() { _ = w.Close() })
		eps[i] = w
	}

	return mgr, eps
}

func TestTCPTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips messages both ways", func(t *testing.T) {
		mgr, workers := startTCP(t, 2)

		work := &types.WorkItem{
			Worker: 1,
			Kind:   types.KindSim,
			RowIDs: []int64{3, 4},
			Rows: []types.Row{
				{ID: 3, Payload: types.Payload{"x": types.FloatVecValue([]float64{0.5, 1.5})}},
				{ID: 4, Payload: types.Payload{"x": types.FloatVecValue([]float64{2.5, 3.5})}},
			},
			Persis: types.PersisInfo{Worker: 1, Seed: 42},
		}
		require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgWork, Work: work}))

		got, err := workers[0].Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, types.MsgWork, got.Kind)
		require.NotNil(t, got.Work)
		require.Equal(t, work.RowIDs, got.Work.RowIDs)
		require.Equal(t, uint64(42), got.Work.Persis.Seed)
		require.Equal(t, []float64{2.5, 3.5}, got.Work.Rows[1].Payload["x"].Floats)

		require.NoError(t, workers[0].Send(ctx, ManagerID, types.Message{
			Kind:     types.MsgResult,
			RowIDs:   []int64{3, 4},
			Payloads: []types.Payload{{"f": types.FloatValue(1)}, {"f": types.FloatValue(2)}},
		}))

		res, err := mgr.Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, types.MsgResult, res.Kind)
		require.Equal(t, 1, res.From)
		require.InDelta(t, 2.0, res.Payloads[1]["f"].Float, 1e-12)
	})

	t.Run("connection drop surfaces as peer lost", func(t *testing.T) {
		mgr, workers := startTCP(t, 2)

		require.NoError(t, workers[1].Close())

		// The reader notices the drop and queues a typed event.
		deadline := time.Now().Add(2 * time.Second)
		for {
			_, err := mgr.Recv(100 * time.Millisecond)
			if worker, lost := types.IsPeerLost(err); lost {
				require.Equal(t, 2, worker)
				break
			}
			require.False(t, time.Now().After(deadline), "no peer-lost event before deadline")
		}

		// Subsequent sends to the dead worker fail immediately.
		err := mgr.Send(ctx, 2, types.Message{Kind: types.MsgWork})
		_, lost := types.IsPeerLost(err)
		require.True(t, lost)

		// The surviving worker still works.
		require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgStop}))
		msg, err := workers[0].Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, types.MsgStop, msg.Kind)
	})

	t.Run("broadcast reaches all connected workers", func(t *testing.T) {
		mgr, workers := startTCP(t, 3)

		require.NoError(t, mgr.Broadcast(ctx, types.Message{Kind: types.MsgStop}))

		for _, w := range workers {
			msg, err := w.Recv(2 * time.Second)
			require.NoError(t, err)
			require.Equal(t, types.MsgStop, msg.Kind)
		}
	})

	t.Run("recv honors timeout", func(t *testing.T) {
		mgr, _ := startTCP(t, 1)

		_, err := mgr.Recv(50 * time.Millisecond)
		require.ErrorIs(t, err, types.ErrTimeout)
	})
}
