package comms

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	enstest "github.com/hpcoord/ensemble/testing"
	"github.com/hpcoord/ensemble/types"
)

func startNATS(t *testing.T, workers int) (*NATSEndpoint, []*NATSEndpoint) {
	t.Helper()

	_, nc := enstest.StartEmbeddedNATS(t)
	runID := uuid.NewString()

	mgr, err := JoinNATS(nc, runID, ManagerID, workers, 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	eps := make([]*NATSEndpoint, workers)
	for i := range workers {
		ep, err := JoinNATS(nc, runID, i+1, workers, 64)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ep.Close() })
		eps[i] = ep
	}

	require.NoError(t, nc.Flush())

	return mgr, eps
}

func TestNATSEndpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips messages both ways", func(t *testing.T) {
		mgr, workers := startNATS(t, 2)

		require.NoError(t, mgr.Send(ctx, 2, types.Message{
			Kind: types.MsgWork,
			Work: &types.WorkItem{Worker: 2, Kind: types.KindGen, Persis: types.PersisInfo{Worker: 2, Seed: 7}},
		}))

		msg, err := workers[1].Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, types.MsgWork, msg.Kind)
		require.Equal(t, ManagerID, msg.From)
		require.Equal(t, uint64(7), msg.Work.Persis.Seed)

		require.NoError(t, workers[1].Send(ctx, ManagerID, types.Message{
			Kind:     types.MsgResult,
			Payloads: []types.Payload{{"x": types.FloatVecValue([]float64{1, 2})}},
		}))

		res, err := mgr.Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, types.MsgResult, res.Kind)
		require.Equal(t, 2, res.From)
	})

	t.Run("endpoints of different runs are isolated", func(t *testing.T) {
		_, nc := enstest.StartEmbeddedNATS(t)

		mgrA, err := JoinNATS(nc, "run-a", ManagerID, 1, 16)
		require.NoError(t, err)
		defer mgrA.Close()
		mgrB, err := JoinNATS(nc, "run-b", ManagerID, 1, 16)
		require.NoError(t, err)
		defer mgrB.Close()
		workerA, err := JoinNATS(nc, "run-a", 1, 1, 16)
		require.NoError(t, err)
		defer workerA.Close()
		require.NoError(t, nc.Flush())

		require.NoError(t, workerA.Send(ctx, ManagerID, types.Message{Kind: types.MsgStopAck}))

		msg, err := mgrA.Recv(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, types.MsgStopAck, msg.Kind)

		_, err = mgrB.Recv(200 * time.Millisecond)
		require.ErrorIs(t, err, types.ErrTimeout)
	})

	t.Run("broadcast reaches all workers", func(t *testing.T) {
		mgr, workers := startNATS(t, 3)

		require.NoError(t, mgr.Broadcast(ctx, types.Message{Kind: types.MsgStop}))

		for _, w := range workers {
			msg, err := w.Recv(2 * time.Second)
			require.NoError(t, err)
			require.Equal(t, types.MsgStop, msg.Kind)
		}
	})

	t.Run("rejects out of range id", func(t *testing.T) {
		_, nc := enstest.StartEmbeddedNATS(t)

		_, err := JoinNATS(nc, "run", 5, 2, 16)
		require.Error(t, err)
	})
}
