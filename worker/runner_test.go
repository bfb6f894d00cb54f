package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpcoord/ensemble/comms"
	enstest "github.com/hpcoord/ensemble/testing"
	"github.com/hpcoord/ensemble/types"
)

const testWait = 2 * time.Second

// doubler is a simulation routine producing f = 2x per input row.
func doubler(_ context.Context, in []types.Row, persis types.PersisInfo, _ types.RoutineSpec) ([]types.Payload, types.PersisInfo, error) {
	out := make([]types.Payload, len(in))
	for i, row := range in {
		x := row.Payload["x"].Float
		out[i] = types.Payload{"f": types.FloatValue(2 * x)}
	}

	return out, persis, nil
}

func simSpec() types.RoutineSpec {
	return types.RoutineSpec{
		In:  []string{"x"},
		Out: []types.Field{{Name: "f", Kind: types.FieldFloat}},
	}
}

func startRunner(t *testing.T, hub *comms.LocalHub, opts ...Option) (*Runner, chan error) {
	t.Helper()

	opts = append(opts, WithLogger(enstest.NewTestLogger(t)), WithPollInterval(10*time.Millisecond))
	runner, err := New(hub.Worker(1), opts...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	return runner, done
}

func stopRunner(t *testing.T, mgr comms.Endpoint, done chan error) {
	t.Helper()

	require.NoError(t, mgr.Send(context.Background(), 1, types.Message{Kind: types.MsgStop, To: 1}))
	for {
		msg, err := mgr.Recv(testWait)
		require.NoError(t, err)
		if msg.Kind == types.MsgStopAck {
			break
		}
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testWait):
		t.Fatal("runner did not exit after stop")
	}
}

func TestNew_Validation(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)

	t.Run("requires an endpoint", func(t *testing.T) {
		_, err := New(nil, WithSim(types.RoutineFunc(doubler), simSpec()))
		require.Error(t, err)
	})

	t.Run("rejects the manager endpoint", func(t *testing.T) {
		_, err := New(hub.Manager(), WithSim(types.RoutineFunc(doubler), simSpec()))
		require.Error(t, err)
	})

	t.Run("requires a routine binding", func(t *testing.T) {
		_, err := New(hub.Worker(1))
		require.Error(t, err)
	})
}

func TestRunner_OneShotSim(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)
	mgr := hub.Manager()
	ctx := context.Background()

	runner, done := startRunner(t, hub, WithSim(types.RoutineFunc(doubler), simSpec()))

	work := &types.WorkItem{
		Worker: 1,
		Kind:   types.KindSim,
		RowIDs: []int64{1, 2},
		Rows: []types.Row{
			{ID: 1, Payload: types.Payload{"x": types.FloatValue(3)}},
			{ID: 2, Payload: types.Payload{"x": types.FloatValue(5)}},
		},
		Persis: types.PersisInfo{Worker: 1, Seed: 42},
	}
	require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgWork, To: 1, Work: work}))

	msg, err := mgr.Recv(testWait)
	require.NoError(t, err)
	require.Equal(t, types.MsgResult, msg.Kind)
	require.Equal(t, 1, msg.From)
	require.Equal(t, []int64{1, 2}, msg.RowIDs)
	require.Len(t, msg.Payloads, 2)
	require.Equal(t, 6.0, msg.Payloads[0]["f"].Float)
	require.Equal(t, 10.0, msg.Payloads[1]["f"].Float)
	require.Equal(t, uint64(42), msg.Persis.Seed)

	stopRunner(t, mgr, done)
	require.Equal(t, StateDone, runner.State())
}

func TestRunner_RoutineErrorReportsHeldRows(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)
	mgr := hub.Manager()
	ctx := context.Background()

	boom := errors.New("simulation diverged")
	failing := types.RoutineFunc(func(context.Context, []types.Row, types.PersisInfo, types.RoutineSpec) ([]types.Payload, types.PersisInfo, error) {
		return nil, types.PersisInfo{}, boom
	})
	runner, done := startRunner(t, hub, WithSim(failing, simSpec()))

	work := &types.WorkItem{
		Worker: 1,
		Kind:   types.KindSim,
		RowIDs: []int64{7, 8, 9},
		Rows: []types.Row{
			{ID: 7, Payload: types.Payload{"x": types.FloatValue(1)}},
			{ID: 8, Payload: types.Payload{"x": types.FloatValue(2)}},
			{ID: 9, Payload: types.Payload{"x": types.FloatValue(3)}},
		},
	}
	require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgWork, To: 1, Work: work}))

	msg, err := mgr.Recv(testWait)
	require.NoError(t, err)
	require.Equal(t, types.MsgFailure, msg.Kind)
	require.Equal(t, []int64{7, 8, 9}, msg.RowIDs)
	require.Contains(t, msg.Error, "simulation diverged")

	var routineErr *types.RoutineError
	select {
	case err := <-done:
		require.ErrorAs(t, err, &routineErr)
		require.Equal(t, 1, routineErr.Worker)
		require.Equal(t, []int64{7, 8, 9}, routineErr.RowIDs)
	case <-time.After(testWait):
		t.Fatal("runner did not exit after routine error")
	}
	require.Equal(t, StateFailed, runner.State())
}

func TestRunner_SimArityMismatchFails(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)
	mgr := hub.Manager()
	ctx := context.Background()

	short := types.RoutineFunc(func(_ context.Context, in []types.Row, persis types.PersisInfo, _ types.RoutineSpec) ([]types.Payload, types.PersisInfo, error) {
		return []types.Payload{{"f": types.FloatValue(0)}}, persis, nil
	})
	_, done := startRunner(t, hub, WithSim(short, simSpec()))

	work := &types.WorkItem{
		Worker: 1,
		Kind:   types.KindSim,
		RowIDs: []int64{1, 2},
		Rows: []types.Row{
			{ID: 1, Payload: types.Payload{"x": types.FloatValue(1)}},
			{ID: 2, Payload: types.Payload{"x": types.FloatValue(2)}},
		},
	}
	require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgWork, To: 1, Work: work}))

	msg, err := mgr.Recv(testWait)
	require.NoError(t, err)
	require.Equal(t, types.MsgFailure, msg.Kind)
	require.Contains(t, msg.Error, "1 payloads for 2 rows")

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(testWait):
		t.Fatal("runner did not exit")
	}
}

func TestRunner_UnboundKindFails(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)
	mgr := hub.Manager()
	ctx := context.Background()

	_, done := startRunner(t, hub, WithSim(types.RoutineFunc(doubler), simSpec()))

	work := &types.WorkItem{Worker: 1, Kind: types.KindGen}
	require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgWork, To: 1, Work: work}))

	msg, err := mgr.Recv(testWait)
	require.NoError(t, err)
	require.Equal(t, types.MsgFailure, msg.Kind)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrNoRoutine)
	case <-time.After(testWait):
		t.Fatal("runner did not exit")
	}
}

func TestRunner_CancelledRowsAreSkipped(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)
	mgr := hub.Manager()
	ctx := context.Background()

	_, done := startRunner(t, hub, WithSim(types.RoutineFunc(doubler), simSpec()))

	// Withdraw row 2 before the work item arrives. Delivery is ordered, so
	// the runner sees the cancel first.
	require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgCancel, To: 1, RowIDs: []int64{2}}))

	work := &types.WorkItem{
		Worker: 1,
		Kind:   types.KindSim,
		RowIDs: []int64{1, 2, 3},
		Rows: []types.Row{
			{ID: 1, Payload: types.Payload{"x": types.FloatValue(1)}},
			{ID: 2, Payload: types.Payload{"x": types.FloatValue(2)}},
			{ID: 3, Payload: types.Payload{"x": types.FloatValue(3)}},
		},
	}
	require.NoError(t, mgr.Send(ctx, 1, types.Message{Kind: types.MsgWork, To: 1, Work: work}))

	msg, err := mgr.Recv(testWait)
	require.NoError(t, err)
	require.Equal(t, types.MsgResult, msg.Kind)
	require.Equal(t, []int64{1, 3}, msg.RowIDs)
	require.Len(t, msg.Payloads, 2)
	require.Equal(t, 2.0, msg.Payloads[0]["f"].Float)
	require.Equal(t, 6.0, msg.Payloads[1]["f"].Float)

	stopRunner(t, mgr, done)
}

func TestRunner_StopWhileIdle(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)
	mgr := hub.Manager()

	runner, done := startRunner(t, hub, WithSim(types.RoutineFunc(doubler), simSpec()))

	stopRunner(t, mgr, done)
	require.Equal(t, StateDone, runner.State())
}

func TestRunner_ContextCancellation(t *testing.T) {
	hub := comms.NewLocalHub(1, 0)

	runner, err := New(hub.Worker(1),
		WithSim(types.RoutineFunc(doubler), simSpec()),
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(testWait):
		t.Fatal("runner did not exit on cancellation")
	}
	require.Equal(t, StateDone, runner.State())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "Idle", StateIdle.String())
	require.Equal(t, "RunningOneShot", StateRunningOneShot.String())
	require.Equal(t, "RunningPersistent", StateRunningPersistent.String())
	require.Equal(t, "Done", StateDone.String())
	require.Equal(t, "Failed", StateFailed.String())
	require.Equal(t, "Unknown", State(99).String())
}

func TestIsValidTransition(t *testing.T) {
	require.True(t, isValidTransition(StateIdle, StateRunningOneShot))
	require.True(t, isValidTransition(StateRunningPersistent, StateDone))
	require.False(t, isValidTransition(StateDone, StateIdle))
	require.False(t, isValidTransition(StateFailed, StateIdle))
	require.False(t, isValidTransition(StateRunningOneShot, StateRunningPersistent))
}
