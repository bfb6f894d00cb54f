package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hpcoord/ensemble/comms"
	"github.com/hpcoord/ensemble/internal/logger"
	"github.com/hpcoord/ensemble/internal/metrics"
	"github.com/hpcoord/ensemble/types"
)

// ErrNoRoutine is returned when a work item names a routine kind the runner
// has no binding for.
var ErrNoRoutine = errors.New("no routine bound for work item kind")

// sendTimeout bounds outbound replies so a wedged transport cannot hang the
// runner forever.
const sendTimeout = 10 * time.Second

// Runner services work items on one worker endpoint.
//
// A Runner is single-goroutine: Run owns the receive loop, routine
// invocations and replies all happen on that goroutine, so bound routines
// never race with the runner's own bookkeeping.
//
// Lifecycle:
//   - Create with New()
//   - Call Run() and let it block until stop, failure, or cancellation
//   - Inspect State() from other goroutines if needed
type Runner struct {
	ep    comms.Endpoint
	opts  runnerOptions
	state atomic.Int32 // State

	// Row ids withdrawn by the manager. Only touched from the Run
	// goroutine.
	cancelled map[int64]struct{}
}

// New creates a runner bound to the given endpoint.
//
// At least one routine must be bound through WithGen, WithSim or
// WithPersistentGen.
//
// Parameters:
//   - ep: Transport endpoint with a worker id (1..N)
//   - opts: Routine bindings and optional configuration
//
// Returns:
//   - *Runner: Initialized runner in StateIdle
//   - error: If no routine is bound or the endpoint is the manager's
//
// Example:
//
//	runner, err := worker.New(ep,
//	    worker.WithSim(simRoutine, simSpec),
//	    worker.WithGen(genRoutine, genSpec),
//	)
//	if err != nil {
//	    return err
//	}
//	err = runner.Run(ctx)
func New(ep comms.Endpoint, opts ...Option) (*Runner, error) {
	if ep == nil {
		return nil, errors.New("endpoint is required")
	}
	if ep.ID() == comms.ManagerID {
		return nil, fmt.Errorf("endpoint id %d is reserved for the manager", comms.ManagerID)
	}

	options := runnerOptions{
		specs:        make(map[types.RoutineKind]types.RoutineSpec),
		logger:       logger.NewNop(),
		metrics:      metrics.NewNop(),
		pollInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.gen == nil && options.sim == nil && options.persistentGen == nil {
		return nil, errors.New("at least one routine binding is required")
	}

	return &Runner{
		ep:        ep,
		opts:      options,
		cancelled: make(map[int64]struct{}),
	}, nil
}

// State returns the current runner state. Safe for concurrent use.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Run blocks servicing work items until the manager requests stop, the
// context is cancelled, or a routine or transport error occurs.
//
// Returns:
//   - error: nil on a clean stop; ctx.Err() on cancellation; a
//     *types.RoutineError or transport error on failure
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			r.transition(StateDone)
			return err
		}

		msg, err := r.ep.Recv(r.opts.pollInterval)
		if errors.Is(err, types.ErrTimeout) {
			continue
		}
		if err != nil {
			// The transport is gone; there is nobody left to report to.
			r.transition(StateFailed)
			return fmt.Errorf("worker %d receive: %w", r.ep.ID(), err)
		}

		switch msg.Kind {
		case types.MsgWork:
			stopped, err := r.handleWork(ctx, msg.Work)
			if err != nil {
				return err
			}
			if stopped {
				return nil
			}
		case types.MsgCancel:
			r.markCancelled(msg.RowIDs)
		case types.MsgStop:
			return r.ackStop(ctx)
		default:
			r.opts.logger.Warn("dropping unexpected message",
				"worker", r.ep.ID(),
				"kind", msg.Kind.String(),
				"from", msg.From,
			)
		}
	}
}

// handleWork dispatches one work item. The stopped result reports that a
// persistent session ended on a manager stop request and the runner already
// acknowledged it.
func (r *Runner) handleWork(ctx context.Context, work *types.WorkItem) (stopped bool, err error) {
	if work == nil {
		return false, r.fail(ctx, nil, types.PersisInfo{}, errors.New("work message without item"))
	}
	if work.Persistent {
		return r.runPersistent(ctx, work)
	}

	return false, r.runOneShot(ctx, work)
}

// runOneShot executes a single routine invocation and replies with the
// result.
func (r *Runner) runOneShot(ctx context.Context, work *types.WorkItem) error {
	routine := r.routineFor(work.Kind)
	if routine == nil {
		return r.fail(ctx, work.RowIDs, work.Persis, fmt.Errorf("%w: %s", ErrNoRoutine, work.Kind))
	}
	spec := r.opts.specs[work.Kind]

	r.transition(StateRunningOneShot)

	rows, ids := r.liveRows(work)
	start := time.Now()
	out, persis, err := routine.Run(ctx, rows, work.Persis, spec)
	r.opts.metrics.RecordRoutineDuration(work.Kind, time.Since(start).Seconds(), err == nil)
	if err != nil {
		return r.fail(ctx, ids, work.Persis, err)
	}
	if work.Kind == types.KindSim && len(out) != len(rows) {
		return r.fail(ctx, ids, persis,
			fmt.Errorf("simulation produced %d payloads for %d rows", len(out), len(rows)))
	}

	reply := types.Message{
		Kind:     types.MsgResult,
		From:     r.ep.ID(),
		To:       comms.ManagerID,
		RowIDs:   ids,
		Payloads: out,
		Persis:   persis,
	}
	if err := r.send(ctx, reply); err != nil {
		r.transition(StateFailed)
		return err
	}

	r.transition(StateIdle)

	return nil
}

// runPersistent opens a session and hands control to the persistent routine
// until it returns.
func (r *Runner) runPersistent(ctx context.Context, work *types.WorkItem) (stopped bool, err error) {
	if r.opts.persistentGen == nil || work.Kind != types.KindGen {
		return false, r.fail(ctx, work.RowIDs, work.Persis,
			fmt.Errorf("%w: persistent %s", ErrNoRoutine, work.Kind))
	}
	spec := r.opts.specs[types.KindGen]

	r.transition(StateRunningPersistent)

	sess := newSession(r)
	rows, ids := r.liveRows(work)
	start := time.Now()
	persis, err := r.opts.persistentGen.RunPersistent(ctx, sess, rows, work.Persis, spec)
	r.opts.metrics.RecordRoutineDuration(types.KindGen, time.Since(start).Seconds(), err == nil)
	if err != nil {
		return false, r.fail(ctx, ids, work.Persis, err)
	}

	done := types.Message{
		Kind:   types.MsgPersisDone,
		From:   r.ep.ID(),
		To:     comms.ManagerID,
		Persis: persis,
	}
	if err := r.send(ctx, done); err != nil {
		r.transition(StateFailed)
		return false, err
	}

	if sess.Stopped() {
		return true, r.ackStop(ctx)
	}

	r.transition(StateIdle)

	return false, nil
}

// ackStop acknowledges a manager stop request and finishes the runner.
func (r *Runner) ackStop(ctx context.Context) error {
	ack := types.Message{
		Kind: types.MsgStopAck,
		From: r.ep.ID(),
		To:   comms.ManagerID,
	}
	if err := r.send(ctx, ack); err != nil {
		r.opts.logger.Warn("stop ack not delivered", "worker", r.ep.ID(), "error", err)
	}
	r.transition(StateDone)
	r.opts.logger.Info("worker stopped", "worker", r.ep.ID())

	return nil
}

// fail reports a failure with the held row ids to the manager and puts the
// runner into its terminal failed state.
func (r *Runner) fail(ctx context.Context, held []int64, persis types.PersisInfo, cause error) error {
	report := types.Message{
		Kind:   types.MsgFailure,
		From:   r.ep.ID(),
		To:     comms.ManagerID,
		RowIDs: held,
		Persis: persis,
		Error:  cause.Error(),
	}
	if err := r.send(ctx, report); err != nil {
		r.opts.logger.Error("failure report not delivered", "worker", r.ep.ID(), "error", err)
	}
	r.transition(StateFailed)
	r.opts.logger.Error("worker failed", "worker", r.ep.ID(), "rows", held, "error", cause)

	return &types.RoutineError{Worker: r.ep.ID(), RowIDs: held, Cause: cause}
}

// send delivers msg to the manager with a bounded deadline.
func (r *Runner) send(ctx context.Context, msg types.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := r.ep.Send(sendCtx, comms.ManagerID, msg); err != nil {
		return fmt.Errorf("worker %d send %s: %w", r.ep.ID(), msg.Kind, err)
	}

	return nil
}

// routineFor returns the bound routine for kind, or nil.
func (r *Runner) routineFor(kind types.RoutineKind) types.Routine {
	switch kind {
	case types.KindGen:
		return r.opts.gen
	case types.KindSim:
		return r.opts.sim
	default:
		return nil
	}
}

// liveRows filters out rows the manager has withdrawn since dispatch.
func (r *Runner) liveRows(work *types.WorkItem) ([]types.Row, []int64) {
	if len(r.cancelled) == 0 {
		return work.Rows, work.RowIDs
	}

	rows := make([]types.Row, 0, len(work.Rows))
	ids := make([]int64, 0, len(work.RowIDs))
	for i, id := range work.RowIDs {
		if _, dropped := r.cancelled[id]; dropped {
			continue
		}
		ids = append(ids, id)
		if i < len(work.Rows) {
			rows = append(rows, work.Rows[i])
		}
	}

	return rows, ids
}

// markCancelled records withdrawn row ids for the next safe point.
func (r *Runner) markCancelled(ids []int64) {
	for _, id := range ids {
		r.cancelled[id] = struct{}{}
	}
	if len(ids) > 0 {
		r.opts.logger.Debug("rows withdrawn", "worker", r.ep.ID(), "rows", ids)
	}
}

// transition moves the runner to a new state, logging and ignoring invalid
// transitions rather than corrupting the machine.
func (r *Runner) transition(to State) {
	from := State(r.state.Load())
	if from == to {
		return
	}
	if !isValidTransition(from, to) {
		r.opts.logger.Error("invalid state transition attempted",
			"worker", r.ep.ID(),
			"from", from.String(),
			"to", to.String(),
		)

		return
	}
	r.state.Store(int32(to))
	r.opts.logger.Debug("state transition",
		"worker", r.ep.ID(),
		"from", from.String(),
		"to", to.String(),
	)
}
