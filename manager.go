package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hpcoord/ensemble/comms"
	"github.com/hpcoord/ensemble/internal/hooks"
	"github.com/hpcoord/ensemble/internal/logger"
	"github.com/hpcoord/ensemble/internal/metrics"
	"github.com/hpcoord/ensemble/ledger"
	"github.com/hpcoord/ensemble/persist"
	"github.com/hpcoord/ensemble/types"
)

// Result is what a finished run hands back to the caller.
type Result struct {
	// RunID identifies the run, for checkpoint lookup and logging.
	RunID string

	// Status is the termination status code (0 clean, 1 worker failure,
	// 2 fatal, 3 wall clock).
	Status RunStatus

	// Report accounts for unreturned rows and failed workers.
	Report RunReport

	// Ledger is the final work ledger, including partial results from an
	// interrupted run.
	Ledger *ledger.Ledger
}

// Manager drives an ensemble run: it owns the work ledger, folds worker
// results, evaluates exit criteria and dispatches allocation decisions.
//
// The manager is the single writer of the ledger. Workers communicate only
// through the transport endpoint; persistent generator sessions are
// serviced inline by the same loop, so no single worker can stall progress.
//
// Thread safety: Run owns all mutable state on its own goroutine. Only
// State() is safe to call concurrently.
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Run() once; it blocks until the run ends
//   - Inspect the returned Result and its RunReport
type Manager struct {
	cfg    Config
	ep     comms.Endpoint
	schema Schema
	policy Allocator

	// Optional dependencies
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
	store   persist.Store
	runID   string
	seed    uint64

	// Run state, owned by the Run goroutine
	led      *ledger.Ledger
	workers  map[int]*types.WorkerRecord
	persis   map[int]types.PersisInfo
	sessions map[int]bool
	lastSeen map[int]time.Time
	reasons  map[int64]string
	failed   bool
	ckptDue  int

	state      atomic.Int32 // State
	stateSince time.Time
	started    atomic.Bool
}

// NewManager creates a manager for one run.
//
// Returns a concrete *Manager following the "accept interfaces, return
// structs" principle; callers can define their own narrow interfaces for
// testing.
//
// Parameters:
//   - cfg: Run configuration (defaults applied, then validated)
//   - ep: Transport endpoint holding the manager address (id 0)
//   - schema: Run schema every payload is validated against
//   - policy: Allocation policy (recommended: alloc.NewSimWorkFirst())
//   - opts: Optional configuration (hooks, metrics, logger, checkpoint store)
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if configuration or dependencies are invalid
//
// Example:
//
//	cfg := ensemble.DefaultConfig()
//	cfg.NumWorkers = 4
//	cfg.Exit.SimMax = 100
//	hub := comms.NewLocalHub(cfg.NumWorkers, 0)
//	mgr, err := ensemble.NewManager(&cfg, hub.Manager(), schema, alloc.NewSimWorkFirst())
func NewManager(cfg *Config, ep comms.Endpoint, schema Schema, policy Allocator, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if ep == nil {
		return nil, ErrEndpointRequired
	}
	if ep.ID() != comms.ManagerID {
		return nil, fmt.Errorf("%w, got id %d", ErrNotManagerEndpoint, ep.ID())
	}
	if len(schema.Fields) == 0 {
		return nil, ErrSchemaRequired
	}
	if policy == nil {
		return nil, ErrAllocatorRequired
	}

	options := managerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logger.NewNop()
	}
	if options.metrics == nil {
		options.metrics = metrics.NewNop()
	}
	if options.hooks == nil {
		nop := hooks.NewNop()
		options.hooks = &nop
	}
	if options.store == nil && cfg.Checkpoint.Path != "" {
		store, err := persist.NewFileStore(cfg.Checkpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		options.store = store
	}
	if options.runID == "" {
		options.runID = uuid.NewString()
	}

	m := &Manager{
		cfg:      *cfg,
		ep:       ep,
		schema:   schema,
		policy:   policy,
		hooks:    options.hooks,
		metrics:  options.metrics,
		logger:   options.logger,
		store:    options.store,
		runID:    options.runID,
		seed:     options.seed,
		led:      ledger.New(schema),
		workers:  make(map[int]*types.WorkerRecord, cfg.NumWorkers),
		persis:   make(map[int]types.PersisInfo, cfg.NumWorkers),
		sessions: make(map[int]bool),
		lastSeen: make(map[int]time.Time, cfg.NumWorkers),
		reasons:  make(map[int64]string),
	}
	for id := 1; id <= cfg.NumWorkers; id++ {
		m.workers[id] = &types.WorkerRecord{ID: id, State: types.WorkerIdle}
	}
	m.stateSince = time.Now()

	return m, nil
}

// RunID returns the run identifier.
func (m *Manager) RunID() string { return m.runID }

// State returns the current manager state. Safe for concurrent use.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Run executes the run to completion and returns its result.
//
// The run ends when the exit criteria hold, the wall clock expires, all
// workers are lost, or ctx is cancelled. Worker failures release held rows
// for reassignment and the run continues while live workers remain.
//
// Returns:
//   - *Result: Final ledger, status code and report (also on fatal exits)
//   - error: ctx.Err() on cancellation, or a programming/transport error
//     that made the run unrecoverable
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	if !m.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	m.transition(ctx, StateRunning)
	m.logger.Info("run started",
		"run_id", m.runID,
		"workers", m.cfg.NumWorkers,
		"sim_max", m.cfg.Exit.SimMax,
		"wall_clock", m.cfg.Exit.WallClock,
	)

	if err := m.restore(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var deadline time.Time
	if m.cfg.Exit.WallClock > 0 {
		deadline = start.Add(m.cfg.Exit.WallClock)
	}

	status := StatusClean
	var runErr error
loop:
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break loop
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			status = StatusWallClock
			m.logger.Info("wall clock expired", "run_id", m.runID, "elapsed", time.Since(start))
			break loop
		}

		if err := m.drainInbound(ctx); err != nil {
			return nil, err
		}
		m.checkWorkerTimeouts()

		if m.liveWorkers() == 0 {
			status = StatusFatal
			runErr = ErrAllWorkersLost
			m.logger.Error("run cannot continue", "run_id", m.runID, "error", ErrAllWorkersLost)
			break loop
		}

		view := m.led.Snapshot()
		if m.cfg.Exit.Met(view) {
			m.logger.Info("exit criteria met",
				"run_id", m.runID,
				"returned", view.ReturnedCount(types.KindNone),
			)
			break loop
		}

		if err := m.allocate(ctx, view); err != nil {
			return nil, err
		}
		if err := m.maybeCheckpoint(ctx, false); err != nil {
			m.logger.Warn("checkpoint failed", "run_id", m.runID, "error", err)
		}
	}

	if m.failed && status == StatusClean {
		status = StatusWorkerFailure
	}

	m.shutdown(ctx, status)

	if err := m.maybeCheckpoint(context.WithoutCancel(ctx), true); err != nil {
		m.logger.Warn("final checkpoint failed", "run_id", m.runID, "error", err)
	}

	report := m.buildReport(status)
	m.transition(ctx, StateShutdown)
	m.logger.Info("run finished",
		"run_id", m.runID,
		"status", status.String(),
		"returned", m.led.Snapshot().ReturnedCount(types.KindNone),
		"unreturned", len(report.Unreturned),
		"elapsed", time.Since(start),
	)

	return &Result{RunID: m.runID, Status: status, Report: report, Ledger: m.led}, runErr
}

// restore reloads the ledger from the last checkpoint for this run id, if
// one exists.
func (m *Manager) restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	data, err := m.store.Load(ctx, m.runID)
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	led, err := ledger.Restore(data)
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	// Rows in flight when the checkpoint was taken never returned; hand
	// them out again.
	var stale []int64
	for _, row := range led.Snapshot().Rows() {
		if row.InFlight() || (row.Allocated && !row.Given) {
			stale = append(stale, row.ID)
		}
	}
	if len(stale) > 0 {
		if _, err := led.Release(stale); err != nil {
			return fmt.Errorf("release stale rows: %w", err)
		}
	}
	m.led = led
	m.logger.Info("resumed from checkpoint",
		"run_id", m.runID,
		"rows", led.Snapshot().Len(),
		"released", len(stale),
	)

	return nil
}

// drainInbound folds pending worker messages into the ledger and worker
// records. It blocks at most one poll interval.
func (m *Manager) drainInbound(ctx context.Context) error {
	for first := true; first || m.ep.Probe(); first = false {
		msg, err := m.ep.Recv(m.cfg.PollInterval)
		if errors.Is(err, types.ErrTimeout) {
			return nil
		}
		if err != nil {
			if w, ok := types.IsPeerLost(err); ok {
				m.workerLost(ctx, w, "peer_lost", err)
				continue
			}

			return fmt.Errorf("manager receive: %w", err)
		}
		if err := m.handle(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

// handle folds one worker message into manager state.
func (m *Manager) handle(ctx context.Context, msg Message) error {
	m.metrics.RecordMessage(msg.Kind.String(), "recv")
	rec, ok := m.workers[msg.From]
	if !ok {
		m.logger.Warn("message from unknown worker", "from", msg.From, "kind", msg.Kind.String())
		return nil
	}
	if rec.State == types.WorkerCrashed {
		// A worker declared lost by the timeout detector may still get a
		// last message through. Its rows were already released, so folding
		// or re-failing here would corrupt the ledger.
		m.logger.Warn("dropping message from crashed worker", "from", msg.From, "kind", msg.Kind.String())
		return nil
	}
	m.lastSeen[msg.From] = time.Now()

	switch msg.Kind {
	case types.MsgResult:
		return m.handleResult(ctx, rec, msg)
	case types.MsgPersisUpdate:
		_, err := m.appendRows(msg.Payloads, msg.From)
		return err
	case types.MsgPersisDone:
		m.persis[msg.From] = msg.Persis
		delete(m.sessions, msg.From)
		rec.State = types.WorkerIdle
		rec.ActiveRows = nil
		rec.ActiveKind = types.KindNone
		m.logger.Debug("persistent session closed", "worker", msg.From)
	case types.MsgFailure:
		held := msg.RowIDs
		if len(held) == 0 {
			held = rec.ActiveRows
		}
		m.workerFailed(ctx, rec, held, "routine_error", errors.New(msg.Error))
	case types.MsgStopAck:
		// Early ack outside draining means the worker is gone for good.
		rec.State = types.WorkerCrashed
	default:
		m.logger.Warn("dropping unexpected message", "from", msg.From, "kind", msg.Kind.String())
	}

	return nil
}

// handleResult folds a one-shot result: returned simulation rows or a batch
// of generated candidates.
//
// Row ids the ledger no longer expects from this worker (withdrawn by a
// cancel, or already folded after a release and reassignment) are dropped
// rather than rejected; the worker was acting on a stale view.
func (m *Manager) handleResult(ctx context.Context, rec *types.WorkerRecord, msg Message) error {
	now := time.Now()
	if len(msg.RowIDs) > 0 {
		ids, payloads := m.expectedResults(msg)
		if len(ids) < len(msg.RowIDs) {
			m.logger.Warn("dropping stale result rows",
				"worker", msg.From,
				"dropped", len(msg.RowIDs)-len(ids),
			)
		}
		if len(ids) > 0 {
			if err := m.led.MarkReturned(ids, payloads, now); err != nil {
				return fmt.Errorf("fold result from worker %d: %w", msg.From, err)
			}
			m.metrics.RecordRowsReturned(len(ids), rec.ActiveKind)
			m.ckptDue += len(ids)
			m.runHook(ctx, "rows returned", func(h *Hooks) func() error {
				if h.OnRowsReturned == nil {
					return nil
				}
				kind := rec.ActiveKind
				return func() error { return h.OnRowsReturned(ctx, ids, kind) }
			})
			if err := m.forwardToSessions(ctx, ids); err != nil {
				return err
			}
		}
	} else if len(msg.Payloads) > 0 {
		if _, err := m.appendRows(msg.Payloads, msg.From); err != nil {
			return err
		}
	}

	m.persis[msg.From] = msg.Persis
	rec.State = types.WorkerIdle
	rec.ActiveRows = nil
	rec.ActiveKind = types.KindNone

	return nil
}

// expectedResults filters a result message down to the rows the ledger still
// holds in flight for the sending worker, keeping payloads aligned.
func (m *Manager) expectedResults(msg Message) ([]int64, []Payload) {
	if msg.Payloads != nil && len(msg.Payloads) != len(msg.RowIDs) {
		return nil, nil
	}
	ids := make([]int64, 0, len(msg.RowIDs))
	var payloads []Payload
	if msg.Payloads != nil {
		payloads = make([]Payload, 0, len(msg.Payloads))
	}
	for i, id := range msg.RowIDs {
		row, ok := m.led.Row(id)
		if !ok || !row.InFlight() || row.Owner != msg.From {
			continue
		}
		ids = append(ids, id)
		if msg.Payloads != nil {
			payloads = append(payloads, msg.Payloads[i])
		}
	}

	return ids, payloads
}

// appendRows appends generated candidates to the ledger.
func (m *Manager) appendRows(payloads []Payload, producer int) ([]int64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	ids, err := m.led.Append(payloads, types.KindGen)
	if err != nil {
		return nil, fmt.Errorf("append rows from worker %d: %w", producer, err)
	}
	m.metrics.RecordRowsAppended(len(ids), types.KindGen)
	m.logger.Debug("rows appended", "worker", producer, "count", len(ids))

	return ids, nil
}

// forwardToSessions streams freshly returned rows into every open
// persistent generator session.
func (m *Manager) forwardToSessions(ctx context.Context, ids []int64) error {
	if len(m.sessions) == 0 {
		return nil
	}

	rows := m.rowsFor(ids, m.cfg.GenIn)
	for w := range m.sessions {
		msg := Message{
			Kind: types.MsgPersisSend,
			From: comms.ManagerID,
			To:   w,
			Rows: rows,
		}
		if err := m.send(ctx, w, msg); err != nil {
			if _, ok := types.IsPeerLost(err); ok {
				m.workerLost(ctx, w, "peer_lost", err)
				continue
			}

			return err
		}
	}

	return nil
}

// allocate invokes the policy and dispatches its work items.
func (m *Manager) allocate(ctx context.Context, view LedgerView) error {
	start := time.Now()
	items, err := m.policy.Allocate(view, m.workerSnapshot())
	m.metrics.RecordAllocation(len(items), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}

	budget := m.simBudget(view)
	for _, item := range items {
		if budget >= 0 && item.Kind == types.KindSim && len(item.RowIDs) > 0 {
			if budget == 0 {
				continue
			}
			if len(item.RowIDs) > budget {
				item.RowIDs = item.RowIDs[:budget]
			}
			budget -= len(item.RowIDs)
		}
		if err := m.dispatch(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

// simBudget returns how many more rows may enter simulation before the
// SimMax exit criterion is committed, or -1 when no cap applies.
//
// Rows already given and not released count against the cap whether or not
// they have returned yet, so the run finishes with exactly SimMax returned
// rows instead of overshooting on the final drain.
func (m *Manager) simBudget(view LedgerView) int {
	if m.cfg.Exit.SimMax <= 0 {
		return -1
	}
	budget := m.cfg.Exit.SimMax
	for _, r := range view.Rows() {
		if r.Given && !r.Cancelled {
			budget--
		}
	}
	if budget < 0 {
		budget = 0
	}

	return budget
}

// dispatch sends one work item, marking rows given atomically with the
// worker record going active.
func (m *Manager) dispatch(ctx context.Context, item WorkItem) error {
	rec, ok := m.workers[item.Worker]
	if !ok || rec.State == types.WorkerCrashed {
		m.logger.Warn("dropping work item for unavailable worker", "worker", item.Worker)
		return nil
	}

	now := time.Now()
	if len(item.RowIDs) > 0 {
		if err := m.led.MarkAllocated(item.RowIDs); err != nil {
			return fmt.Errorf("dispatch to worker %d: %w", item.Worker, err)
		}
		if err := m.led.MarkGiven(item.RowIDs, item.Worker, now); err != nil {
			return fmt.Errorf("dispatch to worker %d: %w", item.Worker, err)
		}
		in := m.cfg.SimIn
		if item.Kind == types.KindGen {
			in = m.cfg.GenIn
		}
		item.Rows = m.rowsFor(item.RowIDs, in)
	}
	item.Persis = m.persisFor(item.Worker)

	msg := Message{
		Kind: types.MsgWork,
		From: comms.ManagerID,
		To:   item.Worker,
		Work: &item,
	}
	if err := m.send(ctx, item.Worker, msg); err != nil {
		if _, ok := types.IsPeerLost(err); ok {
			m.workerLost(ctx, item.Worker, "peer_lost", err)
			if len(item.RowIDs) > 0 {
				m.releaseRows(item.RowIDs)
			}

			return nil
		}

		return err
	}

	if item.Persistent {
		rec.State = types.WorkerPersistent
		m.sessions[item.Worker] = true
	} else {
		rec.State = types.WorkerActive
	}
	rec.ActiveKind = item.Kind
	rec.ActiveRows = item.RowIDs
	m.lastSeen[item.Worker] = now
	m.logger.Debug("work dispatched",
		"worker", item.Worker,
		"kind", item.Kind.String(),
		"rows", len(item.RowIDs),
		"persistent", item.Persistent,
	)

	return nil
}

// persisFor returns the worker's state blob, seeding a fresh one on first
// use so every worker gets an independent random stream.
func (m *Manager) persisFor(w int) types.PersisInfo {
	if p, ok := m.persis[w]; ok {
		return p
	}
	p := types.PersisInfo{Worker: w, Seed: m.seed + uint64(w)} //nolint:gosec // worker ids are small positive ints
	m.persis[w] = p

	return p
}

// rowsFor builds wire rows for the given ids, restricted to the declared
// input fields.
func (m *Manager) rowsFor(ids []int64, in []string) []Row {
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		row, ok := m.led.Row(id)
		if !ok {
			continue
		}
		if len(in) > 0 {
			row.Payload = row.Payload.Select(in)
		}
		rows = append(rows, row)
	}

	return rows
}

// workerLost handles a worker declared dead: release its rows and record
// the failure.
func (m *Manager) workerLost(ctx context.Context, w int, reason string, cause error) {
	rec, ok := m.workers[w]
	if !ok || rec.State == types.WorkerCrashed {
		return
	}
	m.workerFailed(ctx, rec, rec.ActiveRows, reason, cause)
}

// workerFailed marks the worker crashed and releases the rows it held.
func (m *Manager) workerFailed(ctx context.Context, rec *types.WorkerRecord, held []int64, reason string, cause error) {
	rec.State = types.WorkerCrashed
	rec.Failures++
	rec.ActiveRows = nil
	rec.ActiveKind = types.KindNone
	delete(m.sessions, rec.ID)
	m.failed = true

	released := m.releaseRows(held)
	m.metrics.RecordWorkerFailure(rec.ID, reason)
	m.metrics.RecordActiveWorkers(m.liveWorkers())
	m.logger.Warn("worker failed",
		"worker", rec.ID,
		"reason", reason,
		"released", released,
		"error", cause,
	)
	worker := rec.ID
	m.runHook(ctx, "worker failed", func(h *Hooks) func() error {
		if h.OnWorkerFailed == nil {
			return nil
		}
		return func() error { return h.OnWorkerFailed(ctx, worker, released) }
	})
}

// releaseRows puts held rows back into the allocatable pool, cancelling
// rows whose retry budget is exhausted.
func (m *Manager) releaseRows(held []int64) []int64 {
	if len(held) == 0 {
		return nil
	}

	released, err := m.led.Release(held)
	if err != nil {
		// Unknown ids from a confused worker; nothing to release.
		m.logger.Error("release failed", "rows", held, "error", err)
		return nil
	}
	m.metrics.RecordRowsReleased(len(released))

	view := m.led.Snapshot()
	var exhausted []int64
	for _, id := range released {
		if row, ok := view.Row(id); ok && row.Retries > m.cfg.MaxRowRetries {
			exhausted = append(exhausted, id)
		}
	}
	if len(exhausted) > 0 {
		if err := m.led.MarkCancelled(exhausted); err != nil {
			m.logger.Error("cancel failed", "rows", exhausted, "error", err)
		} else {
			for _, id := range exhausted {
				m.reasons[id] = "retries exhausted"
			}
			m.logger.Warn("rows cancelled after repeated failures", "rows", exhausted)
		}
	}

	return released
}

// checkWorkerTimeouts escalates prolonged silence from workers holding
// one-shot work to peer loss. This is the primary failure detector on
// transports without connection state.
func (m *Manager) checkWorkerTimeouts() {
	if m.cfg.WorkerTimeout <= 0 {
		return
	}

	now := time.Now()
	for id, rec := range m.workers {
		if rec.State != types.WorkerActive {
			continue
		}
		seen, ok := m.lastSeen[id]
		if !ok {
			continue
		}
		if now.Sub(seen) > m.cfg.WorkerTimeout {
			m.workerLost(context.Background(), id, "peer_lost",
				fmt.Errorf("no traffic from worker %d for %v: %w", id, m.cfg.WorkerTimeout, types.ErrTimeout))
		}
	}
}

// cancelInFlight withdraws one-shot rows still held by live workers when the
// run ends. The rows are marked cancelled in the ledger and a cancel message
// tells the worker to drop them, so a routine mid-batch stops early instead
// of computing rows the run no longer wants.
func (m *Manager) cancelInFlight(ctx context.Context) {
	for id, rec := range m.workers {
		if rec.State != types.WorkerActive || len(rec.ActiveRows) == 0 {
			continue
		}
		held := rec.ActiveRows

		msg := Message{Kind: types.MsgCancel, From: comms.ManagerID, To: id, RowIDs: held}
		if err := m.send(ctx, id, msg); err != nil {
			if _, ok := types.IsPeerLost(err); ok {
				m.workerLost(ctx, id, "peer_lost", err)
				continue
			}
			m.logger.Warn("cancel not delivered", "worker", id, "error", err)
		}
		m.metrics.RecordMessage(types.MsgCancel.String(), "send")

		if err := m.led.MarkCancelled(held); err != nil {
			m.logger.Error("cancel failed", "worker", id, "rows", held, "error", err)
			continue
		}
		for _, rowID := range held {
			m.reasons[rowID] = "cancelled at shutdown"
		}
		rec.ActiveRows = nil
		m.logger.Debug("in-flight rows withdrawn", "worker", id, "rows", len(held))
	}
}

// shutdown withdraws in-flight work, broadcasts stop, and waits a bounded
// time for acknowledgements, folding any late messages that arrive meanwhile.
func (m *Manager) shutdown(ctx context.Context, status RunStatus) {
	m.transition(ctx, StateDraining)

	// Detach from ctx so a cancelled run still drains its workers.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	m.cancelInFlight(drainCtx)

	stop := Message{Kind: types.MsgStop, From: comms.ManagerID}
	if err := m.ep.Broadcast(drainCtx, stop); err != nil {
		m.logger.Warn("stop broadcast failed", "error", err)
	}
	m.metrics.RecordMessage(types.MsgStop.String(), "send")

	pending := make(map[int]bool)
	for id, rec := range m.workers {
		if rec.State != types.WorkerCrashed {
			pending[id] = true
		}
	}

	deadline := time.Now().Add(m.cfg.ShutdownTimeout)
	for len(pending) > 0 && time.Now().Before(deadline) {
		msg, err := m.ep.Recv(m.cfg.PollInterval)
		if errors.Is(err, types.ErrTimeout) {
			continue
		}
		if err != nil {
			if w, ok := types.IsPeerLost(err); ok {
				m.workerLost(drainCtx, w, "peer_lost", err)
				delete(pending, w)
				continue
			}
			m.logger.Warn("receive failed during drain", "error", err)

			break
		}
		if msg.Kind == types.MsgStopAck {
			if rec, ok := m.workers[msg.From]; ok && rec.State != types.WorkerCrashed {
				rec.State = types.WorkerIdle
				rec.ActiveRows = nil
				rec.ActiveKind = types.KindNone
			}
			delete(pending, msg.From)
			continue
		}
		// Late results and session teardowns still count.
		if err := m.handle(drainCtx, msg); err != nil {
			m.logger.Warn("late message dropped during drain", "error", err)
		}
	}

	for id := range pending {
		m.workerLost(drainCtx, id, "peer_lost",
			fmt.Errorf("no stop ack from worker %d: %w", id, types.ErrTimeout))
	}
	m.logger.Info("drain complete", "run_id", m.runID, "status", status.String(), "silent_workers", len(pending))
}

// buildReport accounts for every row that never returned and every failed
// worker.
func (m *Manager) buildReport(status RunStatus) RunReport {
	report := RunReport{Status: status}

	for _, row := range m.led.Snapshot().Rows() {
		if row.Returned {
			continue
		}
		entry := types.UnreturnedRow{ID: row.ID, Worker: row.Owner}
		switch {
		case m.reasons[row.ID] != "":
			entry.Reason = m.reasons[row.ID]
		case row.Cancelled:
			entry.Reason = "cancelled"
		case row.Given:
			entry.Reason = "in flight at shutdown"
		default:
			entry.Reason = "never evaluated"
		}
		report.Unreturned = append(report.Unreturned, entry)
	}

	for id, rec := range m.workers {
		if rec.State == types.WorkerCrashed {
			report.CrashedWorkers = append(report.CrashedWorkers, id)
		}
		report.Workers = append(report.Workers, rec.Clone())
	}
	sort.Ints(report.CrashedWorkers)
	sort.Slice(report.Workers, func(i, j int) bool { return report.Workers[i].ID < report.Workers[j].ID })

	return report
}

// maybeCheckpoint writes a ledger snapshot to the checkpoint store when due.
func (m *Manager) maybeCheckpoint(ctx context.Context, force bool) error {
	if m.store == nil {
		return nil
	}
	if !force && (m.cfg.Checkpoint.EveryRows <= 0 || m.ckptDue < m.cfg.Checkpoint.EveryRows) {
		return nil
	}

	data, err := m.led.Checkpoint()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := m.store.Save(ctx, m.runID, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	m.ckptDue = 0
	m.logger.Debug("checkpoint written", "run_id", m.runID, "bytes", len(data))

	return nil
}

// send delivers one message to a worker with the dispatch deadline applied.
func (m *Manager) send(ctx context.Context, dest int, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	defer cancel()

	if err := m.ep.Send(sendCtx, dest, msg); err != nil {
		return err
	}
	m.metrics.RecordMessage(msg.Kind.String(), "send")

	return nil
}

// liveWorkers returns the number of workers not declared crashed.
func (m *Manager) liveWorkers() int {
	n := 0
	for _, rec := range m.workers {
		if rec.State != types.WorkerCrashed {
			n++
		}
	}

	return n
}

// workerSnapshot returns worker records in id order for the allocator.
func (m *Manager) workerSnapshot() []types.WorkerRecord {
	out := make([]types.WorkerRecord, 0, len(m.workers))
	for _, rec := range m.workers {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// transition moves the manager to a new state, recording metrics and
// triggering hooks.
func (m *Manager) transition(ctx context.Context, to State) {
	from := State(m.state.Load())
	if from == to {
		return
	}
	if !isValidManagerTransition(from, to) {
		m.logger.Error("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	now := time.Now()
	m.state.Store(int32(to)) //nolint:gosec // State values are controlled enum
	m.metrics.RecordStateTransition(from, to, now.Sub(m.stateSince).Seconds())
	m.stateSince = now
	m.logger.Info("state transition", "from", from.String(), "to", to.String())

	m.runHook(ctx, "state changed", func(h *Hooks) func() error {
		if h.OnStateChanged == nil {
			return nil
		}
		return func() error { return h.OnStateChanged(ctx, from, to) }
	})
}

// isValidManagerTransition validates a manager state change.
func isValidManagerTransition(from, to State) bool {
	valid := map[State][]State{
		StateInit:     {StateRunning, StateShutdown},
		StateRunning:  {StateDraining, StateShutdown},
		StateDraining: {StateShutdown},
		StateShutdown: {}, // Terminal state
	}
	for _, allowed := range valid[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// runHook runs one optional hook in the background so callbacks never block
// the loop. Hook errors are logged and routed to OnError.
func (m *Manager) runHook(ctx context.Context, name string, pick func(*Hooks) func() error) {
	fn := pick(m.hooks)
	if fn == nil {
		return
	}
	go func() {
		if err := fn(); err != nil {
			m.logger.Error("hook error", "hook", name, "error", err)
			if m.hooks.OnError != nil {
				_ = m.hooks.OnError(ctx, err)
			}
		}
	}()
}
