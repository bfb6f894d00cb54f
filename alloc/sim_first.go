package alloc

import (
	"github.com/hpcoord/ensemble/types"
)

// SimWorkFirst is the default allocation policy.
//
// Idle workers receive unevaluated ledger rows (oldest id first) before any
// new generation request is issued, which bounds the amount of in-flight
// unevaluated work. Generation requests are capped by maxActiveGens, and
// specific workers can be reserved for persistent generator sessions held
// open for the run's duration.
type SimWorkFirst struct {
	maxActiveGens int
	simBatch      int
	reserved      map[int]bool
	tieBreak      TieBreak
}

// Compile-time assertion that SimWorkFirst implements Allocator.
var _ types.Allocator = (*SimWorkFirst)(nil)

// TieBreak orders the idle workers competing for the next work item.
// It receives the idle worker ids in ascending order and returns them in
// dispatch preference order.
type TieBreak func(idle []int) []int

// SimWorkFirstOption configures a SimWorkFirst policy.
type SimWorkFirstOption func(*SimWorkFirst)

// NewSimWorkFirst creates the default sim-work-first allocation policy.
//
// Parameters:
//   - opts: Optional configuration (WithMaxActiveGens, WithSimBatch,
//     WithPersistentGen, WithTieBreak)
//
// Returns:
//   - *SimWorkFirst: Initialized policy
//
// Example:
//
//	policy := alloc.NewSimWorkFirst(
//	    alloc.WithMaxActiveGens(2),
//	)
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy)
func NewSimWorkFirst(opts ...SimWorkFirstOption) *SimWorkFirst {
	p := &SimWorkFirst{
		maxActiveGens: 1,
		simBatch:      1,
		reserved:      map[int]bool{},
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithMaxActiveGens caps the number of concurrently outstanding generation
// requests (default 1).
func WithMaxActiveGens(n int) SimWorkFirstOption {
	return func(p *SimWorkFirst) {
		p.maxActiveGens = n
	}
}

// WithSimBatch sets how many rows one simulation work item carries
// (default 1).
func WithSimBatch(n int) SimWorkFirstOption {
	return func(p *SimWorkFirst) {
		if n > 0 {
			p.simBatch = n
		}
	}
}

// WithPersistentGen reserves the given worker ids for persistent generator
// sessions. Reserved workers never receive simulation work; the policy
// opens one session per reserved worker and keeps it for the run.
func WithPersistentGen(workerIDs ...int) SimWorkFirstOption {
	return func(p *SimWorkFirst) {
		for _, id := range workerIDs {
			p.reserved[id] = true
		}
	}
}

// WithTieBreak replaces the default lowest-id-first ordering of idle
// workers. Production deployments customize this; the replacement must be
// deterministic to keep the policy replayable.
func WithTieBreak(tb TieBreak) SimWorkFirstOption {
	return func(p *SimWorkFirst) {
		p.tieBreak = tb
	}
}

// Allocate implements types.Allocator.
//
// Decision order per idle worker: open a persistent session on reserved
// workers first, then hand out allocatable rows oldest-first, then issue a
// one-shot generation request if under the gen cap. Returns ErrNoWorkers
// when every worker has crashed.
func (p *SimWorkFirst) Allocate(view types.LedgerView, workers []types.WorkerRecord) ([]types.WorkItem, error) {
	if LiveWorkers(workers) == 0 {
		return nil, ErrNoWorkers
	}

	idle := IdleWorkers(workers)
	if p.tieBreak != nil {
		idle = p.tieBreak(idle)
	}

	rows := AllocatableRows(view)
	gens := ActiveGens(workers)

	var items []types.WorkItem
	for _, workerID := range idle {
		if p.reserved[workerID] {
			// Reserved workers only ever host a persistent generator; an
			// idle reserved worker means its session is not open yet.
			if gens < p.maxActiveGens || p.maxActiveGens <= 0 {
				items = append(items, types.WorkItem{
					Worker:     workerID,
					Kind:       types.KindGen,
					Persistent: true,
				})
				gens++
			}

			continue
		}

		if len(rows) > 0 {
			batch := p.simBatch
			if batch > len(rows) {
				batch = len(rows)
			}
			ids := make([]int64, batch)
			for i := range batch {
				ids[i] = rows[i].ID
			}
			rows = rows[batch:]
			items = append(items, types.WorkItem{
				Worker: workerID,
				Kind:   types.KindSim,
				RowIDs: ids,
			})

			continue
		}

		if gens < p.maxActiveGens {
			items = append(items, types.WorkItem{
				Worker: workerID,
				Kind:   types.KindGen,
			})
			gens++
		}
	}

	return items, nil
}
