package alloc

import (
	"strconv"

	"github.com/hpcoord/ensemble/internal/hash"
	"github.com/hpcoord/ensemble/types"
)

// HashAffinity routes rows to workers by consistent hash of a key field.
//
// Simulations that cache expensive per-input state (trained surrogates,
// loaded meshes) benefit from the same key always evaluating on the same
// worker. The policy hashes the configured key field onto a ring of live
// workers, so a worker crash only moves that worker's keys.
//
// Affinity is a preference, not a constraint: rows whose preferred worker
// is busy are handed to another idle worker rather than stalling the run.
type HashAffinity struct {
	keyField      string
	virtualNodes  int
	seed          uint64
	maxActiveGens int
	simBatch      int
}

// Compile-time assertion that HashAffinity implements Allocator.
var _ types.Allocator = (*HashAffinity)(nil)

// HashAffinityOption configures a HashAffinity policy.
type HashAffinityOption func(*HashAffinity)

// NewHashAffinity creates a cache-affinity allocation policy.
//
// Parameters:
//   - opts: Optional configuration (WithAffinityKey, WithVirtualNodes,
//     WithAffinitySeed, WithAffinitySimBatch, WithAffinityMaxActiveGens)
//
// Returns:
//   - *HashAffinity: Initialized policy
//
// Example:
//
//	policy := alloc.NewHashAffinity(
//	    alloc.WithAffinityKey("mesh_id"),
//	)
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy)
func NewHashAffinity(opts ...HashAffinityOption) *HashAffinity {
	p := &HashAffinity{
		virtualNodes:  150,
		maxActiveGens: 1,
		simBatch:      1,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithAffinityKey sets the payload field whose value determines a row's
// preferred worker. Empty (the default) hashes the row id, which spreads
// rows uniformly while staying deterministic.
func WithAffinityKey(field string) HashAffinityOption {
	return func(p *HashAffinity) {
		p.keyField = field
	}
}

// WithVirtualNodes sets the virtual nodes per worker on the hash ring
// (default 150).
func WithVirtualNodes(n int) HashAffinityOption {
	return func(p *HashAffinity) {
		if n > 0 {
			p.virtualNodes = n
		}
	}
}

// WithAffinitySeed seeds the ring's hash function so deployments can derive
// disjoint placements from the same key space.
func WithAffinitySeed(seed uint64) HashAffinityOption {
	return func(p *HashAffinity) {
		p.seed = seed
	}
}

// WithAffinitySimBatch sets how many rows one simulation work item carries
// (default 1).
func WithAffinitySimBatch(n int) HashAffinityOption {
	return func(p *HashAffinity) {
		if n > 0 {
			p.simBatch = n
		}
	}
}

// WithAffinityMaxActiveGens caps concurrently outstanding generation
// requests (default 1).
func WithAffinityMaxActiveGens(n int) HashAffinityOption {
	return func(p *HashAffinity) {
		p.maxActiveGens = n
	}
}

// Allocate implements types.Allocator.
//
// Rows are first offered to their preferred worker when it is idle; idle
// workers left without affine rows then take the oldest remaining rows, and
// finally a one-shot generation request is issued under the gen cap. The
// ring is rebuilt from the live worker set each call, so the placement is a
// pure function of the snapshot.
func (p *HashAffinity) Allocate(view types.LedgerView, workers []types.WorkerRecord) ([]types.WorkItem, error) {
	live := LiveWorkerIDs(workers)
	if len(live) == 0 {
		return nil, ErrNoWorkers
	}

	ring := hash.NewRing(live, p.virtualNodes, p.seed)
	idle := IdleWorkers(workers)
	rows := AllocatableRows(view)
	gens := ActiveGens(workers)

	// Bucket allocatable rows by preferred worker, keeping id order.
	buckets := make(map[int][]int64, len(idle))
	var order []int64
	for _, row := range rows {
		w := ring.GetNode(p.rowKey(row))
		buckets[w] = append(buckets[w], row.ID)
		order = append(order, row.ID)
	}

	var items []types.WorkItem
	taken := make(map[int64]bool, len(order))

	// First pass: affine rows to their idle preferred worker.
	var spare []int
	for _, workerID := range idle {
		own := buckets[workerID]
		if len(own) == 0 {
			spare = append(spare, workerID)
			continue
		}
		batch := min(p.simBatch, len(own))
		ids := own[:batch]
		for _, id := range ids {
			taken[id] = true
		}
		items = append(items, types.WorkItem{
			Worker: workerID,
			Kind:   types.KindSim,
			RowIDs: ids,
		})
	}

	// Second pass: leftover idle workers steal the oldest remaining rows
	// so affinity never stalls progress.
	remaining := make([]int64, 0, len(order))
	for _, id := range order {
		if !taken[id] {
			remaining = append(remaining, id)
		}
	}
	for _, workerID := range spare {
		if len(remaining) == 0 {
			if gens < p.maxActiveGens {
				items = append(items, types.WorkItem{
					Worker: workerID,
					Kind:   types.KindGen,
				})
				gens++
			}

			continue
		}
		batch := min(p.simBatch, len(remaining))
		items = append(items, types.WorkItem{
			Worker: workerID,
			Kind:   types.KindSim,
			RowIDs: remaining[:batch],
		})
		remaining = remaining[batch:]
	}

	return items, nil
}

// rowKey derives the affinity key for a row.
func (p *HashAffinity) rowKey(row types.Row) string {
	if p.keyField == "" {
		return strconv.FormatInt(row.ID, 10)
	}
	v, ok := row.Payload[p.keyField]
	if !ok {
		return strconv.FormatInt(row.ID, 10)
	}

	switch v.Kind {
	case types.FieldString:
		return v.Str
	case types.FieldInt:
		return strconv.FormatInt(v.Int, 10)
	case types.FieldBool:
		return strconv.FormatBool(v.Bool)
	case types.FieldFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return strconv.FormatInt(row.ID, 10)
	}
}
