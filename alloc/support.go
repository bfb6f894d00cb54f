package alloc

import (
	"sort"

	"github.com/hpcoord/ensemble/types"
)

// Support helpers for allocation policies. These operate on the worker
// record snapshot the manager passes to Allocate; custom policies are
// encouraged to build on them rather than re-derive worker availability.

// IdleWorkers returns the ids of workers able to accept work, in ascending
// id order.
func IdleWorkers(workers []types.WorkerRecord) []int {
	ids := make([]int, 0, len(workers))
	for _, w := range workers {
		if w.Idle() {
			ids = append(ids, w.ID)
		}
	}
	sort.Ints(ids)

	return ids
}

// LiveWorkerIDs returns the ids of workers not declared crashed, in
// ascending id order.
func LiveWorkerIDs(workers []types.WorkerRecord) []int {
	ids := make([]int, 0, len(workers))
	for _, w := range workers {
		if w.State != types.WorkerCrashed {
			ids = append(ids, w.ID)
		}
	}
	sort.Ints(ids)

	return ids
}

// LiveWorkers returns the number of workers not declared crashed.
func LiveWorkers(workers []types.WorkerRecord) int {
	n := 0
	for _, w := range workers {
		if w.State != types.WorkerCrashed {
			n++
		}
	}

	return n
}

// ActiveGens returns the number of workers currently running generation
// work, one-shot or persistent.
func ActiveGens(workers []types.WorkerRecord) int {
	n := 0
	for _, w := range workers {
		if (w.State == types.WorkerActive || w.State == types.WorkerPersistent) && w.ActiveKind == types.KindGen {
			n++
		}
	}

	return n
}

// PersistentGens returns the number of open persistent generator sessions.
func PersistentGens(workers []types.WorkerRecord) int {
	n := 0
	for _, w := range workers {
		if w.State == types.WorkerPersistent && w.ActiveKind == types.KindGen {
			n++
		}
	}

	return n
}

// AllocatableRows returns the rows the policy may hand out, oldest id
// first. The view already serializes ids in creation order.
func AllocatableRows(view types.LedgerView) []types.Row {
	rows := view.Rows()
	out := make([]types.Row, 0, len(rows))
	for _, r := range rows {
		if r.Allocatable() {
			out = append(out, r)
		}
	}

	return out
}
