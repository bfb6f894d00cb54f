package ledger

import (
	"fmt"
	"time"

	"github.com/hpcoord/ensemble/types"
)

// Ledger is the persistent record of all work-units ever created in a run.
//
// Rows are appended with fresh, contiguous ids and never removed; status
// flags move monotonically through
//
//	unallocated → allocated → given → returned
//
// with cancellation and failure-release as the only sanctioned exits.
//
// Not safe for concurrent use: the manager loop is the sole writer and all
// reads by other components go through immutable snapshots.
type Ledger struct {
	schema types.Schema
	rows   []types.Row
	nextID int64
	byID   map[int64]int
}

// New creates an empty ledger for the given run schema.
//
// Row ids start at 1 so the zero id can mean "no row".
func New(schema types.Schema) *Ledger {
	return &Ledger{
		schema: schema,
		nextID: 1,
		byID:   make(map[int64]int),
	}
}

// Schema returns the run schema the ledger validates payloads against.
func (l *Ledger) Schema() types.Schema {
	return l.schema
}

// Len returns the number of rows.
func (l *Ledger) Len() int {
	return len(l.rows)
}

// NextID returns the id the next appended row will receive.
func (l *Ledger) NextID() int64 {
	return l.nextID
}

// Append atomically adds one row per payload, assigning fresh contiguous ids.
//
// Every payload is validated against the run schema before any row is
// added, so a mismatch leaves the ledger untouched.
//
// Parameters:
//   - payloads: Domain columns for each new row
//   - producedBy: Routine kind that created the rows
//
// Returns:
//   - []int64: The assigned ids, in payload order
//   - error: *types.SchemaMismatchError if any payload violates the schema
func (l *Ledger) Append(payloads []types.Payload, producedBy types.RoutineKind) ([]int64, error) {
	for _, p := range payloads {
		if err := l.schema.Validate(p); err != nil {
			return nil, fmt.Errorf("append rejected: %w", err)
		}
	}

	ids := make([]int64, 0, len(payloads))
	for _, p := range payloads {
		row := types.Row{
			ID:         l.nextID,
			ProducedBy: producedBy,
			Payload:    p.Clone(),
		}
		l.byID[row.ID] = len(l.rows)
		l.rows = append(l.rows, row)
		ids = append(ids, row.ID)
		l.nextID++
	}

	return ids, nil
}

// MarkAllocated flags rows as emitted by the allocation engine.
//
// Returns:
//   - error: *types.InvalidTransitionError if a row is terminal or already allocated
func (l *Ledger) MarkAllocated(ids []int64) error {
	rows, err := l.lookup(ids, "mark allocated")
	if err != nil {
		return err
	}
	for _, idx := range rows {
		r := &l.rows[idx]
		switch {
		case r.Terminal():
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark allocated", Reason: "row is terminal"}
		case r.Allocated:
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark allocated", Reason: "row already allocated"}
		}
	}
	for _, idx := range rows {
		l.rows[idx].Allocated = true
	}

	return nil
}

// MarkGiven records that rows were dispatched to a worker.
//
// GivenTime is set on first dispatch only; re-dispatch after a failure
// release keeps the original timestamp.
//
// Parameters:
//   - ids: Rows being dispatched
//   - worker: Destination worker id
//   - now: Dispatch time
//
// Returns:
//   - error: *types.InvalidTransitionError on misuse
func (l *Ledger) MarkGiven(ids []int64, worker int, now time.Time) error {
	rows, err := l.lookup(ids, "mark given")
	if err != nil {
		return err
	}
	for _, idx := range rows {
		r := &l.rows[idx]
		switch {
		case r.Terminal():
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark given", Reason: "row is terminal"}
		case !r.Allocated:
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark given", Reason: "row not allocated"}
		case r.Given:
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark given", Reason: "row already given"}
		case r.Owner != 0 && r.Owner != worker:
			return &types.InvalidTransitionError{
				Row: r.ID, Op: "mark given",
				Reason: fmt.Sprintf("row still owned by worker %d", r.Owner),
			}
		}
	}
	for _, idx := range rows {
		r := &l.rows[idx]
		r.Given = true
		r.Owner = worker
		if r.GivenTime.IsZero() {
			r.GivenTime = now
		}
	}

	return nil
}

// MarkReturned folds worker output back into the rows.
//
// payloads[i] is merged into the row at ids[i] after schema validation.
// A nil payloads slice marks the rows returned without touching columns.
//
// Returns:
//   - error: *types.InvalidTransitionError or *types.SchemaMismatchError
func (l *Ledger) MarkReturned(ids []int64, payloads []types.Payload, now time.Time) error {
	if payloads != nil && len(payloads) != len(ids) {
		return fmt.Errorf("mark returned: %d payloads for %d rows", len(payloads), len(ids))
	}
	rows, err := l.lookup(ids, "mark returned")
	if err != nil {
		return err
	}
	for _, idx := range rows {
		r := &l.rows[idx]
		switch {
		case r.Cancelled:
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark returned", Reason: "row is cancelled"}
		case r.Returned:
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark returned", Reason: "row already returned"}
		case !r.Given:
			return &types.InvalidTransitionError{Row: r.ID, Op: "mark returned", Reason: "row not given"}
		}
	}
	for _, p := range payloads {
		if err := l.schema.Validate(p); err != nil {
			return fmt.Errorf("mark returned rejected: %w", err)
		}
	}
	for i, idx := range rows {
		r := &l.rows[idx]
		if payloads != nil {
			if r.Payload == nil {
				r.Payload = types.Payload{}
			}
			r.Payload.Merge(payloads[i])
		}
		r.Returned = true
		r.ReturnedTime = now
	}

	return nil
}

// MarkCancelled withdraws rows from the pipeline.
//
// Cancelling an already-cancelled row is a no-op; cancelling a returned row
// is an invalid transition.
func (l *Ledger) MarkCancelled(ids []int64) error {
	rows, err := l.lookup(ids, "mark cancelled")
	if err != nil {
		return err
	}
	for _, idx := range rows {
		if l.rows[idx].Returned {
			return &types.InvalidTransitionError{Row: l.rows[idx].ID, Op: "mark cancelled", Reason: "row already returned"}
		}
	}
	for _, idx := range rows {
		r := &l.rows[idx]
		r.Cancelled = true
		r.Owner = 0
	}

	return nil
}

// Release returns in-flight rows of a failed worker to the allocatable pool.
//
// Allocated and Given are cleared, ownership is dropped, and the retry
// counter is bumped. Terminal rows are skipped (a result may have raced the
// failure report).
//
// Returns:
//   - []int64: The ids actually released
func (l *Ledger) Release(ids []int64) ([]int64, error) {
	rows, err := l.lookup(ids, "release")
	if err != nil {
		return nil, err
	}
	released := make([]int64, 0, len(rows))
	for _, idx := range rows {
		r := &l.rows[idx]
		if r.Terminal() {
			continue
		}
		r.Allocated = false
		r.Given = false
		r.Owner = 0
		r.Retries++
		released = append(released, r.ID)
	}

	return released, nil
}

// Row returns a copy of the row with the given id.
func (l *Ledger) Row(id int64) (types.Row, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return types.Row{}, false
	}

	return l.rows[idx], true
}

// Snapshot returns an immutable view of the ledger for the allocation
// engine and exit criteria.
func (l *Ledger) Snapshot() *Snapshot {
	rows := make([]types.Row, len(l.rows))
	copy(rows, l.rows)

	byID := make(map[int64]int, len(l.byID))
	for id, idx := range l.byID {
		byID[id] = idx
	}

	return &Snapshot{rows: rows, byID: byID, nextID: l.nextID}
}

// lookup resolves ids to row indices, rejecting unknown ids.
func (l *Ledger) lookup(ids []int64, op string) ([]int, error) {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		idx, ok := l.byID[id]
		if !ok {
			return nil, fmt.Errorf("%s: row %d: %w", op, id, types.ErrUnknownRow)
		}
		out = append(out, idx)
	}

	return out, nil
}

// Snapshot is a read-only copy of the ledger at one instant.
//
// Snapshots implement types.LedgerView. Row payloads are shared with the
// snapshot's internal copy; callers must treat them as read-only.
type Snapshot struct {
	rows   []types.Row
	byID   map[int64]int
	nextID int64
}

// Compile-time assertion that Snapshot implements LedgerView.
var _ types.LedgerView = (*Snapshot)(nil)

// Len returns the number of rows in the snapshot.
func (s *Snapshot) Len() int { return len(s.rows) }

// NextID returns the next row id at snapshot time.
func (s *Snapshot) NextID() int64 { return s.nextID }

// Row returns the row with the given id.
func (s *Snapshot) Row(id int64) (types.Row, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return types.Row{}, false
	}

	return s.rows[idx], true
}

// Rows returns all rows in id order. Callers must not mutate.
func (s *Snapshot) Rows() []types.Row { return s.rows }

// ReturnedCount returns the number of returned rows produced by the given
// routine kind (types.KindNone counts all returned rows).
func (s *Snapshot) ReturnedCount(kind types.RoutineKind) int {
	n := 0
	for _, r := range s.rows {
		if r.Returned && (kind == types.KindNone || r.ProducedBy == kind) {
			n++
		}
	}

	return n
}
