// Package ledger implements the persistent work ledger: the append-only
// record of every work-unit created during a run.
//
// The ledger is mutated by a single writer (the manager loop); it performs
// no internal locking and relies on that calling discipline. All mutators
// validate row status transitions and reject regressions with
// InvalidTransition errors. Snapshots are immutable copies handed to the
// allocation engine and exit criteria.
package ledger
