// Package alloc provides built-in allocation policy implementations.
//
// An allocation policy decides, after every ledger or worker state change,
// which worker runs which routine against which ledger rows. Two built-in
// policies are provided:
//
//   - SimWorkFirst: hand unevaluated rows to idle workers before issuing
//     new generation requests, oldest row first, with a cap on concurrently
//     outstanding generation work and optional persistent-generator worker
//     reservations
//   - HashAffinity: route rows to workers by consistent hash of a key
//     field, for simulations that cache expensive per-input state
//
// Policies are pure functions of the ledger view and worker records: the
// same inputs always yield the same work items, which keeps runs replayable
// in tests. Custom policies can be implemented by satisfying the
// types.Allocator interface.
package alloc
