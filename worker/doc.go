// Package worker implements the worker-side runtime of the ensemble engine.
//
// A Runner binds user routines (generation and simulation) to a transport
// endpoint and services work items dispatched by the manager. One-shot work
// runs the bound routine once and replies with a result; persistent work
// opens a long-lived session the routine drives through the Session handle
// until it finishes or the manager requests stop.
//
// Runner lifecycle:
//
//	StateIdle → StateRunningOneShot → StateIdle
//	StateIdle → StateRunningPersistent → StateIdle
//	StateIdle → StateDone (stop requested)
//	any running state → StateFailed (routine or transport error)
//
// A failed runner reports the rows it held to the manager before exiting so
// no work silently disappears. The runtime never inspects payload semantics;
// routines are plain capabilities behind the types.Routine and
// types.PersistentRoutine interfaces.
package worker
