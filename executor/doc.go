// Package executor launches and supervises external application processes
// on behalf of user routines.
//
// Simulation routines frequently wrap a standalone binary rather than pure
// Go code. The Executor interface gives them a uniform submit/poll/wait/kill
// contract, and Local implements it with plain OS processes. Executors are
// called only from routine code; the coordination core never starts
// processes itself.
package executor
