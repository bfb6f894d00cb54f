package ensemble

import "github.com/hpcoord/ensemble/types"

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on `types` without depending on the root `ensemble`
// package, while still providing a convenient `ensemble.Row`,
// `ensemble.Schema`, etc. for users.
type (
	Schema      = types.Schema
	Field       = types.Field
	FieldKind   = types.FieldKind
	Value       = types.Value
	Payload     = types.Payload
	Row         = types.Row
	RoutineKind = types.RoutineKind
	RoutineSpec = types.RoutineSpec
	PersisInfo  = types.PersisInfo
	WorkItem    = types.WorkItem
	Message     = types.Message
	State       = types.State
	RunStatus   = types.RunStatus
	RunReport   = types.RunReport
)

// Re-export interfaces from the internal types package for convenience.
type (
	Routine           = types.Routine
	RoutineFunc       = types.RoutineFunc
	PersistentRoutine = types.PersistentRoutine
	Session           = types.Session
	Allocator         = types.Allocator
	LedgerView        = types.LedgerView
	ExitCriteria      = types.ExitCriteria
	WorkerRecord      = types.WorkerRecord
	MetricsCollector  = types.MetricsCollector
	Logger            = types.Logger
	Hooks             = types.Hooks
)

// Re-export routine kind constants from the internal types package.
const (
	KindNone = types.KindNone
	KindGen  = types.KindGen
	KindSim  = types.KindSim
)

// Re-export field kind constants from the internal types package.
const (
	FieldFloat    = types.FieldFloat
	FieldInt      = types.FieldInt
	FieldBool     = types.FieldBool
	FieldString   = types.FieldString
	FieldFloatVec = types.FieldFloatVec
)

// Re-export State constants from the internal types package.
const (
	StateInit     = types.StateInit
	StateRunning  = types.StateRunning
	StateDraining = types.StateDraining
	StateShutdown = types.StateShutdown
)

// Re-export run status codes from the internal types package.
const (
	StatusClean         = types.StatusClean
	StatusWorkerFailure = types.StatusWorkerFailure
	StatusFatal         = types.StatusFatal
	StatusWallClock     = types.StatusWallClock
)
