package types

import (
	"context"
	"encoding/json"
	"time"
)

// PersisInfo is the per-worker state blob threaded through every invocation
// of that worker's routines.
//
// It is owned exclusively by its worker while work is outstanding and
// exchanged with the manager only at handoff boundaries, so repeated calls
// are stateful without any shared mutable state. The canonical use is an
// independent random stream seeded from Seed.
type PersisInfo struct {
	// Worker is the owning worker id.
	Worker int `json:"worker"`

	// Seed seeds the worker's independent random stream.
	Seed uint64 `json:"seed"`

	// Blob carries arbitrary routine state across calls. Opaque to the core.
	Blob json.RawMessage `json:"blob,omitempty"`
}

// RoutineSpec declares a routine's I/O contract and tuning knobs.
//
// The runtime ships only the declared In fields to the routine and validates
// produced payloads against the run schema. The core never interprets the
// fields themselves.
type RoutineSpec struct {
	// Kind is the routine category (gen or sim).
	Kind RoutineKind `yaml:"kind"`

	// In lists the payload field names the routine reads. Empty means all.
	In []string `yaml:"in"`

	// Out lists the payload fields the routine writes.
	Out []Field `yaml:"out"`

	// Batch is the number of rows a generation routine proposes per call.
	Batch int `yaml:"batch"`

	// User carries arbitrary routine parameters. Opaque to the core and
	// never serialized onto the wire; routines are bound locally.
	User map[string]any `yaml:"-"`
}

// Routine is the capability implemented by user work: consume assigned rows
// plus persistent state, produce output payloads plus updated state.
//
// Implementations must not retain the input slices past the call. The
// runtime dispatches polymorphically over this interface and never inspects
// payload semantics.
//
// For simulation-kind work, out[i] holds the fields produced for in[i] and
// len(out) must equal len(in). For generation-kind work, in is empty and
// each element of out proposes one new row.
type Routine interface {
	Run(ctx context.Context, in []Row, persis PersisInfo, spec RoutineSpec) (out []Payload, updated PersisInfo, err error)
}

// RoutineFunc adapts a plain function to the Routine interface.
type RoutineFunc func(ctx context.Context, in []Row, persis PersisInfo, spec RoutineSpec) ([]Payload, PersisInfo, error)

// Run calls f.
func (f RoutineFunc) Run(ctx context.Context, in []Row, persis PersisInfo, spec RoutineSpec) ([]Payload, PersisInfo, error) {
	return f(ctx, in, persis, spec)
}

// Session is the restricted channel handle a persistent routine uses to
// converse with the manager for the lifetime of its session.
type Session interface {
	// Send contributes a batch of proposed rows to the manager.
	Send(ctx context.Context, payloads []Payload) error

	// Recv waits for the manager's next message for this session: completed
	// rows for previously contributed work, or a stop request.
	//
	// Returns ErrTimeout (wrapped) if no message arrives within timeout, and
	// ErrSessionClosed once the manager has requested stop.
	Recv(timeout time.Duration) ([]Row, error)

	// Stopped reports whether the manager has requested the session to end.
	// Routines should check it at safe points and return promptly once set.
	Stopped() bool
}

// PersistentRoutine is the capability implemented by long-lived user work
// that drives repeated exchanges with the manager through a Session rather
// than a single request/response.
//
// The routine returns when it is finished or when session.Stopped() reports
// a manager-issued stop. The returned PersisInfo is handed back to the
// manager at session teardown.
type PersistentRoutine interface {
	RunPersistent(ctx context.Context, session Session, in []Row, persis PersisInfo, spec RoutineSpec) (PersisInfo, error)
}

// PersistentRoutineFunc adapts a plain function to PersistentRoutine.
type PersistentRoutineFunc func(ctx context.Context, session Session, in []Row, persis PersisInfo, spec RoutineSpec) (PersisInfo, error)

// RunPersistent calls f.
func (f PersistentRoutineFunc) RunPersistent(ctx context.Context, session Session, in []Row, persis PersisInfo, spec RoutineSpec) (PersisInfo, error) {
	return f(ctx, session, in, persis, spec)
}
