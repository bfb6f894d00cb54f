package worker

// State represents the runner lifecycle state.
//
// States follow a defined progression: a runner starts in StateIdle, moves
// to a running state for the duration of one work item, and returns to
// StateIdle. StateDone and StateFailed are terminal.
type State int

const (
	// StateIdle means the runner is waiting for work.
	StateIdle State = iota

	// StateRunningOneShot means a bound routine is executing a single work
	// item.
	StateRunningOneShot

	// StateRunningPersistent means a persistent routine holds an open
	// session with the manager.
	StateRunningPersistent

	// StateDone means the runner exited cleanly after a stop request.
	// Terminal.
	StateDone

	// StateFailed means the runner exited after a routine or transport
	// error. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunningOneShot:
		return "RunningOneShot"
	case StateRunningPersistent:
		return "RunningPersistent"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// validTransitions defines the allowed runner state changes. Terminal states
// have no successors.
var validTransitions = map[State][]State{
	StateIdle:              {StateRunningOneShot, StateRunningPersistent, StateDone, StateFailed},
	StateRunningOneShot:    {StateIdle, StateFailed},
	StateRunningPersistent: {StateIdle, StateDone, StateFailed},
	StateDone:              {},
	StateFailed:            {},
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}
