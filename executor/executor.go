package executor

import (
	"context"
	"errors"
)

// ErrUnknownTask is returned for task ids the executor never issued.
var ErrUnknownTask = errors.New("unknown task id")

// TaskState is the lifecycle state of a submitted task.
type TaskState int32

const (
	// TaskRunning means the process has started and not yet exited.
	TaskRunning TaskState = iota + 1

	// TaskFinished means the process exited with code 0.
	TaskFinished

	// TaskFailed means the process exited non-zero or could not run.
	TaskFailed

	// TaskKilled means the process was terminated through Kill.
	TaskKilled
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "Running"
	case TaskFinished:
		return "Finished"
	case TaskFailed:
		return "Failed"
	case TaskKilled:
		return "Killed"
	default:
		return "Unknown"
	}
}

// TaskSpec describes one application launch.
type TaskSpec struct {
	// Command is the executable to run.
	Command string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the caller's.
	Dir string

	// Env is extra environment in "key=value" form, appended to the
	// inherited environment.
	Env []string

	// StdoutPath and StderrPath capture process output to files when set.
	StdoutPath string
	StderrPath string
}

// TaskStatus is a point-in-time snapshot of a task.
type TaskStatus struct {
	// ID is the executor-issued task id.
	ID string

	// State is the lifecycle state at snapshot time.
	State TaskState

	// ExitCode is the process exit code. Valid once State is terminal;
	// -1 when the process never ran or was killed.
	ExitCode int

	// Err describes a launch or wait failure, empty otherwise.
	Err string
}

// Done reports whether the task reached a terminal state.
func (s TaskStatus) Done() bool {
	return s.State != TaskRunning
}

// Executor runs external applications for routines.
//
// Implementations must be safe for concurrent use; a worker may supervise
// several tasks at once.
type Executor interface {
	// Submit launches the application described by spec and returns its
	// task id. The task runs until it exits or is killed; ctx bounds only
	// the launch itself.
	Submit(ctx context.Context, spec TaskSpec) (string, error)

	// Poll returns the task's current status without blocking.
	Poll(id string) (TaskStatus, error)

	// Wait blocks until the task reaches a terminal state or ctx is done.
	Wait(ctx context.Context, id string) (TaskStatus, error)

	// Kill terminates a running task. Killing a finished task is a no-op.
	Kill(id string) error
}
