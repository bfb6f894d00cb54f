package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Local runs tasks as child processes of the worker.
type Local struct {
	tasks *xsync.Map[string, *localTask]
}

// Compile-time assertion that Local implements Executor.
var _ Executor = (*Local)(nil)

type localTask struct {
	cmd    *exec.Cmd
	state  atomic.Int32 // TaskState
	killed atomic.Bool
	done   chan struct{}

	// Written once before done closes, read only after.
	exitCode int
	waitErr  error

	stdout *os.File
	stderr *os.File
}

// NewLocal creates a process-backed executor.
func NewLocal() *Local {
	return &Local{tasks: xsync.NewMap[string, *localTask]()}
}

// Submit launches the process and begins supervising it.
func (l *Local) Submit(ctx context.Context, spec TaskSpec) (string, error) {
	if spec.Command == "" {
		return "", errors.New("empty command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	task := &localTask{cmd: cmd, done: make(chan struct{})}
	var err error
	if spec.StdoutPath != "" {
		if task.stdout, err = os.Create(spec.StdoutPath); err != nil {
			return "", fmt.Errorf("open stdout file: %w", err)
		}
		cmd.Stdout = task.stdout
	}
	if spec.StderrPath != "" {
		if task.stderr, err = os.Create(spec.StderrPath); err != nil {
			task.closeOutputs()
			return "", fmt.Errorf("open stderr file: %w", err)
		}
		cmd.Stderr = task.stderr
	}

	if err := ctx.Err(); err != nil {
		task.closeOutputs()
		return "", err
	}
	if err := cmd.Start(); err != nil {
		task.closeOutputs()
		return "", fmt.Errorf("start %s: %w", spec.Command, err)
	}

	id := uuid.NewString()
	task.state.Store(int32(TaskRunning))
	l.tasks.Store(id, task)

	go l.supervise(task)

	return id, nil
}

// supervise waits for process exit and records the terminal state.
func (l *Local) supervise(task *localTask) {
	err := task.cmd.Wait()
	task.closeOutputs()

	switch {
	case task.killed.Load():
		task.exitCode = -1
		task.state.Store(int32(TaskKilled))
	case err == nil:
		task.exitCode = 0
		task.state.Store(int32(TaskFinished))
	default:
		task.waitErr = err
		task.exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			task.exitCode = exitErr.ExitCode()
		}
		task.state.Store(int32(TaskFailed))
	}
	close(task.done)
}

// Poll returns the task's current status without blocking.
func (l *Local) Poll(id string) (TaskStatus, error) {
	task, ok := l.tasks.Load(id)
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	return task.status(id), nil
}

// Wait blocks until the task exits or ctx is done.
func (l *Local) Wait(ctx context.Context, id string) (TaskStatus, error) {
	task, ok := l.tasks.Load(id)
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	select {
	case <-ctx.Done():
		return task.status(id), ctx.Err()
	case <-task.done:
		return task.status(id), nil
	}
}

// Kill terminates a running task. Idempotent.
func (l *Local) Kill(id string) error {
	task, ok := l.tasks.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if TaskState(task.state.Load()) != TaskRunning {
		return nil
	}

	task.killed.Store(true)
	if err := task.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill task %s: %w", id, err)
	}

	return nil
}

func (t *localTask) status(id string) TaskStatus {
	st := TaskStatus{ID: id, State: TaskState(t.state.Load())}
	if st.Done() {
		st.ExitCode = t.exitCode
		if t.waitErr != nil && st.State == TaskFailed {
			st.Err = t.waitErr.Error()
		}
	}

	return st
}

func (t *localTask) closeOutputs() {
	if t.stdout != nil {
		_ = t.stdout.Close()
	}
	if t.stderr != nil {
		_ = t.stderr.Close()
	}
}
