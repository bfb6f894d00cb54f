package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hpcoord/ensemble/comms"
	"github.com/hpcoord/ensemble/types"
)

// session is the restricted channel handle given to a persistent routine.
//
// It shares the runner's endpoint and goroutine: the routine runs on the
// Run loop's goroutine, so session calls never race with the runner's own
// receive path. Control messages arriving mid-session (cancel, stop) are
// intercepted here instead of in the main loop.
type session struct {
	r       *Runner
	stopped atomic.Bool
}

// Compile-time assertion that session implements types.Session.
var _ types.Session = (*session)(nil)

func newSession(r *Runner) *session {
	return &session{r: r}
}

// Send contributes a batch of proposed rows to the manager.
func (s *session) Send(ctx context.Context, payloads []types.Payload) error {
	if s.stopped.Load() {
		return types.ErrSessionClosed
	}

	msg := types.Message{
		Kind:     types.MsgPersisUpdate,
		From:     s.r.ep.ID(),
		To:       comms.ManagerID,
		Payloads: payloads,
	}
	if err := s.r.ep.Send(ctx, comms.ManagerID, msg); err != nil {
		return fmt.Errorf("session send: %w", err)
	}

	return nil
}

// Recv waits for the manager's next message for this session.
//
// Completed rows arrive as the successful result. A manager stop request
// marks the session stopped and returns ErrSessionClosed; cancel messages
// are folded into the runner's withdrawn set and the wait continues.
func (s *session) Recv(timeout time.Duration) ([]types.Row, error) {
	if s.stopped.Load() {
		return nil, types.ErrSessionClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("session recv: %w", types.ErrTimeout)
		}

		msg, err := s.r.ep.Recv(remaining)
		if err != nil {
			return nil, fmt.Errorf("session recv: %w", err)
		}

		switch msg.Kind {
		case types.MsgPersisSend:
			return msg.Rows, nil
		case types.MsgStop:
			s.stopped.Store(true)
			return nil, types.ErrSessionClosed
		case types.MsgCancel:
			s.r.markCancelled(msg.RowIDs)
		default:
			s.r.opts.logger.Warn("dropping unexpected session message",
				"worker", s.r.ep.ID(),
				"kind", msg.Kind.String(),
			)
		}
	}
}

// Stopped reports whether the manager has requested the session to end.
func (s *session) Stopped() bool {
	return s.stopped.Load()
}
