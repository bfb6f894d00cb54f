package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hpcoord/ensemble/internal/natsutil"
	"github.com/hpcoord/ensemble/types"
)

// NATSEndpoint joins a run's message group over a NATS connection.
//
// This is the process-group backend: every endpoint subscribes to a
// run-scoped subject derived from its id, and sending is a publish to the
// destination's subject. The run id namespaces subjects so multiple
// ensembles can share one NATS deployment.
//
// NATS cannot observe a silent peer dying, so peer loss on this backend is
// detected by the manager's bounded-wait policy escalating ErrTimeout, not
// by the transport itself.
type NATSEndpoint struct {
	nc         *nats.Conn
	runID      string
	id         int
	numWorkers int
	sub        *nats.Subscription
	msgCh      chan *nats.Msg
	inbox      *inbox
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// Compile-time assertion that NATSEndpoint implements Endpoint.
var _ Endpoint = (*NATSEndpoint)(nil)

// JoinNATS creates endpoint id (manager 0, workers 1..numWorkers) on the
// run's subject namespace.
//
// Parameters:
//   - nc: Connected NATS client
//   - runID: Run identifier shared by all endpoints of the run
//   - id: This endpoint's address
//   - numWorkers: Total worker count, needed for Broadcast addressing
//   - buffer: Inbox capacity (0 = default)
func JoinNATS(nc *nats.Conn, runID string, id, numWorkers, buffer int) (*NATSEndpoint, error) {
	if nc == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if id < ManagerID || id > numWorkers {
		return nil, fmt.Errorf("endpoint id %d outside [0, %d]", id, numWorkers)
	}

	e := &NATSEndpoint{
		nc:         nc,
		runID:      runID,
		id:         id,
		numWorkers: numWorkers,
		msgCh:      make(chan *nats.Msg, 512),
		inbox:      newInbox(buffer),
	}

	sub, err := nc.ChanSubscribe(e.subject(id), e.msgCh)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", e.subject(id), err)
	}
	e.sub = sub

	e.wg.Add(1)
	go e.decodeLoop()

	return e, nil
}

// ID returns the endpoint id.
func (e *NATSEndpoint) ID() int { return e.id }

// Send publishes msg to the destination endpoint's subject.
func (e *NATSEndpoint) Send(_ context.Context, dest int, msg types.Message) error {
	if e.closed.Load() {
		return types.ErrClosed
	}

	msg.From = e.id
	msg.To = dest
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := e.nc.Publish(e.subject(dest), data); err != nil {
		// Publish failures here mean our own connection is in trouble, not
		// that the peer died; peer loss on NATS is the manager's timeout
		// policy. Surface the transport error as such.
		if natsutil.IsConnectivityError(err) {
			return fmt.Errorf("publish to endpoint %d: %w", dest, err)
		}

		return &types.PeerLostError{Worker: dest, Cause: err}
	}

	return nil
}

// Recv returns the next inbound message, waiting at most timeout.
func (e *NATSEndpoint) Recv(timeout time.Duration) (types.Message, error) {
	return e.inbox.get(timeout)
}

// Probe reports whether a message is pending.
func (e *NATSEndpoint) Probe() bool {
	return e.inbox.pending() || len(e.msgCh) > 0
}

// Broadcast publishes msg to every other endpoint of the run.
func (e *NATSEndpoint) Broadcast(ctx context.Context, msg types.Message) error {
	for id := ManagerID; id <= e.numWorkers; id++ {
		if id == e.id {
			continue
		}
		if err := e.Send(ctx, id, msg); err != nil {
			return err
		}
	}

	return e.nc.Flush()
}

// Close unsubscribes from the run namespace.
func (e *NATSEndpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	err := e.sub.Unsubscribe()
	close(e.msgCh)
	e.wg.Wait()
	e.inbox.close()

	return err
}

func (e *NATSEndpoint) subject(id int) string {
	return fmt.Sprintf("ensemble.%s.ep.%d", e.runID, id)
}

func (e *NATSEndpoint) decodeLoop() {
	defer e.wg.Done()

	for raw := range e.msgCh {
		if raw == nil {
			continue
		}
		var msg types.Message
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			// A malformed frame on our subject means a foreign publisher;
			// drop it rather than poison the run.
			continue
		}
		e.inbox.put(item{msg: msg})
	}
}
