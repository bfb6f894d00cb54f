package comms

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/hpcoord/ensemble/types"
)

// LocalHub connects the manager and workers running in one process.
//
// This is the shared-memory analogue: endpoints exchange messages through
// buffered channels with no serialization. Payloads are deep-copied on send
// so sender and receiver never share mutable state.
type LocalHub struct {
	endpoints *xsync.Map[int, *LocalEndpoint]
	buffer    int
}

// NewLocalHub creates a hub with endpoints for the manager (id 0) and
// workers 1..numWorkers.
//
// Parameters:
//   - numWorkers: Number of worker endpoints to create
//   - buffer: Per-endpoint inbox capacity (0 = default)
//
// Returns:
//   - *LocalHub: The hub; fetch endpoints with Manager() and Worker(i)
func NewLocalHub(numWorkers, buffer int) *LocalHub {
	h := &LocalHub{
		endpoints: xsync.NewMap[int, *LocalEndpoint](),
		buffer:    buffer,
	}
	for id := ManagerID; id <= numWorkers; id++ {
		h.endpoints.Store(id, &LocalEndpoint{
			hub:   h,
			id:    id,
			inbox: newInbox(buffer),
		})
	}

	return h
}

// Manager returns the manager endpoint (id 0).
func (h *LocalHub) Manager() *LocalEndpoint {
	ep, _ := h.endpoints.Load(ManagerID)

	return ep
}

// Worker returns the endpoint for worker id (1..numWorkers).
func (h *LocalHub) Worker(id int) *LocalEndpoint {
	ep, _ := h.endpoints.Load(id)

	return ep
}

// Kill abruptly removes an endpoint, simulating a crashed worker process.
//
// Senders targeting the dead endpoint get a *types.PeerLostError, and the
// manager's inbox receives a peer-lost event for it. Intended for failure
// injection in tests and supervisors.
func (h *LocalHub) Kill(id int) {
	ep, ok := h.endpoints.LoadAndDelete(id)
	if !ok {
		return
	}
	ep.dead.Store(true)
	ep.inbox.close()

	if mgr, ok := h.endpoints.Load(ManagerID); ok && id != ManagerID {
		mgr.inbox.put(item{err: &types.PeerLostError{Worker: id}})
	}
}

// LocalEndpoint is one participant on a LocalHub.
type LocalEndpoint struct {
	hub   *LocalHub
	id    int
	inbox *inbox
	dead  atomic.Bool
}

// Compile-time assertion that LocalEndpoint implements Endpoint.
var _ Endpoint = (*LocalEndpoint)(nil)

// ID returns the endpoint id.
func (e *LocalEndpoint) ID() int { return e.id }

// Send delivers msg to dest through its inbox.
//
// Blocks only when the destination inbox is full; honors ctx cancellation.
func (e *LocalEndpoint) Send(ctx context.Context, dest int, msg types.Message) error {
	if e.dead.Load() {
		return types.ErrClosed
	}
	peer, ok := e.hub.endpoints.Load(dest)
	if !ok || peer.dead.Load() {
		return &types.PeerLostError{Worker: dest}
	}

	msg.From = e.id
	msg.To = dest
	copyMessage(&msg)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-peer.inbox.done:
		return &types.PeerLostError{Worker: dest}
	case peer.inbox.ch <- item{msg: msg}:
		return nil
	}
}

// Recv returns the next inbound message, waiting at most timeout.
func (e *LocalEndpoint) Recv(timeout time.Duration) (types.Message, error) {
	return e.inbox.get(timeout)
}

// Probe reports whether a message is pending.
func (e *LocalEndpoint) Probe() bool {
	return e.inbox.pending()
}

// Broadcast sends msg to every live endpoint except this one.
//
// Dead peers are skipped; the caller learns about them through the
// peer-lost events already queued on the manager inbox.
func (e *LocalEndpoint) Broadcast(ctx context.Context, msg types.Message) error {
	var firstErr error
	e.hub.endpoints.Range(func(id int, _ *LocalEndpoint) bool {
		if id == e.id {
			return true
		}
		if err := e.Send(ctx, id, msg); err != nil {
			if _, lost := types.IsPeerLost(err); !lost && firstErr == nil {
				firstErr = fmt.Errorf("broadcast to %d: %w", id, err)
			}
		}

		return true
	})

	return firstErr
}

// Close detaches the endpoint from the hub.
func (e *LocalEndpoint) Close() error {
	if e.dead.Swap(true) {
		return nil
	}
	e.hub.endpoints.Delete(e.id)
	e.inbox.close()

	return nil
}

// copyMessage deep-copies the mutable parts of a message so the receiver
// never aliases the sender's payload maps.
func copyMessage(msg *types.Message) {
	if msg.Work != nil {
		w := *msg.Work
		w.RowIDs = append([]int64(nil), w.RowIDs...)
		w.Rows = copyRows(w.Rows)
		msg.Work = &w
	}
	msg.RowIDs = append([]int64(nil), msg.RowIDs...)
	msg.Rows = copyRows(msg.Rows)
	if msg.Payloads != nil {
		payloads := make([]types.Payload, len(msg.Payloads))
		for i, p := range msg.Payloads {
			payloads[i] = p.Clone()
		}
		msg.Payloads = payloads
	}
}

func copyRows(rows []types.Row) []types.Row {
	if rows == nil {
		return nil
	}
	out := make([]types.Row, len(rows))
	for i, r := range rows {
		r.Payload = r.Payload.Clone()
		out[i] = r
	}

	return out
}
