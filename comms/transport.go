package comms

import (
	"context"
	"time"

	"github.com/hpcoord/ensemble/types"
)

// ManagerID is the endpoint id reserved for the manager. Workers use 1..N.
const ManagerID = 0

// Endpoint is one logical participant on a transport.
//
// Implementations guarantee reliable, ordered delivery per sender-receiver
// pair. Send to a dead peer and Recv after a detected peer death return a
// *types.PeerLostError so the manager loop can react uniformly across
// backends.
type Endpoint interface {
	// ID returns this endpoint's integer address.
	ID() int

	// Send delivers msg to the endpoint with id dest.
	Send(ctx context.Context, dest int, msg types.Message) error

	// Recv returns the next inbound message, waiting at most timeout.
	// Returns types.ErrTimeout (wrapped) when nothing arrives in time, so
	// callers can interleave polling with their own bookkeeping instead of
	// blocking forever.
	Recv(timeout time.Duration) (types.Message, error)

	// Probe reports, without blocking, whether a message is pending.
	Probe() bool

	// Broadcast delivers msg to every other endpoint on the transport.
	Broadcast(ctx context.Context, msg types.Message) error

	// Close releases the endpoint. Subsequent operations return
	// types.ErrClosed.
	Close() error
}

// item is an inbox entry: a message, or an error event (peer lost, closed)
// the reader surfaced from the backend.
type item struct {
	msg types.Message
	err error
}

// inbox is the shared receive side used by all backends: a buffered channel
// drained with a bounded wait.
type inbox struct {
	ch   chan item
	done chan struct{}
}

func newInbox(buffer int) *inbox {
	if buffer <= 0 {
		buffer = 256
	}

	return &inbox{
		ch:   make(chan item, buffer),
		done: make(chan struct{}),
	}
}

// put enqueues an entry, dropping it if the inbox is closed.
func (in *inbox) put(it item) {
	select {
	case <-in.done:
	case in.ch <- it:
	}
}

// get waits up to timeout for the next entry.
func (in *inbox) get(timeout time.Duration) (types.Message, error) {
	// Fast path: drain pending entries even after close.
	select {
	case it := <-in.ch:
		return it.msg, it.err
	default:
	}

	select {
	case <-in.done:
		return types.Message{}, types.ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case it := <-in.ch:
		return it.msg, it.err
	case <-in.done:
		return types.Message{}, types.ErrClosed
	case <-timer.C:
		return types.Message{}, types.ErrTimeout
	}
}

// pending reports whether an entry is waiting.
func (in *inbox) pending() bool {
	return len(in.ch) > 0
}

// close marks the inbox closed. Pending entries remain drainable.
func (in *inbox) close() {
	select {
	case <-in.done:
	default:
		close(in.done)
	}
}
