package comms

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/hpcoord/ensemble/types"
)

// maxFrameSize bounds a single message frame (64 MiB). Larger frames
// indicate a corrupt stream or a protocol mismatch.
const maxFrameSize = 64 << 20

// TCPManager is the manager-side endpoint of the socket backend.
//
// The manager listens; each worker dials in and identifies itself with a
// hello frame. Messages are length-prefixed JSON. TCP ordering gives the
// per-pair ordering guarantee; connection loss surfaces as PeerLostError.
type TCPManager struct {
	listener net.Listener
	conns    *xsync.Map[int, *tcpConn]
	inbox    *inbox
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// Compile-time assertion that TCPManager implements Endpoint.
var _ Endpoint = (*TCPManager)(nil)

// ListenTCP starts the manager endpoint on addr (e.g. "127.0.0.1:0").
//
// Accepting and reading run in background goroutines; workers may connect
// at any time before or during the run.
func ListenTCP(addr string, buffer int) (*TCPManager, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	m := &TCPManager{
		listener: ln,
		conns:    xsync.NewMap[int, *tcpConn](),
		inbox:    newInbox(buffer),
	}

	m.wg.Add(1)
	go m.acceptLoop()

	return m, nil
}

// Addr returns the listen address workers should dial.
func (m *TCPManager) Addr() string {
	return m.listener.Addr().String()
}

// ID returns ManagerID.
func (m *TCPManager) ID() int { return ManagerID }

// Send delivers msg to the worker with id dest over its connection.
func (m *TCPManager) Send(_ context.Context, dest int, msg types.Message) error {
	if m.closed.Load() {
		return types.ErrClosed
	}
	conn, ok := m.conns.Load(dest)
	if !ok {
		return &types.PeerLostError{Worker: dest}
	}

	msg.From = ManagerID
	msg.To = dest
	if err := conn.write(msg); err != nil {
		m.dropConn(dest, err)

		return &types.PeerLostError{Worker: dest, Cause: err}
	}

	return nil
}

// Recv returns the next inbound message from any worker.
func (m *TCPManager) Recv(timeout time.Duration) (types.Message, error) {
	return m.inbox.get(timeout)
}

// Probe reports whether a message is pending.
func (m *TCPManager) Probe() bool { return m.inbox.pending() }

// Broadcast sends msg to every connected worker.
func (m *TCPManager) Broadcast(ctx context.Context, msg types.Message) error {
	var firstErr error
	m.conns.Range(func(id int, _ *tcpConn) bool {
		if err := m.Send(ctx, id, msg); err != nil {
			if _, lost := types.IsPeerLost(err); !lost && firstErr == nil {
				firstErr = err
			}
		}

		return true
	})

	return firstErr
}

// Close stops the listener and drops all worker connections.
func (m *TCPManager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	err := m.listener.Close()
	m.conns.Range(func(id int, c *tcpConn) bool {
		_ = c.raw.Close()
		m.conns.Delete(id)

		return true
	})
	m.inbox.close()
	m.wg.Wait()

	return err
}

func (m *TCPManager) acceptLoop() {
	defer m.wg.Done()

	for {
		raw, err := m.listener.Accept()
		if err != nil {
			return // listener closed
		}

		m.wg.Add(1)
		go m.serveConn(raw)
	}
}

// serveConn reads the hello frame, registers the worker, then pumps frames
// into the shared inbox until the connection dies.
func (m *TCPManager) serveConn(raw net.Conn) {
	defer m.wg.Done()

	conn := &tcpConn{raw: raw}
	hello, err := conn.read()
	if err != nil || hello.From <= ManagerID {
		_ = raw.Close()

		return
	}

	workerID := hello.From
	m.conns.Store(workerID, conn)

	for {
		msg, err := conn.read()
		if err != nil {
			if !m.closed.Load() {
				m.dropConn(workerID, err)
			}

			return
		}
		msg.From = workerID
		m.inbox.put(item{msg: msg})
	}
}

// dropConn removes a dead connection and queues a peer-lost event exactly
// once.
func (m *TCPManager) dropConn(workerID int, cause error) {
	conn, ok := m.conns.LoadAndDelete(workerID)
	if !ok {
		return
	}
	_ = conn.raw.Close()
	if errors.Is(cause, io.EOF) {
		cause = nil
	}
	m.inbox.put(item{err: &types.PeerLostError{Worker: workerID, Cause: cause}})
}

// TCPWorker is the worker-side endpoint of the socket backend.
type TCPWorker struct {
	id     int
	conn   *tcpConn
	inbox  *inbox
	closed atomic.Bool
	wg     sync.WaitGroup
}

// Compile-time assertion that TCPWorker implements Endpoint.
var _ Endpoint = (*TCPWorker)(nil)

// DialTCP connects worker id to the manager at addr and identifies itself.
func DialTCP(addr string, id, buffer int) (*TCPWorker, error) {
	if id <= ManagerID {
		return nil, fmt.Errorf("invalid worker id %d", id)
	}
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial manager at %s: %w", addr, err)
	}

	w := &TCPWorker{
		id:    id,
		conn:  &tcpConn{raw: raw},
		inbox: newInbox(buffer),
	}
	if err := w.conn.write(types.Message{From: id, To: ManagerID}); err != nil {
		_ = raw.Close()

		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	w.wg.Add(1)
	go w.readLoop()

	return w, nil
}

// ID returns the worker id.
func (w *TCPWorker) ID() int { return w.id }

// Send delivers msg to the manager. Workers can only talk to the manager.
func (w *TCPWorker) Send(_ context.Context, dest int, msg types.Message) error {
	if w.closed.Load() {
		return types.ErrClosed
	}
	if dest != ManagerID {
		return fmt.Errorf("worker %d cannot address peer %d directly", w.id, dest)
	}

	msg.From = w.id
	msg.To = dest
	if err := w.conn.write(msg); err != nil {
		return &types.PeerLostError{Worker: ManagerID, Cause: err}
	}

	return nil
}

// Recv returns the next message from the manager.
func (w *TCPWorker) Recv(timeout time.Duration) (types.Message, error) {
	return w.inbox.get(timeout)
}

// Probe reports whether a message is pending.
func (w *TCPWorker) Probe() bool { return w.inbox.pending() }

// Broadcast sends to the manager, the worker's only peer.
func (w *TCPWorker) Broadcast(ctx context.Context, msg types.Message) error {
	return w.Send(ctx, ManagerID, msg)
}

// Close drops the connection.
func (w *TCPWorker) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	err := w.conn.raw.Close()
	w.inbox.close()
	w.wg.Wait()

	return err
}

func (w *TCPWorker) readLoop() {
	defer w.wg.Done()

	for {
		msg, err := w.conn.read()
		if err != nil {
			if !w.closed.Load() {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				w.inbox.put(item{err: &types.PeerLostError{Worker: ManagerID, Cause: err}})
			}

			return
		}
		w.inbox.put(item{msg: msg})
	}
}

// tcpConn frames messages as a 4-byte big-endian length plus JSON body.
type tcpConn struct {
	raw     net.Conn
	writeMu sync.Mutex
}

func (c *tcpConn) write(msg types.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.raw.Write(frame)

	return err
}

func (c *tcpConn) read() (types.Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.raw, header[:]); err != nil {
		return types.Message{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return types.Message{}, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.raw, body); err != nil {
		return types.Message{}, err
	}

	var msg types.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return types.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}

	return msg, nil
}
