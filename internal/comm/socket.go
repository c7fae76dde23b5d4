package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// SocketHub is the coordinator end of a unix socket transport. Each worker
// process dials in, announces its rank, and then exchanges length-prefixed
// JSON frames.
type SocketHub struct {
	path     string
	size     int
	maxFrame int
	logger   *slog.Logger

	listener net.Listener
	inbox    chan inbound
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[int]*socketConn
}

var _ Hub = (*SocketHub)(nil)

type socketConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

type hello struct {
	Kind Kind `json:"kind"`
	Rank int  `json:"rank"`
}

// Listen opens the socket at path for workers ranked 1..workers. Any stale
// socket file is removed first.
func Listen(path string, workers, maxFrame int, logger *slog.Logger) (*SocketHub, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	return &SocketHub{
		path:     path,
		size:     workers,
		maxFrame: maxFrame,
		logger:   logger,
		listener: listener,
		inbox:    make(chan inbound, 3*workers+1),
		done:     make(chan struct{}),
		conns:    make(map[int]*socketConn, workers),
	}, nil
}

// Path returns the socket path.
func (h *SocketHub) Path() string {
	return h.path
}

// Accept waits until every worker has connected and sent its hello, then
// starts reading from all of them.
func (h *SocketHub) Accept(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = h.listener.Close() })
	defer stop()

	for len(h.conns) < h.size {
		conn, err := h.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept worker: %w", err)
		}

		rank, err := h.handshake(conn)
		if err != nil {
			_ = conn.Close()
			return err
		}

		h.mu.Lock()
		h.conns[rank] = &socketConn{conn: conn}
		h.mu.Unlock()

		h.logger.Debug("worker_connected", slog.Int("rank", rank))
	}

	for rank, sc := range h.conns {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.readLoop(rank, sc.conn)
		}()
	}
	return nil
}

func (h *SocketHub) handshake(conn net.Conn) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return 0, fmt.Errorf("set handshake deadline: %w", err)
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	data, err := ReadFrame(conn, h.maxFrame)
	if err != nil {
		return 0, holerrors.TransitError("read worker hello", err)
	}

	var msg hello
	if err := json.Unmarshal(data, &msg); err != nil || msg.Kind != kindHello {
		return 0, holerrors.ProtocolError("first frame from worker is not a hello")
	}
	if msg.Rank < 1 || msg.Rank > h.size {
		return 0, holerrors.ProtocolError(fmt.Sprintf("worker rank %d out of range 1..%d", msg.Rank, h.size))
	}
	if _, dup := h.conns[msg.Rank]; dup {
		return 0, holerrors.ProtocolError(fmt.Sprintf("worker rank %d connected twice", msg.Rank))
	}
	return msg.Rank, nil
}

// readLoop forwards one worker's messages to the inbox until its Exit.
func (h *SocketHub) readLoop(rank int, conn net.Conn) {
	for {
		msg, err := readMessage(conn, h.maxFrame)
		if err != nil {
			if !holerrors.IsFatal(err) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = holerrors.ProcessFailure(rank, fmt.Errorf("disconnected before exit: %w", err))
			}
			h.deliver(inbound{env: Envelope{From: rank}, err: err})
			return
		}

		h.deliver(inbound{env: Envelope{From: rank, Msg: msg}})
		if _, ok := msg.(Exit); ok {
			return
		}
	}
}

func (h *SocketHub) deliver(in inbound) {
	select {
	case h.inbox <- in:
	case <-h.done:
	}
}

// Recv implements Hub.
func (h *SocketHub) Recv(ctx context.Context) (Envelope, error) {
	select {
	case in := <-h.inbox:
		return in.env, in.err
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-h.done:
		return Envelope{}, ErrClosed
	}
}

// Send implements Hub.
func (h *SocketHub) Send(ctx context.Context, rank int, msg Message) error {
	h.mu.Lock()
	sc, ok := h.conns[rank]
	h.mu.Unlock()
	if !ok {
		return holerrors.ProtocolError(fmt.Sprintf("no worker with rank %d", rank))
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = sc.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if err := writeMessage(sc.conn, msg, h.maxFrame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if holerrors.GetCode(err) != "" {
			return err
		}
		return holerrors.ProcessFailure(rank, err)
	}
	return nil
}

// Connected reports whether rank has completed its handshake.
func (h *SocketHub) Connected(rank int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[rank]
	return ok
}

// Size implements Hub.
func (h *SocketHub) Size() int {
	return h.size
}

// Close implements Hub. It closes every connection, waits for the readers
// and removes the socket file.
func (h *SocketHub) Close() error {
	h.once.Do(func() {
		close(h.done)
		_ = h.listener.Close()

		h.mu.Lock()
		for _, sc := range h.conns {
			_ = sc.conn.Close()
		}
		h.mu.Unlock()

		h.wg.Wait()
		_ = os.Remove(h.path)
	})
	return nil
}

// SocketPeer is the worker end of a unix socket transport.
type SocketPeer struct {
	rank     int
	maxFrame int
	conn     net.Conn
}

var _ Peer = (*SocketPeer)(nil)

// Dial connects to the hub at path and announces rank.
func Dial(ctx context.Context, path string, rank, maxFrame int) (*SocketPeer, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}

	data, err := json.Marshal(hello{Kind: kindHello, Rank: rank})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	if err := WriteFrame(conn, data, maxFrame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	return &SocketPeer{rank: rank, maxFrame: maxFrame, conn: conn}, nil
}

// Rank implements Peer.
func (p *SocketPeer) Rank() int {
	return p.rank
}

// Send implements Peer.
func (p *SocketPeer) Send(ctx context.Context, msg Message) error {
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if err := writeMessage(p.conn, msg, p.maxFrame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Recv implements Peer.
func (p *SocketPeer) Recv(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetReadDeadline(time.Now()) })
	defer stop()

	msg, err := readMessage(p.conn, p.maxFrame)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, holerrors.TransitError("coordinator closed the connection", err)
		}
		return nil, err
	}
	return msg, nil
}

// Close implements Peer.
func (p *SocketPeer) Close() error {
	return p.conn.Close()
}
