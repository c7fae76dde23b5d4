package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

type inbound struct {
	env Envelope
	err error
}

// LocalHub connects a coordinator to in-process workers over channels.
type LocalHub struct {
	inbox    chan inbound
	outboxes []chan Message
	done     chan struct{}
	once     sync.Once
}

var _ Hub = (*LocalHub)(nil)

// LocalPeer is the worker end of a LocalHub.
type LocalPeer struct {
	rank   int
	hub    *LocalHub
	exited bool
	closed bool
}

var _ Peer = (*LocalPeer)(nil)

// NewLocal returns a hub and one peer per worker, ranked 1..workers.
func NewLocal(workers int) (*LocalHub, []*LocalPeer) {
	hub := &LocalHub{
		// Per worker: a Result, the following Ready and a disconnect.
		inbox:    make(chan inbound, 3*workers+1),
		outboxes: make([]chan Message, workers),
		done:     make(chan struct{}),
	}
	peers := make([]*LocalPeer, workers)
	for i := range peers {
		hub.outboxes[i] = make(chan Message, 1)
		peers[i] = &LocalPeer{rank: i + 1, hub: hub}
	}
	return hub, peers
}

// Recv implements Hub.
func (h *LocalHub) Recv(ctx context.Context) (Envelope, error) {
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
func (h *LocalHub) Send(ctx context.Context, rank int, msg Message) error {
	if rank < 1 || rank > len(h.outboxes) {
		return holerrors.ProtocolError(fmt.Sprintf("no worker with rank %d", rank))
	}
	select {
	case h.outboxes[rank-1] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

// Size implements Hub.
func (h *LocalHub) Size() int {
	return len(h.outboxes)
}

// Close implements Hub. Blocked peers return ErrClosed.
func (h *LocalHub) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

// Rank implements Peer.
func (p *LocalPeer) Rank() int {
	return p.rank
}

// Send implements Peer.
func (p *LocalPeer) Send(ctx context.Context, msg Message) error {
	if p.closed {
		return ErrClosed
	}
	select {
	case p.hub.inbox <- inbound{env: Envelope{From: p.rank, Msg: msg}}:
		if _, ok := msg.(Exit); ok {
			p.exited = true
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.hub.done:
		return ErrClosed
	}
}

// Recv implements Peer.
func (p *LocalPeer) Recv(ctx context.Context) (Message, error) {
	if p.closed {
		return nil, ErrClosed
	}
	select {
	case msg := <-p.hub.outboxes[p.rank-1]:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.hub.done:
		return nil, ErrClosed
	}
}

// Close implements Peer. Closing before Exit was sent reports a
// ProcessFailure to the hub.
func (p *LocalPeer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.exited {
		return nil
	}

	failure := holerrors.ProcessFailure(p.rank, errors.New("worker closed before exit"))
	select {
	case p.hub.inbox <- inbound{env: Envelope{From: p.rank}, err: failure}:
	case <-p.hub.done:
	}
	return nil
}
