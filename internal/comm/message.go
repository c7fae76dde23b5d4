// Package comm carries control messages between the coordinator and its
// workers. Message is a closed set of four variants; transports deliver them
// in per-peer FIFO order and give the coordinator a single receive-from-any
// queue.
package comm

import (
	"context"

	"github.com/davidmcclure/history-of-literature/internal/corpus"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	"github.com/davidmcclure/history-of-literature/internal/job"
)

// Kind names a message variant on the wire.
type Kind string

const (
	KindReady  Kind = "ready"
	KindWork   Kind = "work"
	KindResult Kind = "result"
	KindExit   Kind = "exit"
)

// Message is one of Ready, Work, Result or Exit.
type Message interface {
	Kind() Kind
	sealed()
}

// Ready asks the coordinator for work.
type Ready struct{}

// Work assigns one batch to a worker.
type Work struct {
	Item corpus.WorkItem
}

// Result reports a processed batch. Snapshot is set only under the batch
// merge policy.
type Result struct {
	Seq      int
	Stats    job.Stats
	Snapshot *counter.Counter
}

// Exit tells a worker to stop (coordinator to worker) or reports that it
// stopped (worker to coordinator). Snapshot is the worker's whole counter
// under the exit merge policy and nil otherwise.
type Exit struct {
	Snapshot *counter.Counter
}

func (Ready) Kind() Kind  { return KindReady }
func (Work) Kind() Kind   { return KindWork }
func (Result) Kind() Kind { return KindResult }
func (Exit) Kind() Kind   { return KindExit }

func (Ready) sealed()  {}
func (Work) sealed()   {}
func (Result) sealed() {}
func (Exit) sealed()   {}

// Envelope is a message tagged with the rank that sent it.
type Envelope struct {
	From int
	Msg  Message
}

// Hub is the coordinator end of a transport. Worker ranks are 1..Size().
type Hub interface {
	// Recv returns the next message from any worker. A worker that
	// disconnects before sending Exit surfaces as a ProcessFailure error.
	Recv(ctx context.Context) (Envelope, error)

	// Send delivers msg to one worker.
	Send(ctx context.Context, rank int, msg Message) error

	// Size is the number of workers.
	Size() int

	Close() error
}

// Peer is the worker end of a transport.
type Peer interface {
	Rank() int
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}
