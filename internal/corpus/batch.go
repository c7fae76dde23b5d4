package corpus

import (
	"context"
	"strconv"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

// WorkItem is one batch of record references dispatched as a unit.
type WorkItem struct {
	// Seq numbers batches from 0 in enumeration order.
	Seq   int      `json:"seq"`
	Paths []string `json:"paths"`
}

// Len returns the number of references in the batch.
func (w WorkItem) Len() int {
	return len(w.Paths)
}

// Batcher lazily groups a corpus walk into WorkItems. It is not safe for
// concurrent use; the coordinator loop is its only caller.
type Batcher struct {
	ctx    context.Context
	src    <-chan PathResult
	cancel context.CancelFunc
	size   int
	seq    int
	done   bool
}

// Batches starts walking the corpus and returns a Batcher yielding batches
// of at most size references. Close releases the walk.
func (c *Corpus) Batches(ctx context.Context, size int) (*Batcher, error) {
	if size <= 0 {
		return nil, holerrors.ValidationError("batch size must be positive", nil).
			WithDetail("size", strconv.Itoa(size))
	}

	walkCtx, cancel := context.WithCancel(ctx)
	return &Batcher{
		ctx:    ctx,
		src:    c.Paths(walkCtx),
		cancel: cancel,
		size:   size,
	}, nil
}

// Next returns the next batch. ok is false once the corpus is exhausted. A
// walk error or cancellation of the Batches context is returned with ok
// false and ends the batcher. The last batch
// may be shorter than the batch size but is never empty.
func (b *Batcher) Next() (WorkItem, bool, error) {
	if b.done {
		return WorkItem{}, false, nil
	}

	paths := make([]string, 0, b.size)
	for len(paths) < b.size {
		r, open := <-b.src
		if !open {
			b.finish()
			if err := b.ctx.Err(); err != nil {
				return WorkItem{}, false, err
			}
			break
		}
		if r.Err != nil {
			b.finish()
			return WorkItem{}, false, r.Err
		}
		paths = append(paths, r.Path)
	}

	if len(paths) == 0 {
		return WorkItem{}, false, nil
	}

	item := WorkItem{Seq: b.seq, Paths: paths}
	b.seq++
	return item, true, nil
}

// Dispatched returns how many batches Next has returned.
func (b *Batcher) Dispatched() int {
	return b.seq
}

// Close stops the underlying walk. Safe to call more than once.
func (b *Batcher) Close() {
	b.finish()
}

func (b *Batcher) finish() {
	b.done = true
	b.cancel()
}
