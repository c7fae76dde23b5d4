package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davidmcclure/history-of-literature/internal/comm"
	"github.com/davidmcclure/history-of-literature/internal/corpus"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
	"github.com/davidmcclure/history-of-literature/internal/metrics"
	"github.com/davidmcclure/history-of-literature/internal/store"
)

// BatchSource yields work items until exhausted. *corpus.Batcher is one.
type BatchSource interface {
	Next() (corpus.WorkItem, bool, error)
}

// Progress is a snapshot of a running coordinator.
type Progress struct {
	State      State
	Flushing   bool
	Workers    int
	Dispatched int
	Completed  int
	Closed     int
	Stats      job.Stats
}

// Result is the outcome of a completed run.
type Result struct {
	Workers    int
	Dispatched int
	Completed  int
	Stats      job.Stats
	Flush      store.FlushResult
	Duration   time.Duration
}

// CoordinatorConfig holds a Coordinator's dependencies.
type CoordinatorConfig struct {
	// Hub is the receive-from-any end of the transport (required).
	Hub comm.Hub

	// Job accumulates snapshots and flushes them (required).
	Job job.Job

	// Batches supplies work items (required).
	Batches BatchSource

	Metrics metrics.Recorder
	Logger  *slog.Logger

	// OnProgress, when set, is called from the loop goroutine after every
	// message.
	OnProgress func(Progress)
}

// Coordinator is the rank 0 state machine. All of its state, including the
// batch cursor and the accumulator, is touched only by Run.
type Coordinator struct {
	hub        comm.Hub
	job        job.Job
	batches    BatchSource
	metrics    metrics.Recorder
	logger     *slog.Logger
	onProgress func(Progress)

	state    State
	progress Progress
	exited   map[int]bool
}

// NewCoordinator validates cfg and returns a Coordinator in Dispatching.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if cfg.Job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if cfg.Batches == nil {
		return nil, fmt.Errorf("batch source is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{
		hub:        cfg.Hub,
		job:        cfg.Job,
		batches:    cfg.Batches,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		onProgress: cfg.OnProgress,
		state:      Dispatching,
		progress:   Progress{State: Dispatching, Workers: cfg.Hub.Size()},
		exited:     make(map[int]bool, cfg.Hub.Size()),
	}, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	return c.state
}

// Run serves workers until every one has exited, then flushes the job once.
// Any transport, protocol or merge error aborts the run without flushing.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	workers := c.hub.Size()

	c.logger.Info("coordinator_started", slog.Int("workers", workers), slog.String("job", c.job.Name()))

	if workers == 0 {
		c.transition(Draining)
		c.transition(Done)
	}

	for c.state != Done {
		env, err := c.hub.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.handle(ctx, env); err != nil {
			return nil, err
		}
		c.report()
	}

	c.progress.Flushing = true
	c.report()

	flushStart := time.Now()
	flush, err := c.job.Flush(ctx)
	c.metrics.RecordFlush(c.job.Table().Name, flush.Rows, time.Since(flushStart), err)
	if err != nil {
		return nil, err
	}

	c.progress.Flushing = false
	c.report()

	result := &Result{
		Workers:    workers,
		Dispatched: c.progress.Dispatched,
		Completed:  c.progress.Completed,
		Stats:      c.progress.Stats,
		Flush:      flush,
		Duration:   time.Since(start),
	}
	c.logger.Info("coordinator_done",
		slog.Int("batches", result.Dispatched),
		slog.Int("records", result.Stats.Records),
		slog.Int("skipped", result.Stats.Skipped),
		slog.Int("rows", flush.Rows),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (c *Coordinator) handle(ctx context.Context, env comm.Envelope) error {
	rank := env.From
	if c.exited[rank] {
		return holerrors.ProtocolError(fmt.Sprintf("rank %d sent %s after exit", rank, env.Msg.Kind()))
	}

	switch msg := env.Msg.(type) {
	case comm.Ready:
		return c.handleReady(ctx, rank)

	case comm.Result:
		c.progress.Completed++
		c.progress.Stats.Add(msg.Stats)
		c.metrics.RecordBatchCompleted(msg.Stats.Records, msg.Stats.Skipped, msg.Stats.Filtered)
		c.logger.Debug("batch_completed",
			slog.Int("rank", rank),
			slog.Int("seq", msg.Seq),
			slog.Int("records", msg.Stats.Records),
			slog.Int("skipped", msg.Stats.Skipped))
		return c.merge(rank, msg.Snapshot)

	case comm.Exit:
		if err := c.merge(rank, msg.Snapshot); err != nil {
			return err
		}
		c.exited[rank] = true
		c.progress.Closed++
		c.metrics.RecordWorkerClosed()
		c.logger.Info("worker_exit", slog.Int("rank", rank), slog.Int("closed", c.progress.Closed))

		if c.progress.Closed == c.hub.Size() {
			c.transition(Done)
		}
		return nil

	case comm.Work:
		return holerrors.ProtocolError(fmt.Sprintf("rank %d sent work to the coordinator", rank))

	default:
		return holerrors.ProtocolError(fmt.Sprintf("rank %d sent unexpected %T", rank, env.Msg))
	}
}

func (c *Coordinator) handleReady(ctx context.Context, rank int) error {
	if c.state == Dispatching {
		item, ok, err := c.batches.Next()
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		if ok {
			if err := c.hub.Send(ctx, rank, comm.Work{Item: item}); err != nil {
				return err
			}
			c.progress.Dispatched++
			c.metrics.RecordBatchDispatched()
			c.logger.Debug("batch_dispatched", slog.Int("rank", rank), slog.Int("seq", item.Seq), slog.Int("size", item.Len()))
			return nil
		}
		c.transition(Draining)
	}
	return c.hub.Send(ctx, rank, comm.Exit{})
}

func (c *Coordinator) merge(rank int, snapshot *counter.Counter) error {
	if snapshot == nil {
		return nil
	}
	start := time.Now()
	if err := c.job.Merge(snapshot); err != nil {
		return fmt.Errorf("merge snapshot from rank %d: %w", rank, err)
	}
	c.metrics.RecordMerge(time.Since(start))
	return nil
}

func (c *Coordinator) transition(to State) {
	from := c.state
	c.state = to
	c.progress.State = to
	c.metrics.RecordStateTransition(from.String(), to.String())
	c.logger.Info("coordinator_state_change", slog.String("from", from.String()), slog.String("to", to.String()))
}

func (c *Coordinator) report() {
	if c.onProgress != nil {
		c.onProgress(c.progress)
	}
}
