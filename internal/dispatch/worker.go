package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/davidmcclure/history-of-literature/internal/comm"
	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
)

// WorkerConfig holds a Worker's dependencies.
type WorkerConfig struct {
	// Peer is the worker end of the transport (required). Run closes it.
	Peer comm.Peer

	// Job processes batches (required).
	Job job.Job

	// MergePolicy is config.MergePolicyExit (default) or
	// config.MergePolicyBatch.
	MergePolicy string

	Logger *slog.Logger
}

// Worker pulls batches until told to exit.
type Worker struct {
	peer   comm.Peer
	job    job.Job
	batch  bool
	logger *slog.Logger
}

// NewWorker validates cfg.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Peer == nil {
		return nil, fmt.Errorf("peer is required")
	}
	if cfg.Job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var batch bool
	switch cfg.MergePolicy {
	case "", config.MergePolicyExit:
	case config.MergePolicyBatch:
		batch = true
	default:
		return nil, holerrors.ValidationError("unknown merge policy "+cfg.MergePolicy, nil)
	}

	return &Worker{
		peer:   cfg.Peer,
		job:    cfg.Job,
		batch:  batch,
		logger: cfg.Logger.With(slog.Int("rank", cfg.Peer.Rank())),
	}, nil
}

// Run loops Ready -> Work -> Result until the coordinator answers Exit, then
// sends its own Exit and returns. The peer is closed on return; returning
// before Exit was sent shows up at the coordinator as a ProcessFailure.
func (w *Worker) Run(ctx context.Context) error {
	defer func() { _ = w.peer.Close() }()

	var total job.Stats
	batches := 0

	for {
		if err := w.peer.Send(ctx, comm.Ready{}); err != nil {
			return fmt.Errorf("send ready: %w", err)
		}

		msg, err := w.peer.Recv(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		switch m := msg.(type) {
		case comm.Work:
			stats := w.job.Process(ctx, m.Item)
			if err := ctx.Err(); err != nil {
				return err
			}
			total.Add(stats)
			batches++

			result := comm.Result{Seq: m.Item.Seq, Stats: stats}
			if w.batch {
				if result.Snapshot, err = w.snapshot(); err != nil {
					return err
				}
			}
			if err := w.peer.Send(ctx, result); err != nil {
				return fmt.Errorf("send result: %w", err)
			}

		case comm.Exit:
			exit := comm.Exit{}
			if !w.batch {
				if exit.Snapshot, err = w.snapshot(); err != nil {
					return err
				}
			}
			if err := w.peer.Send(ctx, exit); err != nil {
				return fmt.Errorf("send exit: %w", err)
			}

			w.logger.Info("worker_done",
				slog.Int("batches", batches),
				slog.Int("records", total.Records),
				slog.Int("skipped", total.Skipped),
				slog.Int("filtered", total.Filtered))
			return nil

		default:
			return holerrors.ProtocolError(fmt.Sprintf("worker %d received %s", w.peer.Rank(), msg.Kind()))
		}
	}
}

// snapshot shrinkwraps the job, returning nil for an empty counter.
func (w *Worker) snapshot() (*counter.Counter, error) {
	snap, err := w.job.Shrinkwrap()
	if err != nil {
		return nil, fmt.Errorf("shrinkwrap: %w", err)
	}
	if snap.IsEmpty() {
		return nil, nil
	}
	return snap, nil
}
