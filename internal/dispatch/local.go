package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/davidmcclure/history-of-literature/internal/comm"
	"github.com/davidmcclure/history-of-literature/internal/job"
	"github.com/davidmcclure/history-of-literature/internal/metrics"
)

// JobFactory builds the job instance for a rank. Rank 0 is the coordinator.
type JobFactory func(rank int) (job.Job, error)

// LocalConfig configures RunLocal.
type LocalConfig struct {
	Workers     int
	MergePolicy string
	NewJob      JobFactory
	Batches     BatchSource
	Metrics     metrics.Recorder
	Logger      *slog.Logger
	OnProgress  func(Progress)
}

// RunLocal runs the coordinator and cfg.Workers worker goroutines over
// channels. The first failure on any side cancels the rest.
func RunLocal(ctx context.Context, cfg LocalConfig) (*Result, error) {
	if cfg.NewJob == nil {
		return nil, fmt.Errorf("job factory is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.Workers)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	coordJob, err := cfg.NewJob(0)
	if err != nil {
		return nil, err
	}

	hub, peers := comm.NewLocal(cfg.Workers)
	defer func() { _ = hub.Close() }()

	workers := make([]*Worker, len(peers))
	for i, peer := range peers {
		j, err := cfg.NewJob(peer.Rank())
		if err != nil {
			return nil, err
		}
		workers[i], err = NewWorker(WorkerConfig{
			Peer:        peer,
			Job:         j,
			MergePolicy: cfg.MergePolicy,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
	}

	coord, err := NewCoordinator(CoordinatorConfig{
		Hub:        hub,
		Job:        coordJob,
		Batches:    cfg.Batches,
		Metrics:    cfg.Metrics,
		Logger:     logger,
		OnProgress: cfg.OnProgress,
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	var result *Result
	g.Go(func() error {
		var err error
		result, err = coord.Run(gctx)
		return err
	})
	for _, w := range workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
