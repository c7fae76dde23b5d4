package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/corpus"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
	"github.com/davidmcclure/history-of-literature/internal/metrics"
	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/store"
	"github.com/davidmcclure/history-of-literature/internal/ui"
	"github.com/davidmcclure/history-of-literature/internal/vocab"
)

// RunnerConfig configures one run.
type RunnerConfig struct {
	// Paths, when set, replaces the corpus walk with an explicit list of
	// references. Follow mode uses this for newly arrived files.
	Paths []string

	// Job overrides config.Job.Name.
	Job string
}

// RunnerResult is the outcome of a run.
type RunnerResult struct {
	RunID    string
	Job      string
	Records  int
	Batches  int
	Result   *Result
	Duration time.Duration
}

// RunnerDependencies holds the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Config is the loaded configuration (required).
	Config *config.Config

	// Store receives the flush (required).
	Store *store.Store

	// Command starts worker processes for the spawn transport.
	Command CommandFunc

	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Runner enumerates a corpus and dispatches it to workers with progress
// reporting.
type Runner struct {
	renderer ui.Renderer
	config   *config.Config
	store    *store.Store
	command  CommandFunc
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Config.Run.Transport == config.TransportSpawn && deps.Command == nil {
		return nil, fmt.Errorf("worker command is required for the spawn transport")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Runner{
		renderer: deps.Renderer,
		config:   deps.Config,
		store:    deps.Store,
		command:  deps.Command,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}, nil
}

// Run executes one complete run: enumerate, dispatch, drain and flush.
// Nothing is written unless every worker exits cleanly.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	c := r.config

	if c.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Run.Timeout)
		defer cancel()
	}

	name := cfg.Job
	if name == "" {
		name = c.Job.Name
	}
	// Spawned workers read the job from the configuration file.
	if c.Run.Transport == config.TransportSpawn && name != c.Job.Name {
		return nil, holerrors.ValidationError(
			fmt.Sprintf("job %s differs from configured job %s under the spawn transport", name, c.Job.Name), nil)
	}

	// In-memory stores are private to this process and need no lock.
	if path := r.store.Path(); path != "" {
		lock := store.NewRunLock(path)
		if err := lock.TryLock(); err != nil {
			return nil, err
		}
		defer func() { _ = lock.Unlock() }()
	}

	// Stage 1: enumerate
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEnumerating, Message: "counting records"})

	var src *corpus.Corpus
	if cfg.Paths != nil {
		src = corpus.FromPaths(cfg.Paths)
	} else {
		var err error
		src, err = corpus.New(corpus.Options{Root: c.Corpus.Root, Suffix: c.Corpus.Suffix})
		if err != nil {
			return nil, err
		}
	}

	src, err := src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate corpus: %w", err)
	}
	records := src.Len()
	totalBatches := (records + c.Corpus.BatchSize - 1) / c.Corpus.BatchSize
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageEnumerating,
		Message: fmt.Sprintf("%d records in %d batches", records, totalBatches),
	})

	batches, err := src.Batches(ctx, c.Corpus.BatchSize)
	if err != nil {
		return nil, err
	}
	defer batches.Close()

	vocabulary, err := vocab.Load(c.Vocabulary.Path, c.Vocabulary.Depth)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", runID))
	newJob := r.jobFactory(name, runID, vocabulary, logger)

	coordJob, err := newJob(0)
	if err != nil {
		return nil, err
	}

	logger.Info("run_started",
		slog.String("job", name),
		slog.String("transport", c.Run.Transport),
		slog.Int("workers", c.Run.Workers),
		slog.Int("records", records),
		slog.Int("batches", totalBatches))

	onProgress := func(p Progress) {
		r.renderer.UpdateProgress(progressEvent(p, totalBatches))
	}

	var result *Result
	switch c.Run.Transport {
	case config.TransportSpawn:
		result, err = RunSpawn(ctx, SpawnConfig{
			Workers:       c.Run.Workers,
			Socket:        c.Run.Socket,
			MaxFrameBytes: c.Run.MaxFrameBytes,
			Command:       r.command,
			Job:           coordJob,
			Batches:       batches,
			Metrics:       r.metrics,
			Logger:        logger,
			OnProgress:    onProgress,
		})
	default:
		result, err = RunLocal(ctx, LocalConfig{
			Workers:     c.Run.Workers,
			MergePolicy: c.Run.MergePolicy,
			NewJob: func(rank int) (job.Job, error) {
				if rank == 0 {
					return coordJob, nil
				}
				return newJob(rank)
			},
			Batches:    batches,
			Metrics:    r.metrics,
			Logger:     logger,
			OnProgress: onProgress,
		})
	}
	if err != nil {
		r.renderer.AddError(ui.ErrorEvent{Err: err})
		return nil, err
	}

	duration := time.Since(start)
	r.renderer.Complete(ui.CompletionStats{
		Job:      name,
		RunID:    runID,
		Workers:  result.Workers,
		Batches:  result.Dispatched,
		Records:  result.Stats.Records,
		Skipped:  result.Stats.Skipped,
		Filtered: result.Stats.Filtered,
		Rows:     result.Flush.Rows,
		Total:    result.Flush.Total,
		Duration: duration,
	})

	logger.Info("run_complete",
		slog.String("job", name),
		slog.Int("rows", result.Flush.Rows),
		slog.Int64("total", result.Flush.Total),
		slog.Duration("duration", duration))

	return &RunnerResult{
		RunID:    runID,
		Job:      name,
		Records:  records,
		Batches:  result.Dispatched,
		Result:   result,
		Duration: duration,
	}, nil
}

// jobFactory builds per-rank jobs sharing the run's vocabulary. Only rank 0
// gets the store.
func (r *Runner) jobFactory(name, runID string, vocabulary *vocab.Vocabulary, logger *slog.Logger) JobFactory {
	c := r.config
	return func(rank int) (job.Job, error) {
		opts := job.Options{
			Normalizer: record.NewNormalizer(0),
			Vocabulary: vocabulary,
			VocabStage: c.Vocabulary.Stage,
			Language:   c.Corpus.Language,
			Anchor:     c.Job.Anchor,
			RunID:      runID,
			Logger:     logger.With(slog.Int("rank", rank)),
		}
		if rank == 0 {
			opts.Store = r.store
		}
		return job.New(name, opts)
	}
}

func progressEvent(p Progress, totalBatches int) ui.ProgressEvent {
	stage := ui.StageDispatching
	switch {
	case p.Flushing:
		stage = ui.StageFlushing
	case p.State == Draining:
		stage = ui.StageDraining
	case p.State == Done:
		stage = ui.StageDone
	}

	return ui.ProgressEvent{
		Stage:   stage,
		Current: p.Completed,
		Total:   totalBatches,
		Records: p.Stats.Records,
		Skipped: p.Stats.Skipped,
		Workers: p.Workers,
		Closed:  p.Closed,
	}
}
