package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/davidmcclure/history-of-literature/internal/comm"
	"github.com/davidmcclure/history-of-literature/internal/config"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
	"github.com/davidmcclure/history-of-literature/internal/metrics"
	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/vocab"
)

// CommandFunc builds the child process for a worker rank. The command must
// connect to socket as rank and speak the worker protocol.
type CommandFunc func(ctx context.Context, rank int, socket string) *exec.Cmd

// SpawnConfig configures RunSpawn.
type SpawnConfig struct {
	Workers int

	// Socket is the unix socket path. Empty uses DefaultSocketPath.
	Socket        string
	MaxFrameBytes int

	// Command starts one worker process (required).
	Command CommandFunc

	// Job is the coordinator's job (required).
	Job        job.Job
	Batches    BatchSource
	Metrics    metrics.Recorder
	Logger     *slog.Logger
	OnProgress func(Progress)
}

// DefaultSocketPath returns a per-process socket path in the temp dir.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("hol-%d.sock", os.Getpid()))
}

// RunSpawn runs the coordinator in this process and cfg.Workers child
// processes connected over a unix socket. A child that fails to start,
// exits non-zero, or exits without connecting aborts the run.
func RunSpawn(ctx context.Context, cfg SpawnConfig) (*Result, error) {
	if cfg.Command == nil {
		return nil, fmt.Errorf("worker command is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.Workers)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	socket := cfg.Socket
	if socket == "" {
		socket = DefaultSocketPath()
	}

	hub, err := comm.Listen(socket, cfg.Workers, cfg.MaxFrameBytes, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = hub.Close() }()

	coord, err := NewCoordinator(CoordinatorConfig{
		Hub:        hub,
		Job:        cfg.Job,
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
		if err := hub.Accept(gctx); err != nil {
			return err
		}
		var err error
		result, err = coord.Run(gctx)
		return err
	})

	for rank := 1; rank <= cfg.Workers; rank++ {
		g.Go(func() error {
			return runChild(gctx, cfg.Command(gctx, rank, socket), rank, hub, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func runChild(ctx context.Context, cmd *exec.Cmd, rank int, hub *comm.SocketHub, logger *slog.Logger) error {
	if err := cmd.Start(); err != nil {
		return holerrors.ProcessFailure(rank, fmt.Errorf("start worker: %w", err))
	}
	logger.Debug("worker_spawned", slog.Int("rank", rank), slog.Int("pid", cmd.Process.Pid))

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return holerrors.ProcessFailure(rank, fmt.Errorf("worker exited: %w", err))
	}
	if !hub.Connected(rank) {
		return holerrors.ProcessFailure(rank, fmt.Errorf("worker exited before connecting"))
	}
	return nil
}

// ServeConfig configures ServeWorker, the child side of RunSpawn.
type ServeConfig struct {
	Socket        string
	Rank          int
	MaxFrameBytes int
	Job           job.Job
	MergePolicy   string
	Logger        *slog.Logger
}

// ServeWorker dials the coordinator and runs a Worker until it is told to
// exit.
func ServeWorker(ctx context.Context, cfg ServeConfig) error {
	peer, err := comm.Dial(ctx, cfg.Socket, cfg.Rank, cfg.MaxFrameBytes)
	if err != nil {
		return err
	}

	w, err := NewWorker(WorkerConfig{
		Peer:        peer,
		Job:         cfg.Job,
		MergePolicy: cfg.MergePolicy,
		Logger:      cfg.Logger,
	})
	if err != nil {
		_ = peer.Close()
		return err
	}
	return w.Run(ctx)
}

// NewWorkerJob builds the job a spawned worker runs, from the coordinator's
// effective configuration. Worker jobs never flush, so no store is
// attached. logger should already carry the rank.
func NewWorkerJob(cfg *config.Config, logger *slog.Logger) (job.Job, error) {
	vocabulary, err := vocab.Load(cfg.Vocabulary.Path, cfg.Vocabulary.Depth)
	if err != nil {
		return nil, err
	}
	return job.New(cfg.Job.Name, job.Options{
		Normalizer: record.NewNormalizer(0),
		Vocabulary: vocabulary,
		VocabStage: cfg.Vocabulary.Stage,
		Language:   cfg.Corpus.Language,
		Anchor:     cfg.Job.Anchor,
		Logger:     logger,
	})
}
