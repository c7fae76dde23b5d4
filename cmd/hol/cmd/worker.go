package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/dispatch"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/logging"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		socket     string
		rank       int
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve one worker rank for a spawned run",
		Long: `Serve one worker rank. 'hol run --spawn' starts these; there is no
reason to run one by hand.

The worker connects to the coordinator's socket, processes the batches it
is sent, and hands its counter back before exiting.`,
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationStandalone: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serveWorker(ctx, a.debug, socket, rank, configFile)
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Coordinator socket path")
	cmd.Flags().IntVar(&rank, "rank", 0, "Worker rank (1..N)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Effective configuration written by the coordinator")
	_ = cmd.MarkFlagRequired("socket")
	_ = cmd.MarkFlagRequired("rank")
	_ = cmd.MarkFlagRequired("config-file")

	return cmd
}

func serveWorker(ctx context.Context, debug bool, socket string, rank int, configFile string) error {
	if rank < 1 {
		return holerrors.ValidationError(fmt.Sprintf("worker rank must be at least 1, got %d", rank), nil)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return holerrors.ConfigError("failed to load worker configuration", err)
	}

	logCfg := logging.WorkerConfig(rank)
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	if debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	j, err := dispatch.NewWorkerJob(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("worker_started",
		slog.String("job", j.Name()),
		slog.String("socket", socket),
		slog.String("merge_policy", cfg.Run.MergePolicy))

	err = dispatch.ServeWorker(ctx, dispatch.ServeConfig{
		Socket:        socket,
		Rank:          rank,
		MaxFrameBytes: cfg.Run.MaxFrameBytes,
		Job:           j,
		MergePolicy:   cfg.Run.MergePolicy,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("worker_failed", holerrors.LogAttrs(err)...)
		return err
	}
	return nil
}
