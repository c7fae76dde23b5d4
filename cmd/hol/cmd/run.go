package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/dispatch"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
	"github.com/davidmcclure/history-of-literature/internal/metrics"
	"github.com/davidmcclure/history-of-literature/internal/store"
	"github.com/davidmcclure/history-of-literature/internal/ui"
)

// runOptions are the flags shared by run and follow. They override the
// loaded configuration only when set.
type runOptions struct {
	workers     int
	job         string
	mergePolicy string
	batchSize   int
	database    string
	timeout     time.Duration
	plain       bool
}

func (o *runOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.workers, "workers", "w", 0, "Number of workers (default: number of CPUs)")
	cmd.Flags().StringVar(&o.job, "job", "", fmt.Sprintf("Counting job: %v", job.Names()))
	cmd.Flags().StringVar(&o.mergePolicy, "merge-policy", "", "When workers hand over counters: exit or batch")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", 0, "Volumes per dispatched batch")
	cmd.Flags().StringVar(&o.database, "db", "", "SQLite store path")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "Abort the run after this long (0 disables)")
	cmd.Flags().BoolVar(&o.plain, "plain", false, "Disable the TUI, use plain text output")
	cmd.Flags().BoolVar(&o.plain, "no-tui", false, "Alias for --plain")
	_ = cmd.Flags().MarkHidden("no-tui")
}

// apply copies changed flags into cfg and revalidates it.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Run.Workers = o.workers
	}
	if flags.Changed("job") {
		cfg.Job.Name = o.job
	}
	if flags.Changed("merge-policy") {
		cfg.Run.MergePolicy = o.mergePolicy
	}
	if flags.Changed("batch-size") {
		cfg.Corpus.BatchSize = o.batchSize
	}
	if flags.Changed("db") {
		cfg.Store.Path = o.database
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout = o.timeout
	}

	if err := cfg.Validate(); err != nil {
		return holerrors.ConfigError("invalid run options", err)
	}
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	var (
		opts  runOptions
		spawn bool
	)

	cmd := &cobra.Command{
		Use:   "run [corpus-root]",
		Short: "Count a corpus into the store",
		Long: `Count every volume under the corpus root and add the result to the store.

The corpus root defaults to corpus.root from the configuration. Volumes are
dispatched in batches to workers; each worker keeps its own counter, and the
counters are merged and written to the store exactly once, at the end of the
run. A failed run writes nothing.

Jobs:
  count           token counts per year
  anchored_count  token counts per year, by the anchor token's count on the page
  year_count      total token counts per year`,
		Example: `  # Count the configured corpus with one worker per CPU
  hol run

  # Count a corpus with 8 child processes
  hol run /data/corpus --spawn --workers 8

  # Anchored counts, merging after every batch
  hol run --job anchored_count --merge-policy batch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			if len(args) > 0 {
				cfg.Corpus.Root = args[0]
			}
			if spawn {
				cfg.Run.Transport = config.TransportSpawn
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			if cfg.Corpus.Root == "" {
				return holerrors.New(holerrors.ErrCodeCorpusMissing, "no corpus root given", nil).
					WithSuggestion("Pass a corpus root or set corpus.root in .hol.yaml")
			}

			return runCorpus(ctx, cmd, a, opts.plain)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&spawn, "spawn", false, "Run workers as child processes")

	return cmd
}

func runCorpus(ctx context.Context, cmd *cobra.Command, a *app, plain bool) error {
	cfg := a.cfg

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithTitle(cfg.Corpus.Root),
	))
	if err := renderer.Start(ctx); err != nil {
		a.logger.Warn("renderer_start_failed", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	deps := dispatch.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Store:    st,
		Metrics:  a.startMetrics(ctx),
		Logger:   a.logger,
	}
	if cfg.Run.Transport == config.TransportSpawn {
		command, cleanup, err := a.workerCommand()
		if err != nil {
			return err
		}
		defer cleanup()
		deps.Command = command
	}

	runner, err := dispatch.NewRunner(deps)
	if err != nil {
		return err
	}

	_, err = runner.Run(ctx, dispatch.RunnerConfig{})
	return err
}

// startMetrics serves /metrics for the life of ctx when metrics.addr is set.
func (a *app) startMetrics(ctx context.Context) metrics.Recorder {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return metrics.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := metrics.NewServer(addr, reg, a.logger)
	go func() {
		if err := server.Serve(ctx); err != nil {
			a.logger.Warn("metrics_server_failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()

	return metrics.NewCollector(reg, "")
}

// workerCommand re-executes this binary as "hol worker" for each rank. The
// effective configuration is handed to workers in a temporary file, which
// cleanup removes.
func (a *app) workerCommand() (dispatch.CommandFunc, func(), error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to locate hol executable: %w", err)
	}

	f, err := os.CreateTemp("", "hol-worker-*.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create worker config: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	cleanup := func() { _ = os.Remove(path) }

	if err := a.cfg.WriteYAML(path); err != nil {
		cleanup()
		return nil, nil, err
	}

	debug := a.debug
	command := func(ctx context.Context, rank int, socket string) *exec.Cmd {
		args := []string{
			"worker",
			"--socket", socket,
			"--rank", strconv.Itoa(rank),
			"--config-file", path,
		}
		if debug {
			args = append(args, "--debug")
		}
		c := exec.CommandContext(ctx, exe, args...)
		c.Stderr = os.Stderr
		return c
	}

	return command, cleanup, nil
}
