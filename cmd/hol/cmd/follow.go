package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/dispatch"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/follow"
	"github.com/davidmcclure/history-of-literature/internal/store"
	"github.com/davidmcclure/history-of-literature/internal/ui"
)

func newFollowCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "follow [corpus-root]",
		Short: "Count volumes as they arrive in the corpus",
		Long: `Watch the corpus root and count newly created volumes.

Arrivals are collected until the corpus has been quiet for follow.debounce,
then counted in one run and added to the store. Existing volumes are not
counted; use 'hol run' for those first. Each file must arrive once: a file
rewritten after it was counted is not counted again.

Follow stops at the first failed run. Counts from earlier runs stay in the
store.`,
		Example: `  # Follow the configured corpus
  hol follow

  # Follow an incoming directory with 4 workers
  hol follow /data/incoming --workers 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			if len(args) > 0 {
				cfg.Corpus.Root = args[0]
			}
			cfg.Run.Transport = config.TransportLocal
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			if cfg.Corpus.Root == "" {
				return holerrors.New(holerrors.ErrCodeCorpusMissing, "no corpus root given", nil).
					WithSuggestion("Pass a corpus root or set corpus.root in .hol.yaml")
			}

			return followCorpus(ctx, cmd, a)
		},
	}

	opts.register(cmd)

	return cmd
}

func followCorpus(ctx context.Context, cmd *cobra.Command, a *app) error {
	cfg := a.cfg

	if info, err := os.Stat(cfg.Corpus.Root); err != nil || !info.IsDir() {
		return holerrors.New(holerrors.ErrCodeCorpusMissing, "corpus root is not a directory: "+cfg.Corpus.Root, err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	// One renderer serves every run, so follow always prints plain lines.
	renderer := ui.NewPlainRenderer(ui.NewConfig(cmd.OutOrStdout()))
	_ = renderer.Start(ctx)
	defer func() { _ = renderer.Stop() }()

	runner, err := dispatch.NewRunner(dispatch.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Store:    st,
		Metrics:  a.startMetrics(ctx),
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	watcher, err := follow.NewWatcher(follow.Options{
		Debounce: cfg.Follow.Debounce,
		Suffix:   cfg.Corpus.Suffix,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	run := func(ctx context.Context, paths []string) error {
		_, err := runner.Run(ctx, dispatch.RunnerConfig{Paths: paths})
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Start(gctx, cfg.Corpus.Root)
	})
	g.Go(func() error {
		return follow.Serve(gctx, watcher, run, a.logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		a.logger.Info("follow_stopped", slog.String("root", cfg.Corpus.Root))
		return nil
	}
	return err
}
