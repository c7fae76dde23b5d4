package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	rank    int
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View coordinator and worker logs",
		Long: `View hol logs from ~/.hol/logs.

By default the coordinator log and every worker log are merged by time and
the last 50 entries are shown. Use -f to follow new entries as they are
written, including logs of workers that start later.`,
		Example: `  # Last 50 entries from every rank
  hol logs

  # Follow worker 2 only
  hol logs -f --rank 2

  # Errors mentioning the store
  hol logs --level error --filter store`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationStandalone: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Filter by log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter by keyword/pattern (regex)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().IntVar(&opts.rank, "rank", -1, "Show one rank only: 0 for the coordinator, N for worker N")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to a log file (overrides --rank)")

	return cmd
}

func runLogs(ctx context.Context, out, status io.Writer, opts logsOptions) error {
	paths, err := opts.paths()
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return holerrors.ValidationError("invalid filter pattern", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:      opts.level,
		Pattern:    pattern,
		NoColor:    opts.noColor,
		ShowSource: len(paths) > 1,
	}, out)

	if len(paths) == 1 {
		_, _ = fmt.Fprintf(status, "Log file: %s\n", paths[0])
	} else {
		_, _ = fmt.Fprintf(status, "Log files: %s\n", strings.Join(paths, ", "))
	}

	if !opts.follow {
		_, _ = fmt.Fprintln(status, "---")
		entries, err := viewer.Tail(paths, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	_, _ = fmt.Fprintln(status, "Following... (Ctrl+C to stop)")
	_, _ = fmt.Fprintln(status, "---")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries := make(chan logging.Entry, 100)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, paths, 100*time.Millisecond, entries)
	}()

	for {
		select {
		case e := <-entries:
			_, _ = fmt.Fprintln(out, viewer.Format(e))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			_, _ = fmt.Fprintln(status, "\n---")
			_, _ = fmt.Fprintln(status, "Stopped.")
			return nil
		}
	}
}

// paths resolves the log files to read from the flags.
func (o logsOptions) paths() ([]string, error) {
	switch {
	case o.logFile != "":
		return []string{o.logFile}, nil
	case o.rank == 0:
		return []string{logging.DefaultLogPath()}, nil
	case o.rank > 0:
		return []string{logging.WorkerLogPath(o.rank)}, nil
	case o.rank < -1:
		return nil, holerrors.ValidationError(fmt.Sprintf("invalid rank %d", o.rank), nil)
	}

	paths, err := logging.LogFiles(logging.DefaultLogDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return paths, nil
}
