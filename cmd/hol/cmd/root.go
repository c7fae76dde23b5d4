// Package cmd provides the CLI commands for hol.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidmcclure/history-of-literature/internal/config"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/logging"
	"github.com/davidmcclure/history-of-literature/internal/profiling"
	"github.com/davidmcclure/history-of-literature/pkg/version"
)

// annotationStandalone marks commands that skip configuration and logging
// setup: version and logs need neither, worker reads its own config file.
const annotationStandalone = "hol/standalone"

// app is the state shared by every command of one invocation.
type app struct {
	// Flags
	debug     bool
	configDir string
	profile   profiling.Options

	// Set up by PersistentPreRunE.
	cfg     *config.Config
	logger  *slog.Logger
	session *profiling.Session
	cleanup func()
}

// NewRootCmd creates the root command for the hol CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "hol",
		Short: "Count tokens across a corpus of digitized volumes",
		Long: `hol counts tokens across a large corpus of digitized volumes.

A run enumerates the corpus, dispatches batches of volumes to workers,
merges their counters and adds the result to a SQLite store. Runs are
additive: counting new volumes adds to what is already stored.

Workers run as goroutines by default, or as child processes with --spawn.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("hol version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Log at debug level and mirror logs to stderr")
	cmd.PersistentFlags().StringVar(&a.configDir, "config-dir", "", "Directory holding .hol.yaml (default: current directory)")

	cmd.PersistentFlags().StringVar(&a.profile.CPUProfile, "cpuprofile", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.MemProfile, "memprofile", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = a.setup
	cmd.PersistentPostRunE = a.teardown

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newWorkerCmd(a))
	cmd.AddCommand(newFollowCmd(a))
	cmd.AddCommand(newQueryCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd, a
}

// setup loads configuration, then starts logging and profiling.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationStandalone] != "" {
		return nil
	}

	dir := a.configDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return holerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Check .hol.yaml and " + config.GetUserConfigPath())
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	if a.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logger = logger
	a.cleanup = cleanup
	slog.SetDefault(logger)

	if a.profile.Enabled() {
		session, err := profiling.Start(a.profile)
		if err != nil {
			return err
		}
		a.session = session
		logger.Debug("profiling_started",
			slog.String("cpu", a.profile.CPUProfile),
			slog.String("mem", a.profile.MemProfile),
			slog.String("trace", a.profile.Trace))
	}

	return nil
}

// teardown stops profiling and closes the log file. It is safe to call
// more than once.
func (a *app) teardown(_ *cobra.Command, _ []string) error {
	var err error
	if a.session != nil {
		err = a.session.Stop()
		a.session = nil
	}
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
	return err
}

// Execute runs the root command and prints any error for the terminal.
func Execute() error {
	cmd, a := newRootCmd()

	err := cmd.Execute()
	// PersistentPostRunE is skipped when a command fails.
	if stopErr := a.teardown(cmd, nil); err == nil {
		err = stopErr
	}
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, holerrors.FormatForCLI(err))
	}
	return err
}
