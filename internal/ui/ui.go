// Package ui renders run progress: a bubbletea panel on terminals and plain
// log lines everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of a run as shown to the user.
type Stage int

const (
	// StageEnumerating counts the records under the corpus root.
	StageEnumerating Stage = iota
	// StageDispatching hands batches to workers.
	StageDispatching
	// StageDraining waits for the remaining workers to exit.
	StageDraining
	// StageFlushing writes the merged counter to the store.
	StageFlushing
	// StageDone means the run committed.
	StageDone
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageEnumerating:
		return "Enumerating"
	case StageDispatching:
		return "Dispatching"
	case StageDraining:
		return "Draining"
	case StageFlushing:
		return "Flushing"
	case StageDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Icon returns the short tag used by plain output.
func (s Stage) Icon() string {
	switch s {
	case StageEnumerating:
		return "ENUM"
	case StageDispatching:
		return "DISPATCH"
	case StageDraining:
		return "DRAIN"
	case StageFlushing:
		return "FLUSH"
	case StageDone:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update. Current and Total count batches.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Records int
	Skipped int
	Workers int
	Closed  int
	Message string
}

// ErrorEvent is a problem worth showing without aborting.
type ErrorEvent struct {
	Path   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a committed run.
type CompletionStats struct {
	Job      string
	RunID    string
	Workers  int
	Batches  int
	Records  int
	Skipped  int
	Filtered int
	Rows     int
	Total    int64
	Duration time.Duration
}

// Renderer displays run progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError records a warning or error.
	AddError(event ErrorEvent)

	// Complete shows the final summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and restores the terminal.
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the TUI header, usually the corpus root.
	Title string
	// Interval throttles plain progress lines within a stage.
	Interval time.Duration
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the TUI header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// WithInterval sets the plain output throttle.
func WithInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Interval = d
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output:   output,
		Interval: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain text for
// pipes, CI, or when forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
