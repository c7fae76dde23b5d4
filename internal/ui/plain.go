package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per progress step, for pipes and CI.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	interval time.Duration
	stage    Stage
	started  bool
	lastLine time.Time
}

var _ Renderer = (*PlainRenderer)(nil)

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:      cfg.Output,
		interval: cfg.Interval,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(_ context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Within a stage, counter lines are
// throttled to one per interval; stage changes and messages always print.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	changed := !r.started || event.Stage != r.stage
	if !changed && event.Message == "" && now.Sub(r.lastLine) < r.interval {
		return
	}
	r.started = true
	r.stage = event.Stage
	r.lastLine = now

	switch {
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d batches, %d records, %d skipped, %d/%d workers closed\n",
			event.Stage.Icon(), event.Current, event.Total, event.Records, event.Skipped, event.Closed, event.Workers)
	default:
		_, _ = fmt.Fprintf(r.out, "[%s] %d batches, %d records, %d skipped, %d/%d workers closed\n",
			event.Stage.Icon(), event.Current, event.Records, event.Skipped, event.Closed, event.Workers)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.Path != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Path, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %s flushed %d rows (%d total) from %d records in %s\n",
		stats.Job, stats.Rows, stats.Total, stats.Records, stats.Duration.Round(100*time.Millisecond))
	_, _ = fmt.Fprintf(r.out, "  Batches: %d across %d workers\n", stats.Batches, stats.Workers)
	if stats.Skipped > 0 || stats.Filtered > 0 {
		_, _ = fmt.Fprintf(r.out, "  Skipped: %d unreadable, %d filtered\n", stats.Skipped, stats.Filtered)
	}
	if stats.RunID != "" {
		_, _ = fmt.Fprintf(r.out, "  Run:     %s\n", stats.RunID)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
