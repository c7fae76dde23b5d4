package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating progress
	r.UpdateProgress(ProgressEvent{
		Stage:   StageDispatching,
		Current: 3,
		Total:   10,
		Records: 120,
		Skipped: 1,
		Workers: 4,
	})

	// Then: output is correctly formatted
	out := buf.String()
	assert.Contains(t, out, "[DISPATCH]")
	assert.Contains(t, out, "3/10 batches")
	assert.Contains(t, out, "120 records")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "0/4 workers closed")
}

func TestPlainRenderer_UnknownTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageDispatching, Current: 7})

	assert.Contains(t, buf.String(), "[DISPATCH] 7 batches")
}

func TestPlainRenderer_Message(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageFlushing, Message: "writing count"})

	assert.Equal(t, "[FLUSH] writing count\n", buf.String())
}

func TestPlainRenderer_ThrottlesWithinStage(t *testing.T) {
	// Given: a renderer with a long interval
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf, WithInterval(time.Hour)))

	// When: many updates arrive in one stage, then the stage changes
	for i := 1; i <= 5; i++ {
		r.UpdateProgress(ProgressEvent{Stage: StageDispatching, Current: i, Total: 5})
	}
	r.UpdateProgress(ProgressEvent{Stage: StageDraining, Current: 5, Total: 5})

	// Then: only the first line of each stage is printed
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[DISPATCH] 1/5")
	assert.Contains(t, lines[1], "[DRAIN] 5/5")
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	for _, stage := range []Stage{StageEnumerating, StageDispatching, StageDraining, StageFlushing, StageDone} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 1, Total: 2})
	}
	r.Complete(CompletionStats{Job: "count"})

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_AddError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{Path: "vol/1.json.bz2", Err: errors.New("unexpected EOF"), IsWarn: true})
	r.AddError(ErrorEvent{Err: errors.New("store locked")})

	out := buf.String()
	assert.Contains(t, out, "WARN: vol/1.json.bz2: unexpected EOF")
	assert.Contains(t, out, "ERROR: store locked")
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing a run with skips
	r.Complete(CompletionStats{
		Job:      "count",
		RunID:    "run-1",
		Workers:  2,
		Batches:  3,
		Records:  6,
		Skipped:  1,
		Rows:     14,
		Total:    40,
		Duration: 1500 * time.Millisecond,
	})

	// Then: the summary covers the run
	out := buf.String()
	assert.Contains(t, out, "count flushed 14 rows (40 total) from 6 records in 1.5s")
	assert.Contains(t, out, "Batches: 3 across 2 workers")
	assert.Contains(t, out, "Skipped: 1 unreadable, 0 filtered")
	assert.Contains(t, out, "Run:     run-1")
}

func TestPlainRenderer_StartStop(t *testing.T) {
	r := NewPlainRenderer(NewConfig(&bytes.Buffer{}))

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}
