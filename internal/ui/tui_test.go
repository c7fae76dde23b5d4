package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	r, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))

	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestRunModel_StageIndicators(t *testing.T) {
	// Given: a model at the start of a run
	model := newRunModel(NewProgressTracker(), "/data/corpus")
	model.styles = NoColorStyles()

	// When: rendering
	view := model.View()

	// Then: every stage and the title are shown
	for _, name := range []string{"Enumerating", "Dispatching", "Draining", "Flushing"} {
		assert.Contains(t, view, name)
	}
	assert.Contains(t, view, "/data/corpus")
}

func TestRunModel_ProgressDisplay(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Update(ProgressEvent{Stage: StageDispatching, Current: 4, Total: 9, Records: 80, Skipped: 2, Workers: 3, Closed: 1})

	model := newRunModel(tracker, "")
	model.styles = NoColorStyles()
	view := model.View()

	assert.Contains(t, view, "4 / 9 batches")
	assert.Contains(t, view, "Records: 80")
	assert.Contains(t, view, "Workers closed: 1/3")
	assert.Contains(t, view, "Skipped: 2")
}

func TestRunModel_StatusBar(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.AddError(ErrorEvent{Err: assert.AnError, IsWarn: true})

	model := newRunModel(tracker, "")
	model.styles = NoColorStyles()

	assert.Contains(t, model.View(), "1 warnings")
}

func TestRunModel_CompleteQuits(t *testing.T) {
	// Given: a running model
	model := newRunModel(NewProgressTracker(), "")
	model.styles = NoColorStyles()

	// When: the completion message arrives
	_, cmd := model.Update(completeMsg(CompletionStats{Job: "anchored_count", Records: 6, Rows: 2, Duration: 2 * time.Second}))

	// Then: the model quits and shows the summary
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := model.View()
	assert.Contains(t, view, "Run Complete")
	assert.Contains(t, view, "anchored_count")
	assert.Contains(t, view, "2s")
}

func TestRunModel_QuitKey(t *testing.T) {
	model := newRunModel(NewProgressTracker(), "")

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", model.View())
}

func TestRunModel_WindowResize(t *testing.T) {
	model := newRunModel(NewProgressTracker(), "")

	model.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 20, model.progressBar.Width)

	model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 100, model.progressBar.Width)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3 * time.Minute, "3m"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{time.Hour + 2*time.Minute, "1h 2m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
