package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

func writeLogs(t *testing.T, home string) string {
	t.Helper()
	dir := filepath.Join(home, ".hol", "logs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hol.log"), []byte(
		`{"time":"2026-01-02T00:00:01Z","level":"INFO","msg":"run_started"}`+"\n"+
			`{"time":"2026-01-02T00:00:04Z","level":"ERROR","msg":"run_failed"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker-1.log"), []byte(
		`{"time":"2026-01-02T00:00:02Z","level":"INFO","msg":"worker_started","rank":1}`+"\n"), 0o644))
	return dir
}

func TestLogsCmd_MergesRanks(t *testing.T) {
	home := isolate(t)
	writeLogs(t, home)

	out, err := execute(t, "logs", "--no-color")

	require.NoError(t, err)
	started := strings.Index(out, "[coordinator] run_started")
	worker := strings.Index(out, "[worker-1] worker_started")
	failed := strings.Index(out, "[coordinator] run_failed")
	require.True(t, started >= 0 && worker >= 0 && failed >= 0, out)
	assert.Less(t, started, worker)
	assert.Less(t, worker, failed)
}

func TestLogsCmd_Filters(t *testing.T) {
	home := isolate(t)
	writeLogs(t, home)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"level", []string{"--level", "error"}, []string{"run_failed"}, []string{"run_started", "worker_started"}},
		{"pattern", []string{"--filter", "worker_"}, []string{"worker_started"}, []string{"run_started"}},
		{"rank", []string{"--rank", "1"}, []string{"worker_started"}, []string{"run_failed"}},
		{"coordinator only", []string{"--rank", "0"}, []string{"run_started"}, []string{"worker_started"}},
		{"lines", []string{"-n", "1"}, []string{"run_failed"}, []string{"run_started"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"logs", "--no-color"}, tt.args...)...)

			require.NoError(t, err)
			for _, s := range tt.want {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestLogsCmd_Errors(t *testing.T) {
	isolate(t)

	_, err := execute(t, "logs", "--filter", "(")
	require.Error(t, err)
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeInvalidInput))

	_, err = execute(t, "logs", "--rank", "-2")
	require.Error(t, err)
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeInvalidInput))
}

func TestLogsCmd_FollowStopsOnCancel(t *testing.T) {
	home := isolate(t)
	dir := writeLogs(t, home)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := executeContext(t, ctx, "logs", "-f", "--file", filepath.Join(dir, "hol.log"))
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("logs -f did not stop")
	}
}
