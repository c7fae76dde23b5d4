package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmcclure/history-of-literature/internal/config"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
)

func TestWorkerCmd_IsHiddenAndRequiresFlags(t *testing.T) {
	cmd := NewRootCmd()

	workerCmd, _, err := cmd.Find([]string{"worker"})
	require.NoError(t, err)
	assert.True(t, workerCmd.Hidden)

	_, err = execute(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestServeWorker_RejectsBadInput(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "worker.yaml")
	require.NoError(t, config.NewConfig().WriteYAML(path))

	err := serveWorker(context.Background(), false, "/tmp/none.sock", 0, path)
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeInvalidInput))

	err = serveWorker(context.Background(), false, "/tmp/none.sock", 1, filepath.Join(home, "missing.yaml"))
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeConfigInvalid))
}

func TestServeWorker_UnknownJob(t *testing.T) {
	home := isolate(t)
	cfg := config.NewConfig()
	cfg.Job.Name = "nope"
	path := filepath.Join(home, "worker.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	err := serveWorker(context.Background(), false, "/tmp/none.sock", 1, path)

	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeUnknownJob))
}
