package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmcclure/history-of-literature/internal/config"
)

func TestConfigCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	configCmd, _, err := cmd.Find([]string{"config"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sc := range configCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["init"], "should have init command")
	assert.True(t, names["show"], "should have show command")
	assert.True(t, names["path"], "should have path command")
}

func TestConfigShow_MergesProjectFile(t *testing.T) {
	isolate(t)
	dir := project(t)

	out, err := execute(t, "config", "show", "--config-dir", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "batch_size: 2")
	assert.Contains(t, out, "suffix: .gz")
	assert.Contains(t, out, "merge_policy: exit")
}

func TestConfigShow_JSONAppliesEnv(t *testing.T) {
	isolate(t)
	dir := project(t)
	t.Setenv("HOL_WORKERS", "7")

	out, err := execute(t, "config", "show", "--json", "--config-dir", dir)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 7, cfg.Run.Workers)
	assert.Equal(t, 2, cfg.Corpus.BatchSize)
}

func TestConfigPath_OutputsUserPath(t *testing.T) {
	home := isolate(t)

	out, err := execute(t, "config", "path")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "hol", "config.yaml")+"\n", out)
}

func TestConfigInit_CreatesUserConfig(t *testing.T) {
	// Given: no user config
	home := isolate(t)
	path := filepath.Join(home, ".config", "hol", "config.yaml")

	// When: running config init
	out, err := execute(t, "config", "init")

	// Then: a loadable config with the defaults is written
	require.NoError(t, err)
	assert.Contains(t, out, "Created configuration")
	loaded, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Corpus.BatchSize, loaded.Corpus.BatchSize)

	// And: a second init leaves it alone
	require.NoError(t, os.WriteFile(path, []byte("corpus:\n  batch_size: 5\n"), 0o644))
	out, err = execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch_size: 5")

	// And: --force overwrites it
	_, err = execute(t, "config", "init", "--force")
	require.NoError(t, err)
	loaded, err = config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, loaded.Corpus.BatchSize)
}

func TestConfigInit_Project(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := execute(t, "config", "init", "--project")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".hol.yaml"), config.ProjectFile(dir))
	loaded, err := config.LoadFile(config.ProjectFile(dir))
	require.NoError(t, err)
	assert.Equal(t, "./corpus", loaded.Corpus.Root)
	assert.Equal(t, "hol.db", loaded.Store.Path)
	assert.Equal(t, config.NewConfig().Run, loaded.Run, "commented sections keep the defaults")
}
