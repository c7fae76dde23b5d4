package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1000, cfg.Corpus.BatchSize)
	assert.Equal(t, ".bz2", cfg.Corpus.Suffix)
	assert.Equal(t, "eng", cfg.Corpus.Language)
	assert.Equal(t, "hol.db", cfg.Store.Path)
	assert.Equal(t, "count", cfg.Job.Name)
	assert.Equal(t, StageProcess, cfg.Vocabulary.Stage)
	assert.Equal(t, runtime.NumCPU(), cfg.Run.Workers)
	assert.Equal(t, MergePolicyExit, cfg.Run.MergePolicy)
	assert.Equal(t, TransportLocal, cfg.Run.Transport)
	assert.Equal(t, 2*time.Second, cfg.Follow.Debounce)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_ProjectFileOverridesUserFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	writeFile(t, GetUserConfigPath(), `
store:
  path: /data/user.db
run:
  workers: 3
`)
	writeFile(t, filepath.Join(dir, ".hol.yaml"), `
corpus:
  root: /corpus
  batch_size: 50
run:
  workers: 8
  merge_policy: batch
  timeout: 90s
vocabulary:
  path: words.txt
  depth: 1000
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/data/user.db", cfg.Store.Path)
	assert.Equal(t, "/corpus", cfg.Corpus.Root)
	assert.Equal(t, 50, cfg.Corpus.BatchSize)
	assert.Equal(t, 8, cfg.Run.Workers)
	assert.Equal(t, MergePolicyBatch, cfg.Run.MergePolicy)
	assert.Equal(t, 90*time.Second, cfg.Run.Timeout)
	assert.Equal(t, 1000, cfg.Vocabulary.Depth)
	assert.Equal(t, "eng", cfg.Corpus.Language)
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".hol.yml"), "job:\n  name: anchored_count\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anchored_count", cfg.Job.Name)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".hol.yaml"), "corpus:\n  batch_size: 50\n")

	t.Setenv("HOL_CORPUS", "/env/corpus")
	t.Setenv("HOL_DATABASE", "/env/hol.db")
	t.Setenv("HOL_BATCH_SIZE", "7")
	t.Setenv("HOL_TOKEN_DEPTH", "200")
	t.Setenv("HOL_MERGE_POLICY", "BATCH")
	t.Setenv("HOL_WORKERS", "not-a-number")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/env/corpus", cfg.Corpus.Root)
	assert.Equal(t, "/env/hol.db", cfg.Store.Path)
	assert.Equal(t, 7, cfg.Corpus.BatchSize)
	assert.Equal(t, 200, cfg.Vocabulary.Depth)
	assert.Equal(t, MergePolicyBatch, cfg.Run.MergePolicy)
	assert.Equal(t, runtime.NumCPU(), cfg.Run.Workers)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".hol.yaml"), "corpus: [unclosed")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero batch size", func(c *Config) { c.Corpus.BatchSize = 0 }, "batch_size"},
		{"zero workers", func(c *Config) { c.Run.Workers = 0 }, "workers"},
		{"bad merge policy", func(c *Config) { c.Run.MergePolicy = "sometimes" }, "merge_policy"},
		{"bad transport", func(c *Config) { c.Run.Transport = "mpi" }, "transport"},
		{"bad stage", func(c *Config) { c.Vocabulary.Stage = "both" }, "vocabulary.stage"},
		{"negative depth", func(c *Config) { c.Vocabulary.Depth = -1 }, "depth"},
		{"negative timeout", func(c *Config) { c.Run.Timeout = -time.Second }, "timeout"},
		{"empty store", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"zero frame", func(c *Config) { c.Run.MaxFrameBytes = 0 }, "max_frame_bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg := NewConfig()
	cfg.Corpus.Root = "/corpus"
	cfg.Run.Timeout = time.Minute
	cfg.Job.Name = "year_count"
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".hol.yaml")))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestProjectFile(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", ProjectFile(dir))

	writeFile(t, filepath.Join(dir, ".hol.yml"), "{}")
	assert.Equal(t, filepath.Join(dir, ".hol.yml"), ProjectFile(dir))

	writeFile(t, filepath.Join(dir, ".hol.yaml"), "{}")
	assert.Equal(t, filepath.Join(dir, ".hol.yaml"), ProjectFile(dir))
}

func TestLoadFile_IgnoresEnvironment(t *testing.T) {
	t.Setenv("HOL_JOB", "year_count")

	cfg := NewConfig()
	cfg.Job.Name = "anchored_count"
	cfg.Run.Workers = 3
	path := filepath.Join(t.TempDir(), "effective.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "anchored_count", loaded.Job.Name)
	assert.Equal(t, 3, loaded.Run.Workers)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
