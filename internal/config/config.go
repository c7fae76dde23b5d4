// Package config loads hol configuration from defaults, YAML files and
// HOL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Merge policies.
const (
	// MergePolicyExit folds one whole-worker snapshot per worker at EXIT.
	MergePolicyExit = "exit"
	// MergePolicyBatch folds a partial snapshot with every RESULT.
	MergePolicyBatch = "batch"
)

// Vocabulary filter stages.
const (
	StageProcess = "process"
	StageFlush   = "flush"
)

// Worker transports.
const (
	// TransportLocal runs workers as goroutines in the coordinator process.
	TransportLocal = "local"
	// TransportSpawn runs workers as child processes over a unix socket.
	TransportSpawn = "spawn"
)

// Config is the complete hol configuration.
type Config struct {
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Job        JobConfig        `yaml:"job" json:"job"`
	Vocabulary VocabularyConfig `yaml:"vocabulary" json:"vocabulary"`
	Run        RunConfig        `yaml:"run" json:"run"`
	Follow     FollowConfig     `yaml:"follow" json:"follow"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// CorpusConfig locates the record tree.
type CorpusConfig struct {
	Root      string `yaml:"root" json:"root"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	// Suffix restricts enumeration to files ending in it. Empty means all files.
	Suffix   string `yaml:"suffix" json:"suffix"`
	Language string `yaml:"language" json:"language"`
}

// StoreConfig locates the SQLite counter store.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// JobConfig selects the counting job.
type JobConfig struct {
	Name   string `yaml:"name" json:"name"`
	Anchor string `yaml:"anchor" json:"anchor"`
}

// VocabularyConfig configures the token allow-list.
type VocabularyConfig struct {
	// Path is a word list ordered by frequency, one token per line.
	// Empty allows every token.
	Path string `yaml:"path" json:"path"`
	// Depth keeps the first Depth words. Zero keeps all of them.
	Depth int `yaml:"depth" json:"depth"`
	// Stage is where the allow-list applies: process or flush.
	Stage string `yaml:"stage" json:"stage"`
}

// RunConfig controls dispatch.
type RunConfig struct {
	Workers       int           `yaml:"workers" json:"workers"`
	MergePolicy   string        `yaml:"merge_policy" json:"merge_policy"`
	Transport     string        `yaml:"transport" json:"transport"`
	Socket        string        `yaml:"socket" json:"socket"`
	MaxFrameBytes int           `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// FollowConfig controls follow mode.
type FollowConfig struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Corpus: CorpusConfig{
			BatchSize: 1000,
			Suffix:    ".bz2",
			Language:  "eng",
		},
		Store: StoreConfig{
			Path: "hol.db",
		},
		Job: JobConfig{
			Name:   "count",
			Anchor: "literature",
		},
		Vocabulary: VocabularyConfig{
			Stage: StageProcess,
		},
		Run: RunConfig{
			Workers:       runtime.NumCPU(),
			MergePolicy:   MergePolicyExit,
			Transport:     TransportLocal,
			MaxFrameBytes: 256 << 20,
		},
		Follow: FollowConfig{
			Debounce: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/hol/config.yaml if XDG_CONFIG_HOME is set
//   - ~/.config/hol/config.yaml otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hol", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hol", "config.yaml")
	}
	return filepath.Join(home, ".config", "hol", "config.yaml")
}

// Load loads configuration for dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/hol/config.yaml)
//  3. Project config (.hol.yaml or .hol.yml in dir)
//  4. Environment variables (HOL_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("load user config: %w", err)
		}
	}

	if err := cfg.loadProjectFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile reads one config file over the defaults, without user, project
// or environment layers. Spawned workers use it to read the coordinator's
// effective configuration.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectFile returns the project config path in dir, preferring .yaml.
// It returns "" when neither file exists.
func ProjectFile(dir string) string {
	for _, name := range []string{".hol.yaml", ".hol.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func (c *Config) loadProjectFile(dir string) error {
	path := ProjectFile(dir)
	if path == "" {
		return nil
	}
	return c.loadYAML(path)
}

// loadYAML parses path and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	setString(&c.Corpus.Root, other.Corpus.Root)
	setInt(&c.Corpus.BatchSize, other.Corpus.BatchSize)
	setString(&c.Corpus.Suffix, other.Corpus.Suffix)
	setString(&c.Corpus.Language, other.Corpus.Language)

	setString(&c.Store.Path, other.Store.Path)

	setString(&c.Job.Name, other.Job.Name)
	setString(&c.Job.Anchor, other.Job.Anchor)

	setString(&c.Vocabulary.Path, other.Vocabulary.Path)
	setInt(&c.Vocabulary.Depth, other.Vocabulary.Depth)
	setString(&c.Vocabulary.Stage, other.Vocabulary.Stage)

	setInt(&c.Run.Workers, other.Run.Workers)
	setString(&c.Run.MergePolicy, other.Run.MergePolicy)
	setString(&c.Run.Transport, other.Run.Transport)
	setString(&c.Run.Socket, other.Run.Socket)
	setInt(&c.Run.MaxFrameBytes, other.Run.MaxFrameBytes)
	if other.Run.Timeout != 0 {
		c.Run.Timeout = other.Run.Timeout
	}

	if other.Follow.Debounce != 0 {
		c.Follow.Debounce = other.Follow.Debounce
	}

	setString(&c.Metrics.Addr, other.Metrics.Addr)

	setString(&c.Logging.Level, other.Logging.Level)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

// applyEnvOverrides applies HOL_* variables. Unparseable numbers are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HOL_CORPUS"); v != "" {
		c.Corpus.Root = v
	}
	if v := os.Getenv("HOL_DATABASE"); v != "" {
		c.Store.Path = v
	}
	if n, ok := envInt("HOL_BATCH_SIZE"); ok {
		c.Corpus.BatchSize = n
	}
	if v := os.Getenv("HOL_LANGUAGE"); v != "" {
		c.Corpus.Language = v
	}
	if v := os.Getenv("HOL_JOB"); v != "" {
		c.Job.Name = v
	}
	if v := os.Getenv("HOL_ANCHOR"); v != "" {
		c.Job.Anchor = v
	}
	if v := os.Getenv("HOL_VOCABULARY"); v != "" {
		c.Vocabulary.Path = v
	}
	if n, ok := envInt("HOL_TOKEN_DEPTH"); ok {
		c.Vocabulary.Depth = n
	}
	if n, ok := envInt("HOL_WORKERS"); ok {
		c.Run.Workers = n
	}
	if v := os.Getenv("HOL_MERGE_POLICY"); v != "" {
		c.Run.MergePolicy = strings.ToLower(v)
	}
	if v := os.Getenv("HOL_TRANSPORT"); v != "" {
		c.Run.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("HOL_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("HOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for values no run could use.
func (c *Config) Validate() error {
	if c.Corpus.BatchSize <= 0 {
		return fmt.Errorf("corpus.batch_size must be positive, got %d", c.Corpus.BatchSize)
	}
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be positive, got %d", c.Run.Workers)
	}
	if c.Run.MaxFrameBytes <= 0 {
		return fmt.Errorf("run.max_frame_bytes must be positive, got %d", c.Run.MaxFrameBytes)
	}
	if c.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout must not be negative, got %s", c.Run.Timeout)
	}
	if c.Vocabulary.Depth < 0 {
		return fmt.Errorf("vocabulary.depth must not be negative, got %d", c.Vocabulary.Depth)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	switch c.Run.MergePolicy {
	case MergePolicyExit, MergePolicyBatch:
	default:
		return fmt.Errorf("run.merge_policy must be 'exit' or 'batch', got %q", c.Run.MergePolicy)
	}

	switch c.Run.Transport {
	case TransportLocal, TransportSpawn:
	default:
		return fmt.Errorf("run.transport must be 'local' or 'spawn', got %q", c.Run.Transport)
	}

	switch c.Vocabulary.Stage {
	case StageProcess, StageFlush:
	default:
		return fmt.Errorf("vocabulary.stage must be 'process' or 'flush', got %q", c.Vocabulary.Stage)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
