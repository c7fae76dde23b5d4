// Package logging configures structured JSON logging for hol processes.
//
// Each process (coordinator or worker rank) writes to its own rotating file
// under ~/.hol/logs so that concurrent ranks never interleave lines.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the size in MB that triggers rotation.
	MaxSizeMB int
	// MaxFiles is the number of rotated backups to keep.
	MaxFiles int
	// WriteToStderr mirrors every line to stderr.
	WriteToStderr bool
	// Attrs are attached to every record (e.g. rank, job).
	Attrs []slog.Attr
}

// DefaultConfig returns the coordinator logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// WorkerConfig returns defaults for a spawned worker rank.
func WorkerConfig(rank int) Config {
	cfg := DefaultConfig()
	cfg.FilePath = WorkerLogPath(rank)
	cfg.Attrs = []slog.Attr{slog.Int("rank", rank)}
	return cfg
}

// Setup builds a JSON logger and returns it with a cleanup function that
// syncs and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		writers []io.Writer
		rw      *RotatingWriter
	)

	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		rw = w
		writers = append(writers, w)
	}
	if cfg.WriteToStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})

	var h slog.Handler = handler
	if len(cfg.Attrs) > 0 {
		h = handler.WithAttrs(cfg.Attrs)
	}

	cleanup := func() {
		if rw != nil {
			_ = rw.Sync()
			_ = rw.Close()
		}
	}

	return slog.New(h), cleanup, nil
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Used by tests and library
// callers that pass no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
