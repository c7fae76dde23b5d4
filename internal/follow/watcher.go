// Package follow watches a corpus root for newly arriving record files and
// groups them into batches for incremental runs.
package follow

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before arrived files are emitted.
	// Default: 2s
	Debounce time.Duration

	// Suffix keeps only files ending in it. Empty keeps all files.
	Suffix string

	Logger *slog.Logger
}

// Watcher reports record files created under a root, debounced into
// batches. Hidden files and directories are ignored, as the enumerator
// ignores them.
type Watcher struct {
	opts      Options
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	root      string

	stopOnce sync.Once
}

// NewWatcher creates a watcher. Start begins watching.
func NewWatcher(opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		opts:      opts,
		logger:    opts.Logger,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce, opts.Logger),
		errors:    make(chan error, 10),
	}, nil
}

// Start watches root recursively until ctx is cancelled or Stop is called.
// It blocks; run it in its own goroutine.
func (w *Watcher) Start(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve follow root: %w", err)
	}
	w.root = absRoot

	if err := w.addTree(absRoot, false); err != nil {
		return fmt.Errorf("watch %s: %w", absRoot, err)
	}
	w.logger.Info("follow_started", slog.String("root", absRoot))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Batches returns the channel of arrived file batches. It is closed by
// Stop.
func (w *Watcher) Batches() <-chan []string {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop releases the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.fsw.Close()
		w.debouncer.Stop()
	})
	return err
}

func (w *Watcher) handle(event fsnotify.Event) {
	if hidden(w.root, event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files may land before the new directory is watched, so pick up
			// whatever is already inside.
			if err := w.addTree(event.Name, true); err != nil {
				w.emitError(err)
			}
			return
		}
		w.arrive(event.Name, OpCreate)

	case event.Op.Has(fsnotify.Write):
		w.arrive(event.Name, OpWrite)

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.debouncer.Add(Event{Path: event.Name, Operation: OpRemove})
	}
}

func (w *Watcher) arrive(path string, op Operation) {
	if w.opts.Suffix != "" && !strings.HasSuffix(path, w.opts.Suffix) {
		return
	}
	w.logger.Debug("follow_event", slog.String("path", path), slog.String("op", op.String()))
	w.debouncer.Add(Event{Path: path, Operation: op})
}

// addTree watches dir and every visible directory below it. With existing
// set, files already present are reported as arrivals.
func (w *Watcher) addTree(dir string, existing bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if existing {
			w.arrive(path, OpCreate)
		}
		return nil
	})
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("follow_error_dropped", slog.String("error", err.Error()))
	}
}

// hidden reports whether any component of path below root starts with a dot.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
