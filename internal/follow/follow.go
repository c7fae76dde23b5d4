package follow

import (
	"context"
	"log/slog"
)

// RunFunc processes one batch of arrived files.
type RunFunc func(ctx context.Context, paths []string) error

// Serve feeds every batch from w to run, one at a time, until ctx is
// cancelled or the watcher stops. The first failed run stops serving and is
// returned; counts already flushed by earlier runs stay in place.
func Serve(ctx context.Context, w *Watcher, run RunFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-w.Errors():
			if ok {
				logger.Warn("follow_watch_error", slog.String("error", err.Error()))
			}

		case paths, ok := <-w.Batches():
			if !ok {
				return nil
			}
			logger.Info("follow_batch", slog.Int("files", len(paths)))
			if err := run(ctx, paths); err != nil {
				return err
			}
		}
	}
}
