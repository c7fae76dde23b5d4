package job

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/corpus"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/store"
)

// extractor adds the counts of one volume through add. keep reports whether
// a token survives the process-stage vocabulary.
type extractor func(v *record.Volume, keep func(string) bool, add func(counter.Key, int64))

// accumulator implements Job for every registered extractor.
type accumulator struct {
	name    string
	table   store.Table
	extract extractor
	opts    Options
	keep    func(string) bool

	local  *counter.Counter
	global *counter.Counter
}

func newAccumulator(name string, table store.Table, extract extractor, opts Options) *accumulator {
	keep := func(string) bool { return true }
	if opts.VocabStage == config.StageProcess && opts.Vocabulary != nil {
		keep = opts.Vocabulary.Allow
	}

	return &accumulator{
		name:    name,
		table:   table,
		extract: extract,
		opts:    opts,
		keep:    keep,
		local:   counter.New(table.Depth()),
		global:  counter.New(table.Depth()),
	}
}

func (a *accumulator) Name() string       { return a.name }
func (a *accumulator) Table() store.Table { return a.table }

func (a *accumulator) Process(ctx context.Context, item corpus.WorkItem) Stats {
	var stats Stats
	add := func(key counter.Key, n int64) {
		// Keys come from the extractor and always match the depth.
		if err := a.local.Add(key, n); err == nil {
			stats.Tokens += n
		}
	}

	for _, path := range item.Paths {
		if ctx.Err() != nil {
			break
		}

		v, err := a.opts.Loader.Load(path)
		if err != nil {
			stats.Skipped++
			a.opts.Logger.Warn("record_skipped",
				holerrors.LogAttrs(holerrors.RecordError(path, err))...)
			continue
		}
		if !v.HasLanguage(a.opts.Language) {
			stats.Filtered++
			a.opts.Logger.Debug("record_filtered",
				slog.String("path", path),
				slog.String("language", v.Language))
			continue
		}

		a.extract(v, a.keep, add)
		stats.Records++
	}
	return stats
}

func (a *accumulator) Shrinkwrap() (*counter.Counter, error) {
	snapshot := a.local
	a.local = counter.New(a.table.Depth())
	return snapshot, nil
}

func (a *accumulator) Merge(snapshot *counter.Counter) error {
	if snapshot == nil {
		return nil
	}
	if snapshot.Depth() != a.global.Depth() {
		return holerrors.TransitError("snapshot depth does not match job "+a.name, nil).
			WithDetail("depth", strconv.Itoa(snapshot.Depth()))
	}
	return a.global.Merge(snapshot)
}

func (a *accumulator) Flush(ctx context.Context) (store.FlushResult, error) {
	if a.opts.Store == nil {
		return store.FlushResult{}, holerrors.InternalError("job "+a.name+" has no store to flush to", nil)
	}

	opts := store.FlushOptions{RunID: a.opts.RunID, Job: a.name}
	if a.opts.VocabStage == config.StageFlush && a.opts.Vocabulary != nil {
		opts.Filter = a.opts.Vocabulary.Allow
	}

	result, err := a.opts.Store.Flush(ctx, a.table, a.global, opts)
	if err != nil {
		return result, err
	}

	a.opts.Logger.Info("flush_complete",
		slog.String("job", a.name),
		slog.String("table", result.Table),
		slog.String("run_id", result.RunID),
		slog.Int("rows", result.Rows),
		slog.Int("dropped", result.Dropped),
		slog.Int64("total", result.Total))
	return result, nil
}

func (a *accumulator) Result() *counter.Counter {
	return a.global
}

func (a *accumulator) Reset() {
	a.local.Reset()
	a.global.Reset()
}
