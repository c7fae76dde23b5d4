// Package job defines the unit of counting work a run executes: how a batch
// of records becomes a counter, how counters merge, and where the merged
// counter is stored.
package job

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/corpus"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/store"
	"github.com/davidmcclure/history-of-literature/internal/vocab"
)

// Job names.
const (
	Count         = "count"
	AnchoredCount = "anchored_count"
	YearCount     = "year_count"
)

// Job is one counting task. Workers call Process and Shrinkwrap; the
// coordinator calls Merge and Flush. A Job is used by one goroutine.
type Job interface {
	// Name is the registered job name.
	Name() string

	// Table is where Flush writes. Its depth is the counter depth.
	Table() store.Table

	// Process adds every usable record in item to the local counter.
	// Unreadable and filtered records are skipped and counted in Stats.
	// Only a cancelled ctx stops the batch early.
	Process(ctx context.Context, item corpus.WorkItem) Stats

	// Shrinkwrap hands over the local counter and starts a fresh one.
	Shrinkwrap() (*counter.Counter, error)

	// Merge folds a worker snapshot into the global counter.
	Merge(snapshot *counter.Counter) error

	// Flush adds the global counter to the store.
	Flush(ctx context.Context) (store.FlushResult, error)

	// Result returns the global counter.
	Result() *counter.Counter

	// Reset clears both counters.
	Reset()
}

// Options configures a Job. Workers need Loader; the coordinator needs Store.
type Options struct {
	Loader     record.Loader
	Normalizer *record.Normalizer

	// Vocabulary restricts tokens. Nil allows every token.
	Vocabulary *vocab.Vocabulary

	// VocabStage picks where Vocabulary applies: config.StageProcess or
	// config.StageFlush. Empty means StageProcess.
	VocabStage string

	// Language keeps only volumes with this tag. Empty keeps all.
	Language string

	// Anchor is the conditioning token for anchored_count.
	Anchor string

	Store  *store.Store
	RunID  string
	Logger *slog.Logger
}

// Stats summarizes one Process call.
type Stats struct {
	Records  int   `json:"records"`
	Skipped  int   `json:"skipped"`
	Filtered int   `json:"filtered"`
	Tokens   int64 `json:"tokens"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Records += other.Records
	s.Skipped += other.Skipped
	s.Filtered += other.Filtered
	s.Tokens += other.Tokens
}

type constructor func(opts Options) (extractor, store.Table, error)

var registry = map[string]constructor{
	Count:         newCount,
	AnchoredCount: newAnchored,
	YearCount:     newYearCount,
}

// Names lists the registered job names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named job.
func New(name string, opts Options) (Job, error) {
	build, ok := registry[name]
	if !ok {
		return nil, holerrors.New(holerrors.ErrCodeUnknownJob, "unknown job "+name, nil).
			WithSuggestion("Use one of: " + strings.Join(Names(), ", "))
	}

	switch opts.VocabStage {
	case "":
		opts.VocabStage = config.StageProcess
	case config.StageProcess, config.StageFlush:
	default:
		return nil, holerrors.ValidationError("unknown vocabulary stage "+opts.VocabStage, nil)
	}
	if opts.Loader == nil {
		opts.Loader = record.FileLoader{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	extract, table, err := build(opts)
	if err != nil {
		return nil, err
	}
	return newAccumulator(name, table, extract, opts), nil
}
