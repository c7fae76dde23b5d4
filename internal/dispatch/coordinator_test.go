package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmcclure/history-of-literature/internal/comm"
	"github.com/davidmcclure/history-of-literature/internal/config"
	"github.com/davidmcclure/history-of-literature/internal/corpus"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
	"github.com/davidmcclure/history-of-literature/internal/logging"
	"github.com/davidmcclure/history-of-literature/internal/record"
	"github.com/davidmcclure/history-of-literature/internal/record/recordtest"
	"github.com/davidmcclure/history-of-literature/internal/store"
)

var testTokens = []string{"the", "a", "novel", "poem", "literature", "Literature"}

// writeCorpus writes n volumes spread over four years. Every third page
// mentions the anchor so anchored jobs have something to count.
func writeCorpus(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()

	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		pages := make([]map[string]int64, 0, 3)
		for p := 0; p < 3; p++ {
			page := map[string]int64{}
			for k, tok := range testTokens[:4] {
				page[tok] = int64((i+p+k)%5 + 1)
			}
			if (i+p)%3 == 0 {
				page[testTokens[4+(i%2)]] = int64(p + 1)
			}
			pages = append(pages, page)
		}
		paths = append(paths, recordtest.Write(t, dir, recordtest.Vol{
			ID:    fmt.Sprintf("vol-%03d", i),
			Year:  1900 + i%4,
			Pages: pages,
		}))
	}
	return paths
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newJob(t *testing.T, name string, s *store.Store) job.Job {
	t.Helper()
	j, err := job.New(name, job.Options{
		Normalizer: record.NewNormalizer(64),
		Anchor:     "literature",
		Store:      s,
		RunID:      "test-run",
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	return j
}

func batcher(t *testing.T, paths []string, size int) *corpus.Batcher {
	t.Helper()
	b, err := corpus.FromPaths(paths).Batches(context.Background(), size)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

// sequential processes every path in one job, without dispatch.
func sequential(t *testing.T, name string, paths []string) *counter.Counter {
	t.Helper()
	j := newJob(t, name, nil)
	j.Process(context.Background(), corpus.WorkItem{Paths: paths})
	c, err := j.Shrinkwrap()
	require.NoError(t, err)
	return c
}

// localRun runs paths through RunLocal and returns the coordinator's job.
func localRun(t *testing.T, name string, paths []string, workers, batchSize int, policy string, s *store.Store) (*Result, job.Job, error) {
	t.Helper()

	var coordJob job.Job
	result, err := RunLocal(context.Background(), LocalConfig{
		Workers:     workers,
		MergePolicy: policy,
		NewJob: func(rank int) (job.Job, error) {
			if rank == 0 {
				coordJob = newJob(t, name, s)
				return coordJob, nil
			}
			return newJob(t, name, nil), nil
		},
		Batches: batcher(t, paths, batchSize),
		Logger:  logging.Discard(),
	})
	return result, coordJob, err
}

func TestRunLocal_MatchesSequentialReference(t *testing.T) {
	paths := writeCorpus(t, 17)

	for _, name := range []string{job.Count, job.AnchoredCount, job.YearCount} {
		want := sequential(t, name, paths)
		require.False(t, want.IsEmpty())

		for workers := 1; workers <= 4; workers++ {
			for _, policy := range []string{config.MergePolicyExit, config.MergePolicyBatch} {
				t.Run(fmt.Sprintf("%s/%d_workers/%s", name, workers, policy), func(t *testing.T) {
					s := openStore(t)

					result, coordJob, err := localRun(t, name, paths, workers, 3, policy, s)
					require.NoError(t, err)

					assert.True(t, want.Equal(coordJob.Result()), "merged counter differs from sequential run")
					assert.Equal(t, 6, result.Dispatched)
					assert.Equal(t, 6, result.Completed)
					assert.Equal(t, 17, result.Stats.Records)
					assert.Equal(t, want.Total(), result.Flush.Total)
					assert.Equal(t, want.Len(), result.Flush.Rows)
				})
			}
		}
	}
}

func TestRunLocal_ScenarioWithUnreadableRecord(t *testing.T) {
	// Given: 3 batches of 2 references, one of which is unreadable
	dir := t.TempDir()
	paths := []string{
		recordtest.Write(t, dir, recordtest.Vol{ID: "a", Year: 1901, Pages: []map[string]int64{{"the": 1}}}),
		recordtest.Write(t, dir, recordtest.Vol{ID: "b", Year: 1901, Pages: []map[string]int64{{"the": 2}}}),
		recordtest.WriteRaw(t, dir, "c.json.gz", []byte("{truncated")),
		recordtest.Write(t, dir, recordtest.Vol{ID: "d", Year: 1902, Pages: []map[string]int64{{"the": 3}}}),
		recordtest.Write(t, dir, recordtest.Vol{ID: "e", Year: 1902, Pages: []map[string]int64{{"novel": 4}}}),
		recordtest.Write(t, dir, recordtest.Vol{ID: "f", Year: 1903, Pages: []map[string]int64{{"the": 5}}}),
	}
	s := openStore(t)

	// When: two workers run the count job
	result, _, err := localRun(t, job.Count, paths, 2, 2, config.MergePolicyExit, s)
	require.NoError(t, err)

	// Then: the bad record is skipped and everything else is stored once
	assert.Equal(t, 3, result.Dispatched)
	assert.Equal(t, 5, result.Stats.Records)
	assert.Equal(t, 1, result.Stats.Skipped)

	ctx := context.Background()
	for _, tc := range []struct {
		token string
		year  int
		want  int64
	}{
		{"the", 1901, 3},
		{"the", 1902, 3},
		{"novel", 1902, 4},
		{"the", 1903, 5},
	} {
		n, err := s.TokenYearCount(ctx, tc.token, tc.year)
		require.NoError(t, err)
		assert.Equal(t, tc.want, n, "%s/%d", tc.token, tc.year)
	}

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunLocal_AnchoredLevels(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		recordtest.Write(t, dir, recordtest.Vol{ID: "a", Year: 1901, Pages: []map[string]int64{
			{"literature": 1, "x": 3},
		}}),
		recordtest.Write(t, dir, recordtest.Vol{ID: "b", Year: 1901, Pages: []map[string]int64{
			{"Literature": 2, "x": 4},
			{"x": 100},
		}}),
	}
	s := openStore(t)

	_, coordJob, err := localRun(t, job.AnchoredCount, paths, 2, 1, config.MergePolicyBatch, s)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"1901": map[string]any{
			"1": map[string]any{"x": int64(3)},
			"2": map[string]any{"x": int64(4)},
		},
	}, coordJob.Result().Nested())

	n, err := s.TokenYearLevelCount(context.Background(), "x", 1901, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestRunLocal_EmptyCorpusFlushesOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("%d_workers", workers), func(t *testing.T) {
			s := openStore(t)

			result, coordJob, err := localRun(t, job.Count, nil, workers, 2, config.MergePolicyExit, s)
			require.NoError(t, err)

			assert.True(t, coordJob.Result().IsEmpty())
			assert.Zero(t, result.Dispatched)
			assert.Zero(t, result.Flush.Rows)

			runs, err := s.Runs(context.Background())
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Zero(t, runs[0].Rows)
		})
	}
}

// failingJob fails its first Shrinkwrap.
type failingJob struct {
	job.Job
}

func (failingJob) Shrinkwrap() (*counter.Counter, error) {
	return nil, errors.New("out of memory")
}

func TestRunLocal_WorkerFailureAbortsWithoutFlush(t *testing.T) {
	paths := writeCorpus(t, 4)
	s := openStore(t)

	_, err := RunLocal(context.Background(), LocalConfig{
		Workers: 2,
		NewJob: func(rank int) (job.Job, error) {
			j := newJob(t, job.Count, s)
			if rank == 2 {
				return failingJob{j}, nil
			}
			return j, nil
		},
		Batches: batcher(t, paths, 1),
		Logger:  logging.Discard(),
	})
	require.Error(t, err)

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunLocal_Validation(t *testing.T) {
	_, err := RunLocal(context.Background(), LocalConfig{Workers: 1})
	assert.Error(t, err)

	_, err = RunLocal(context.Background(), LocalConfig{
		Workers: -1,
		NewJob:  func(int) (job.Job, error) { return nil, nil },
	})
	assert.Error(t, err)

	_, err = RunLocal(context.Background(), LocalConfig{
		Workers:     1,
		MergePolicy: "sometimes",
		NewJob:      func(int) (job.Job, error) { return newJob(t, job.Count, nil), nil },
		Batches:     batcher(t, nil, 1),
	})
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeInvalidInput))
}

func newTestCoordinator(t *testing.T, hub comm.Hub, s *store.Store, batches BatchSource) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorConfig{
		Hub:     hub,
		Job:     newJob(t, job.Count, s),
		Batches: batches,
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestCoordinator_RejectsWorkFromWorker(t *testing.T) {
	hub, peers := comm.NewLocal(1)
	defer func() { _ = hub.Close() }()
	s := openStore(t)
	coord := newTestCoordinator(t, hub, s, batcher(t, nil, 1))

	ctx := context.Background()
	require.NoError(t, peers[0].Send(ctx, comm.Work{Item: corpus.WorkItem{Paths: []string{"x"}}}))

	_, err := coord.Run(ctx)
	require.Error(t, err)
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeProtocol))
	assert.Equal(t, Dispatching, coord.State())

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCoordinator_RejectsMessagesAfterExit(t *testing.T) {
	hub, peers := comm.NewLocal(2)
	defer func() { _ = hub.Close() }()
	coord := newTestCoordinator(t, hub, openStore(t), batcher(t, nil, 1))

	ctx := context.Background()
	require.NoError(t, peers[0].Send(ctx, comm.Exit{}))
	require.NoError(t, peers[0].Send(ctx, comm.Ready{}))

	_, err := coord.Run(ctx)
	require.Error(t, err)
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeProtocol))
}

func TestCoordinator_DisconnectIsProcessFailure(t *testing.T) {
	hub, peers := comm.NewLocal(2)
	defer func() { _ = hub.Close() }()
	s := openStore(t)
	coord := newTestCoordinator(t, hub, s, batcher(t, writeCorpus(t, 2), 1))

	require.NoError(t, peers[1].Close())

	_, err := coord.Run(context.Background())
	require.Error(t, err)
	assert.True(t, holerrors.HasCode(err, holerrors.ErrCodeProcessFailure))

	runs, err := s.Runs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCoordinator_RunHonorsContext(t *testing.T) {
	hub, _ := comm.NewLocal(1)
	defer func() { _ = hub.Close() }()
	coord := newTestCoordinator(t, hub, openStore(t), batcher(t, nil, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := coord.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// recordingMetrics counts coordinator events.
type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	dispatched  int
	completed   int
	closed      int
	flushes     int
}

func (m *recordingMetrics) RecordStateTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func (m *recordingMetrics) RecordBatchDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
}

func (m *recordingMetrics) RecordBatchCompleted(_, _, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *recordingMetrics) RecordMerge(time.Duration) {}

func (m *recordingMetrics) RecordWorkerClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingMetrics) RecordFlush(string, int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func TestCoordinator_ReportsMetricsAndProgress(t *testing.T) {
	paths := writeCorpus(t, 5)
	rec := &recordingMetrics{}

	var progress []Progress
	_, err := RunLocal(context.Background(), LocalConfig{
		Workers: 2,
		NewJob: func(rank int) (job.Job, error) {
			if rank == 0 {
				return newJob(t, job.Count, openStore(t)), nil
			}
			return newJob(t, job.Count, nil), nil
		},
		Batches:    batcher(t, paths, 2),
		Metrics:    rec,
		Logger:     logging.Discard(),
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"dispatching->draining", "draining->done"}, rec.transitions)
	assert.Equal(t, 3, rec.dispatched)
	assert.Equal(t, 3, rec.completed)
	assert.Equal(t, 2, rec.closed)
	assert.Equal(t, 1, rec.flushes)

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, Done, last.State)
	assert.False(t, last.Flushing)
	assert.Equal(t, 2, last.Closed)

	sawFlushing := false
	for _, p := range progress {
		sawFlushing = sawFlushing || p.Flushing
	}
	assert.True(t, sawFlushing)
}
