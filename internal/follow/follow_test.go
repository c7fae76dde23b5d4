package follow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmcclure/history-of-literature/internal/logging"
)

func receive(t *testing.T, ch <-chan []string, timeout time.Duration) []string {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func assertNoBatch(t *testing.T, ch <-chan []string, wait time.Duration) {
	t.Helper()
	select {
	case batch := <-ch:
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(wait):
	}
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "WRITE", OpWrite.String())
	assert.Equal(t, "REMOVE", OpRemove.String())
	assert.Equal(t, "UNKNOWN", Operation(9).String())
}

func TestDebouncer_CoalescesIntoSortedBatch(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, logging.Discard())
	defer d.Stop()

	// When: several files arrive and one is written repeatedly
	d.Add(Event{Path: "/c/b.json.bz2", Operation: OpCreate})
	d.Add(Event{Path: "/c/a.json.bz2", Operation: OpCreate})
	for i := 0; i < 3; i++ {
		d.Add(Event{Path: "/c/a.json.bz2", Operation: OpWrite})
	}

	// Then: one sorted batch comes out with each path once
	batch := receive(t, d.Output(), time.Second)
	assert.Equal(t, []string{"/c/a.json.bz2", "/c/b.json.bz2"}, batch)
	assert.Zero(t, d.Pending())
}

func TestDebouncer_WriteWithoutCreateIsIgnored(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, logging.Discard())
	defer d.Stop()

	d.Add(Event{Path: "/c/old.json.bz2", Operation: OpWrite})

	assertNoBatch(t, d.Output(), 150*time.Millisecond)
}

func TestDebouncer_CreateThenRemoveCancels(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, logging.Discard())
	defer d.Stop()

	d.Add(Event{Path: "/c/tmp.json.bz2", Operation: OpCreate})
	d.Add(Event{Path: "/c/tmp.json.bz2", Operation: OpRemove})

	assertNoBatch(t, d.Output(), 150*time.Millisecond)
}

func TestDebouncer_EmittedPathDoesNotReturnOnWrite(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, logging.Discard())
	defer d.Stop()

	d.Add(Event{Path: "/c/a.json.bz2", Operation: OpCreate})
	receive(t, d.Output(), time.Second)

	d.Add(Event{Path: "/c/a.json.bz2", Operation: OpWrite})
	assertNoBatch(t, d.Output(), 150*time.Millisecond)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour, logging.Discard())
	d.Add(Event{Path: "/c/a.json.bz2", Operation: OpCreate})

	d.Stop()
	d.Stop()
	d.Add(Event{Path: "/c/b.json.bz2", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := NewWatcher(Options{Debounce: 100 * time.Millisecond, Suffix: ".bz2", Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Stop()
	})

	// Give the watcher time to register the tree.
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestWatcher_ReportsArrivals(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	// Given: a matching file, a non-matching file and a hidden file
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json.bz2"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".partial.bz2"), []byte("x"), 0o644))

	// Then: only the matching file arrives
	batch := receive(t, w.Batches(), 2*time.Second)
	assert.Equal(t, []string{filepath.Join(root, "a.json.bz2")}, batch)
}

func TestWatcher_NewDirectoryContents(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	// Given: a directory created with a file already inside
	staging := filepath.Join(t.TempDir(), "1901")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "v.json.bz2"), []byte("x"), 0o644))

	// When: it is moved under the root
	require.NoError(t, os.Rename(staging, filepath.Join(root, "1901")))

	// Then: the file inside arrives
	batch := receive(t, w.Batches(), 2*time.Second)
	assert.Equal(t, []string{filepath.Join(root, "1901", "v.json.bz2")}, batch)
}

func TestHidden(t *testing.T) {
	assert.True(t, hidden("/c", "/c/.git/x"))
	assert.True(t, hidden("/c", "/c/a/.tmp"))
	assert.False(t, hidden("/c", "/c/a/b.json.bz2"))
}

func TestServe_RunsBatchesUntilFailure(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	var runs [][]string
	run := func(_ context.Context, paths []string) error {
		runs = append(runs, paths)
		if len(runs) == 2 {
			return errors.New("store write failed")
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), w, run, logging.Discard()) }()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json.bz2"), []byte("x"), 0o644))
	time.Sleep(400 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.json.bz2"), []byte("x"), 0o644))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, [][]string{
			{filepath.Join(root, "a.json.bz2")},
			{filepath.Join(root, "b.json.bz2")},
		}, runs)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	w := startWatcher(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Serve(ctx, w, func(context.Context, []string) error { return nil }, logging.Discard())
	assert.ErrorIs(t, err, context.Canceled)
}
