package follow

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Operation is a filesystem change relevant to arrivals.
type Operation int

const (
	// OpCreate is a new file under the root, including renames into it.
	OpCreate Operation = iota
	// OpWrite is more data in an existing file.
	OpWrite
	// OpRemove is a deleted or renamed-away file.
	OpRemove
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Event is one filesystem change for an absolute path.
type Event struct {
	Path      string
	Operation Operation
}

// Debouncer turns a stream of events into batches of arrived files. A path
// becomes pending on OpCreate; OpWrite on a pending path only extends the
// quiet period, and OpRemove drops it. Once no event has arrived for the
// window, every pending path is emitted as one sorted batch.
//
// A path is emitted at most once per create: writes to a file after its
// batch went out do not bring it back.
type Debouncer struct {
	window  time.Duration
	logger  *slog.Logger
	mu      sync.Mutex
	pending map[string]struct{}
	output  chan []string
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer emitting after window of quiet.
func NewDebouncer(window time.Duration, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		window:  window,
		logger:  logger,
		pending: make(map[string]struct{}),
		output:  make(chan []string, 16),
	}
}

// Add records an event.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch event.Operation {
	case OpCreate:
		d.pending[event.Path] = struct{}{}
	case OpWrite:
		if _, ok := d.pending[event.Path]; !ok {
			return
		}
	case OpRemove:
		if _, ok := d.pending[event.Path]; !ok {
			return
		}
		delete(d.pending, event.Path)
	}

	d.schedule()
}

func (d *Debouncer) schedule() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]string, 0, len(d.pending))
	for path := range d.pending {
		batch = append(batch, path)
	}
	sort.Strings(batch)

	select {
	case d.output <- batch:
		d.pending = make(map[string]struct{})
	default:
		// The consumer is still busy with an earlier run. Keep the paths and
		// try again after another window.
		d.logger.Warn("follow_batch_deferred", slog.Int("pending", len(batch)))
		d.schedule()
	}
}

// Output returns the channel of batches.
func (d *Debouncer) Output() <-chan []string {
	return d.output
}

// Pending returns the number of paths waiting for the window to close.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop discards pending paths and closes the output. Safe to call multiple
// times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
