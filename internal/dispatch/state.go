// Package dispatch runs a counting job across workers: a coordinator hands
// out batches on request, folds worker snapshots into one accumulator and
// flushes it exactly once when every worker has exited.
package dispatch

// State is the coordinator's phase.
type State int

const (
	// Dispatching hands a batch to every Ready.
	Dispatching State = iota
	// Draining answers every Ready with Exit once the corpus is exhausted.
	Draining
	// Done means every worker has exited; the accumulator is flushed.
	Done
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Dispatching:
		return "dispatching"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
