// Package metrics records run instrumentation. Recorder is implemented by a
// no-op and by a Prometheus collector served on /metrics.
package metrics

import "time"

// Recorder receives run events from the coordinator.
type Recorder interface {
	// RecordStateTransition counts coordinator state changes.
	RecordStateTransition(from, to string)

	// RecordBatchDispatched counts Work messages sent.
	RecordBatchDispatched()

	// RecordBatchCompleted counts Result messages and their record outcomes.
	RecordBatchCompleted(records, skipped, filtered int)

	// RecordMerge observes the time spent folding one snapshot.
	RecordMerge(d time.Duration)

	// RecordWorkerClosed counts workers that sent Exit.
	RecordWorkerClosed()

	// RecordFlush observes one flush and its outcome.
	RecordFlush(table string, rows int, d time.Duration, err error)
}

// Nop discards every event.
type Nop struct{}

var _ Recorder = (*Nop)(nil)

// NewNop returns a Recorder that does nothing.
func NewNop() *Nop {
	return &Nop{}
}

func (*Nop) RecordStateTransition(_, _ string)                     {}
func (*Nop) RecordBatchDispatched()                                {}
func (*Nop) RecordBatchCompleted(_, _, _ int)                      {}
func (*Nop) RecordMerge(_ time.Duration)                           {}
func (*Nop) RecordWorkerClosed()                                   {}
func (*Nop) RecordFlush(_ string, _ int, _ time.Duration, _ error) {}
