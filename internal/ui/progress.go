package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds the latest progress of a run. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	last       ProgressEvent
	startTime  time.Time
	stageStart time.Time
	warnings   []ErrorEvent
	errors     []ErrorEvent

	// rate is an exponentially smoothed records/second.
	rate        float64
	rateRecords int
	rateAt      time.Time
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	ProgressEvent
	Progress   float64
	Rate       float64
	ETA        time.Duration
	Elapsed    time.Duration
	WarnCount  int
	ErrorCount int
}

// rateSmoothing weights the newest records/second sample.
const rateSmoothing = 0.3

// NewProgressTracker creates a tracker starting in StageEnumerating.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		last:       ProgressEvent{Stage: StageEnumerating},
		startTime:  now,
		stageStart: now,
		rateAt:     now,
	}
}

// Update records event, resetting stage timing on a stage change.
func (p *ProgressTracker) Update(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if event.Stage != p.last.Stage {
		p.stageStart = now
	}

	if elapsed := now.Sub(p.rateAt); elapsed >= 500*time.Millisecond {
		if delta := event.Records - p.rateRecords; delta >= 0 {
			sample := float64(delta) / elapsed.Seconds()
			if p.rate == 0 {
				p.rate = sample
			} else {
				p.rate = rateSmoothing*sample + (1-rateSmoothing)*p.rate
			}
		}
		p.rateRecords = event.Records
		p.rateAt = now
	}

	p.last = event
}

// AddError records a warning or error.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := ProgressStats{
		ProgressEvent: p.last,
		Rate:          p.rate,
		Elapsed:       time.Since(p.startTime),
		WarnCount:     len(p.warnings),
		ErrorCount:    len(p.errors),
	}

	if p.last.Total > 0 {
		stats.Progress = min(float64(p.last.Current)/float64(p.last.Total), 1.0)
	}
	if stats.Progress > 0 && stats.Progress < 1 {
		spent := time.Since(p.stageStart)
		stats.ETA = time.Duration(float64(spent)/stats.Progress) - spent
	}
	return stats
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ErrorEvent, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}
