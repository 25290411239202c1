// Package metrics tracks upload and query counters for the lifetime of the
// process. Counters start at zero when a Tracker is created and are never
// reset, so values accumulate across sessions and callers.
package metrics

import (
	"sync"
	"time"

	"ragqa/internal/domain"
)

// Sizer reports the current number of indexed chunks.
type Sizer interface {
	Len() int
}

// Tracker accumulates upload and query counters.
type Tracker struct {
	mu           sync.Mutex
	totalUploads int
	totalQueries int
	latencySum   float64
	latencyCount int
	index        Sizer
}

// NewTracker returns a zeroed tracker. index may be nil, in which case
// IndexedChunks is always zero.
func NewTracker(index Sizer) *Tracker {
	return &Tracker{index: index}
}

// RecordUpload counts one processed document.
func (t *Tracker) RecordUpload() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalUploads++
}

// RecordQuery counts one query and accumulates its latency.
func (t *Tracker) RecordQuery(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalQueries++
	t.latencySum += latency.Seconds()
	t.latencyCount++
}

// Snapshot returns the current aggregate. Average latency is zero until a query is recorded.
func (t *Tracker) Snapshot() domain.Metrics {
	t.mu.Lock()
	m := domain.Metrics{
		TotalUploads: t.totalUploads,
		TotalQueries: t.totalQueries,
		LatencySum:   t.latencySum,
		LatencyCount: t.latencyCount,
	}
	t.mu.Unlock()
	if m.LatencyCount > 0 {
		m.AvgLatencySeconds = m.LatencySum / float64(m.LatencyCount)
	}
	if t.index != nil {
		m.IndexedChunks = t.index.Len()
	}
	return m
}
