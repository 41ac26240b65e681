package utils

import (
	"math"
	"slices"
	"sync"
	"time"
)

// DefaultLatencyWindow is the number of samples a LatencyWindow keeps.
const DefaultLatencyWindow = 64

// LatencyWindow keeps the most recent durations in a ring and answers percentiles over them.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	last    time.Duration
}

// NewLatencyWindow creates a window of size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = DefaultLatencyWindow
	}
	return &LatencyWindow{samples: make([]time.Duration, size)}
}

// Observe records d, overwriting the oldest sample once the window is full. Negative
// durations, which a clock set backwards can produce, count as zero.
func (w *LatencyWindow) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.last = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Count returns the number of samples held.
func (w *LatencyWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count()
}

// Last returns the most recent sample.
func (w *LatencyWindow) Last() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Percentile returns the nearest-rank percentile (0-100), or zero without samples.
func (w *LatencyWindow) Percentile(p float64) time.Duration {
	return w.Percentiles(p)[0]
}

// Percentiles returns several percentiles from one sorted copy of the window.
func (w *LatencyWindow) Percentiles(ps ...float64) []time.Duration {
	w.mu.Lock()
	sorted := slices.Clone(w.samples[:w.count()])
	w.mu.Unlock()
	slices.Sort(sorted)

	out := make([]time.Duration, len(ps))
	for i, p := range ps {
		out[i] = rank(sorted, p)
	}
	return out
}

func (w *LatencyWindow) count() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

func rank(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	index := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(index, len(sorted)-1))]
}
