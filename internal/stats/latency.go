// Package stats collects processing latency statistics and flags advisory
// anomalies when the recent trend drifts from the preceding baseline.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"
)

// WindowSize is the bounded number of latency samples retained.
const WindowSize = 1000

// Snapshot summarizes the current latency window.
type Snapshot struct {
	Count  int           `json:"count"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	StdDev time.Duration `json:"std_dev"`
}

// LatencyWindow is a bounded ring of latency samples. When full, new samples
// evict the oldest.
type LatencyWindow struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
	total   uint64
}

// NewLatencyWindow creates a window of the default size.
func NewLatencyWindow() *LatencyWindow {
	return &LatencyWindow{
		samples: make([]time.Duration, WindowSize),
	}
}

// Record adds a sample.
func (w *LatencyWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.total++
}

// ordered returns the retained samples in insertion order.
func (w *LatencyWindow) ordered() []time.Duration {
	if w.full {
		out := make([]time.Duration, 0, len(w.samples))
		out = append(out, w.samples[w.next:]...)
		out = append(out, w.samples[:w.next]...)
		return out
	}
	out := make([]time.Duration, w.next)
	copy(out, w.samples[:w.next])
	return out
}

// Total returns the count of all samples ever recorded.
func (w *LatencyWindow) Total() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.total
}

// Snapshot computes summary statistics over the retained samples.
func (w *LatencyWindow) Snapshot() Snapshot {
	w.mu.RLock()
	samples := w.ordered()
	w.mu.RUnlock()

	n := len(samples)
	if n == 0 {
		return Snapshot{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}
	mean := sum / time.Duration(n)

	var variance float64
	for _, s := range sorted {
		d := float64(s - mean)
		variance += d * d
	}
	variance /= float64(n)

	return Snapshot{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean,
		Median: percentile(sorted, 0.5),
		P95:    percentile(sorted, 0.95),
		P99:    percentile(sorted, 0.99),
		StdDev: time.Duration(math.Sqrt(variance)),
	}
}

// RecentMeans returns the mean of the last n samples and the mean of the n
// samples preceding them. ok is false when fewer than 2n samples are
// retained.
func (w *LatencyWindow) RecentMeans(n int) (recent, preceding time.Duration, ok bool) {
	w.mu.RLock()
	samples := w.ordered()
	w.mu.RUnlock()

	if len(samples) < 2*n {
		return 0, 0, false
	}

	tail := samples[len(samples)-n:]
	head := samples[len(samples)-2*n : len(samples)-n]
	return meanOf(tail), meanOf(head), true
}

func meanOf(samples []time.Duration) time.Duration {
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

// percentile picks sorted[floor(n*pct)], clamped to the last element.
func percentile(sorted []time.Duration, pct float64) time.Duration {
	idx := int(float64(len(sorted)) * pct)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
