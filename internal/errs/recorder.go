package errs

import (
	"sync"
)

// Recorder keeps a bounded ring of recent processing errors plus a running
// total, exposed through the diagnostics surface.
type Recorder struct {
	mu     sync.RWMutex
	recent []*ProcessingError
	next   int
	full   bool
	total  uint64
}

// NewRecorder creates a Recorder retaining up to capacity recent errors.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 100
	}
	return &Recorder{
		recent: make([]*ProcessingError, capacity),
	}
}

// Record stores a processing error, evicting the oldest when full.
func (r *Recorder) Record(pe *ProcessingError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recent[r.next] = pe
	r.next = (r.next + 1) % len(r.recent)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Recent returns recorded errors, oldest first.
func (r *Recorder) Recent() []*ProcessingError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ProcessingError
	if r.full {
		out = append(out, r.recent[r.next:]...)
	}
	out = append(out, r.recent[:r.next]...)
	return out
}

// Total returns the count of all errors ever recorded.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
