// Package queue provides the bounded ingress buffer feeding the
// real-time and batch processing lanes.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"sentinel-ir/internal/schema"
)

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue: full")
	// ErrQueueEmpty is returned when attempting to pop from an empty queue.
	ErrQueueEmpty = errors.New("queue: empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue: closed")
)

// RingBuffer is a thread-safe circular buffer for events. When full, Push
// fails immediately; the producer is never blocked.
type RingBuffer struct {
	buffer []*schema.Event
	size   int
	head   int
	tail   int
	count  int
	closed bool
	mu     sync.Mutex
	cond   *sync.Cond

	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10000
	}

	rb := &RingBuffer{
		buffer: make([]*schema.Event, size),
		size:   size,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Push adds an event to the queue.
// Returns ErrQueueFull if the queue is at capacity.
func (rb *RingBuffer) Push(event *schema.Event) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}

	if rb.count == rb.size {
		atomic.AddUint64(&rb.totalDropped, 1)
		return ErrQueueFull
	}

	rb.buffer[rb.tail] = event
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	atomic.AddUint64(&rb.totalPushed, 1)

	rb.cond.Signal()
	return nil
}

// Pop removes and returns an event from the queue.
// Returns ErrQueueEmpty if the queue is empty.
func (rb *RingBuffer) Pop() (*schema.Event, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}

	return rb.popLocked(), nil
}

// PopBlocking removes and returns an event from the queue.
// Blocks until an event is available or the queue is closed.
func (rb *RingBuffer) PopBlocking() (*schema.Event, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		rb.cond.Wait()
	}

	if rb.closed && rb.count == 0 {
		return nil, ErrQueueClosed
	}

	return rb.popLocked(), nil
}

// PopBatch removes up to max events from the queue without blocking.
// Returns an empty slice when the queue is empty.
func (rb *RingBuffer) PopBatch(max int) []*schema.Event {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.count
	if max > 0 && n > max {
		n = max
	}

	out := make([]*schema.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rb.popLocked())
	}
	return out
}

func (rb *RingBuffer) popLocked() *schema.Event {
	event := rb.buffer[rb.head]
	rb.buffer[rb.head] = nil
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	atomic.AddUint64(&rb.totalPopped, 1)
	return event
}

// Len returns the current number of events in the queue.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the capacity of the queue.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// Close closes the queue and wakes up any waiting consumers.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}

// Metrics returns queue statistics.
func (rb *RingBuffer) Metrics() Metrics {
	return Metrics{
		Pushed:   atomic.LoadUint64(&rb.totalPushed),
		Popped:   atomic.LoadUint64(&rb.totalPopped),
		Dropped:  atomic.LoadUint64(&rb.totalDropped),
		Depth:    rb.Len(),
		Capacity: rb.size,
	}
}

// Metrics holds statistics about queue operations.
type Metrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
