package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/schema"
)

func makeEvent(eventType string) *schema.Event {
	return &schema.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Severity:  schema.SeverityLow,
		Scope:     "user:alice",
		Timestamp: time.Now().UTC(),
	}
}

func TestPushPop(t *testing.T) {
	rb := NewRingBuffer(4)

	if err := rb.Push(makeEvent("auth.login_failed")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	ev, err := rb.Pop()
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if ev.Type != "auth.login_failed" {
		t.Errorf("expected auth.login_failed, got %s", ev.Type)
	}

	if _, err := rb.Pop(); err != ErrQueueEmpty {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestPushFullDrops(t *testing.T) {
	rb := NewRingBuffer(2)

	rb.Push(makeEvent("a.b"))
	rb.Push(makeEvent("a.b"))

	if err := rb.Push(makeEvent("a.b")); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	m := rb.Metrics()
	if m.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", m.Dropped)
	}
	if m.Pushed != 2 {
		t.Errorf("expected 2 pushed, got %d", m.Pushed)
	}
}

func TestPopBatch(t *testing.T) {
	rb := NewRingBuffer(10)

	for i := 0; i < 5; i++ {
		rb.Push(makeEvent("session.created"))
	}

	batch := rb.PopBatch(3)
	if len(batch) != 3 {
		t.Errorf("expected batch of 3, got %d", len(batch))
	}

	batch = rb.PopBatch(10)
	if len(batch) != 2 {
		t.Errorf("expected batch of 2, got %d", len(batch))
	}

	batch = rb.PopBatch(10)
	if len(batch) != 0 {
		t.Errorf("expected empty batch, got %d", len(batch))
	}
}

func TestPopBlockingClose(t *testing.T) {
	rb := NewRingBuffer(4)

	var wg sync.WaitGroup
	wg.Add(1)
	var popErr error
	go func() {
		defer wg.Done()
		_, popErr = rb.PopBlocking()
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Close()
	wg.Wait()

	if popErr != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed, got %v", popErr)
	}
}

func TestFIFOOrder(t *testing.T) {
	rb := NewRingBuffer(8)

	first := makeEvent("a.first")
	second := makeEvent("a.second")
	rb.Push(first)
	rb.Push(second)

	ev, _ := rb.Pop()
	if ev.ID != first.ID {
		t.Errorf("expected first event out, got %s", ev.Type)
	}
}

func TestConcurrentPushPop(t *testing.T) {
	rb := NewRingBuffer(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rb.Push(makeEvent("load.test"))
			}
		}()
	}
	wg.Wait()

	m := rb.Metrics()
	if m.Pushed != 500 {
		t.Errorf("expected 500 pushed, got %d", m.Pushed)
	}
	if rb.Len() != 500 {
		t.Errorf("expected depth 500, got %d", rb.Len())
	}
}
