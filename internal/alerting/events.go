package alerting

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ChangeType identifies what happened to an alert.
type ChangeType string

const (
	ChangeCreated    ChangeType = "created"
	ChangeUpdated    ChangeType = "updated"
	ChangeEscalated  ChangeType = "escalated"
	ChangeSuppressed ChangeType = "suppressed"
)

// Change is a domain event emitted after an alert mutation commits. Side
// effects (notification, automation, persistence) subscribe to these instead
// of running inline with the mutation.
type Change struct {
	Type   ChangeType
	Alert  *Alert
	Manual bool
}

// ChangeHandler consumes alert changes. Handlers run on dispatcher
// goroutines; a slow handler delays other handlers, not alert mutations.
type ChangeHandler func(ctx context.Context, ch Change)

// dispatcher fans alert changes out to subscribers. Changes are sharded onto
// per-worker buffered channels by alert id, so all changes for one alert are
// handled by the same worker in emission order while different alerts still
// dispatch in parallel. Emission never blocks a mutation: when a shard's
// channel is full the change is dropped and counted.
type dispatcher struct {
	mu       sync.RWMutex
	handlers []ChangeHandler
	shards   []chan Change
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger

	dropped atomic.Uint64
}

func newDispatcher(buffer, workers int, logger *slog.Logger) *dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if workers <= 0 {
		workers = 2
	}

	d := &dispatcher{
		shards: make([]chan Change, workers),
		stopCh: make(chan struct{}),
		logger: logger,
	}

	for i := range d.shards {
		d.shards[i] = make(chan Change, buffer/workers+1)
		d.wg.Add(1)
		go d.run(d.shards[i])
	}
	return d
}

func (d *dispatcher) subscribe(h ChangeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// shard maps an alert to its worker channel. UUIDs are uniformly random, so
// a single byte spreads alerts evenly.
func (d *dispatcher) shard(ch Change) chan Change {
	return d.shards[int(ch.Alert.ID[0])%len(d.shards)]
}

func (d *dispatcher) emit(ch Change) {
	select {
	case d.shard(ch) <- ch:
	default:
		d.dropped.Add(1)
		d.logger.Warn("change dropped, dispatch queue full",
			"type", string(ch.Type),
			"alert_id", ch.Alert.ID.String())
	}
}

func (d *dispatcher) run(changes <-chan Change) {
	defer d.wg.Done()

	ctx := context.Background()
	for {
		select {
		case ch := <-changes:
			d.mu.RLock()
			handlers := d.handlers
			d.mu.RUnlock()
			for _, h := range handlers {
				h(ctx, ch)
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *dispatcher) stop() {
	close(d.stopCh)
	d.wg.Wait()
}
