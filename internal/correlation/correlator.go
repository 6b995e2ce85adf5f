// Package correlation groups batches of events that belong to the same
// activity: same scope, same type family, inside a recency window. Groups of
// at least two events become aggregated incidents downstream.
package correlation

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"sentinel-ir/internal/schema"
)

// Config holds correlator settings.
type Config struct {
	Window       time.Duration `yaml:"window" json:"window"`
	MinGroupSize int           `yaml:"min_group_size" json:"min_group_size"`
}

// DefaultConfig returns the default correlator configuration.
func DefaultConfig() Config {
	return Config{
		Window:       5 * time.Minute,
		MinGroupSize: 2,
	}
}

// Correlator performs batch correlation.
type Correlator struct {
	config Config

	batches atomic.Uint64
	grouped atomic.Uint64
}

// New creates a Correlator.
func New(cfg Config) *Correlator {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MinGroupSize < 2 {
		cfg.MinGroupSize = 2
	}
	return &Correlator{config: cfg}
}

// Correlate partitions a batch into related groups. Every event lands in at
// most one group; groups smaller than the minimum size are discarded. Events
// inside a group are ordered by timestamp.
func (c *Correlator) Correlate(events []*schema.Event) [][]*schema.Event {
	c.batches.Add(1)
	if len(events) < c.config.MinGroupSize {
		return nil
	}

	sorted := make([]*schema.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Open windows keyed by scope + type family. A window anchors at its
	// first event; events past the window start a fresh group for the key.
	type window struct {
		start  time.Time
		events []*schema.Event
	}
	open := make(map[string]*window)
	var closed [][]*schema.Event

	flush := func(w *window) {
		if len(w.events) >= c.config.MinGroupSize {
			closed = append(closed, w.events)
		}
	}

	for _, ev := range sorted {
		key := groupKey(ev)
		w, ok := open[key]
		if ok && ev.Timestamp.Sub(w.start) <= c.config.Window {
			w.events = append(w.events, ev)
			continue
		}
		if ok {
			flush(w)
		}
		open[key] = &window{start: ev.Timestamp, events: []*schema.Event{ev}}
	}

	keys := make([]string, 0, len(open))
	for k := range open {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flush(open[k])
	}

	for _, g := range closed {
		c.grouped.Add(uint64(len(g)))
	}
	return closed
}

// groupKey combines the scope with the first segment of the event type, so
// "auth.login_failed" and "auth.password_reset" for one scope correlate.
func groupKey(ev *schema.Event) string {
	family := ev.Type
	if i := strings.IndexByte(family, '.'); i > 0 {
		family = family[:i]
	}
	return strings.ToLower(strings.TrimSpace(ev.Scope)) + "|" + family
}

// Stats returns correlator counters.
func (c *Correlator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"batches":        c.batches.Load(),
		"grouped_events": c.grouped.Load(),
	}
}
