package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/schema"
)

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = fmt.Errorf("rules: %w", errs.ErrNotFound)

// Engine holds the versioned rule set and evaluates events against it.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	recorder *errs.Recorder
	logger   *slog.Logger

	evaluations atomic.Uint64
	triggered   atomic.Uint64
	failures    atomic.Uint64
}

// NewEngine creates a rule engine.
func NewEngine(recorder *errs.Recorder) *Engine {
	return &Engine{
		rules:    make(map[string]*Rule),
		recorder: recorder,
		logger:   slog.Default().With("component", "rule_engine"),
	}
}

// AddRule registers a new rule at version 1.
func (e *Engine) AddRule(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("rules: rule %s already exists", rule.ID)
	}

	rule.Version = 1
	rule.LastUpdated = time.Now().UTC()
	e.rules[rule.ID] = rule
	return nil
}

// UpdateRule applies mutate to a copy of the rule, bumps its version and
// updates its timestamp. Returns ErrRuleNotFound for unknown ids.
func (e *Engine) UpdateRule(id string, mutate func(*Rule)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.rules[id]
	if !ok {
		return ErrRuleNotFound
	}

	updated := *existing
	mutate(&updated)
	updated.ID = existing.ID
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	updated.Version = existing.Version + 1
	updated.LastUpdated = time.Now().UTC()
	e.rules[id] = &updated
	return nil
}

// SetEnabled flips a rule's enabled flag, bumping its version.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	return e.UpdateRule(id, func(r *Rule) {
		r.Enabled = enabled
	})
}

// RemoveRule deletes a rule.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(e.rules, id)
	return nil
}

// GetRule returns a rule by id.
func (e *Engine) GetRule(id string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rule, ok := e.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// ListRules returns all rules sorted by id.
func (e *Engine) ListRules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate runs every enabled rule against the event and returns the
// triggered rules sorted by descending priority, id as tie-break. A rule
// that panics or misbehaves is recorded and skipped.
func (e *Engine) Evaluate(event *schema.Event) []*Rule {
	e.mu.RLock()
	candidates := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			candidates = append(candidates, r)
		}
	}
	e.mu.RUnlock()

	var triggered []*Rule
	for _, rule := range candidates {
		e.evaluations.Add(1)
		if e.evaluateOne(rule, event) {
			triggered = append(triggered, rule)
			e.triggered.Add(1)
		}
	}

	sort.Slice(triggered, func(i, j int) bool {
		if triggered[i].Priority != triggered[j].Priority {
			return triggered[i].Priority > triggered[j].Priority
		}
		return triggered[i].ID < triggered[j].ID
	})
	return triggered
}

// evaluateOne isolates a single rule evaluation. Panics become recorded
// processing errors.
func (e *Engine) evaluateOne(rule *Rule, event *schema.Event) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			e.failures.Add(1)
			err := fmt.Errorf("rule panicked: %v", r)
			e.logger.Error("rule evaluation failed",
				"rule_id", rule.ID,
				"event_id", event.ID.String(),
				"error", err)
			if e.recorder != nil {
				e.recorder.Record(errs.NewProcessingError("rules", rule.ID, err))
			}
		}
	}()

	return rule.matches(event)
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return map[string]interface{}{
		"rules":       len(e.rules),
		"evaluations": e.evaluations.Load(),
		"triggered":   e.triggered.Load(),
		"failures":    e.failures.Load(),
	}
}
