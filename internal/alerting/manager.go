package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/schema"
)

var (
	// ErrNotFound is returned when an alert id does not exist.
	ErrNotFound = fmt.Errorf("alerting: %w", errs.ErrNotFound)
	// ErrTerminalStatus is returned when mutating a resolved or
	// false-positive alert.
	ErrTerminalStatus = fmt.Errorf("alerting: alert is in a terminal status")
	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = fmt.Errorf("alerting: invalid status transition")
)

// Config holds alert manager settings.
type Config struct {
	ChangeBuffer    int `yaml:"change_buffer" json:"change_buffer"`
	DispatchWorkers int `yaml:"dispatch_workers" json:"dispatch_workers"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ChangeBuffer:    1024,
		DispatchWorkers: 2,
	}
}

// entry pairs an alert with its own mutex so mutations to one alert
// serialize without blocking the rest of the store.
type entry struct {
	mu    sync.Mutex
	alert *Alert
}

// Manager is the authoritative alert store.
type Manager struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	suppMu        sync.RWMutex
	suppressions  []*Suppression
	suppressedIDs map[uuid.UUID]time.Time

	dispatcher *dispatcher
	logger     *slog.Logger
}

// NewManager creates an alert manager and starts its change dispatcher.
func NewManager(cfg Config) *Manager {
	logger := slog.Default().With("component", "alert_manager")
	return &Manager{
		entries:       make(map[uuid.UUID]*entry),
		suppressedIDs: make(map[uuid.UUID]time.Time),
		dispatcher:    newDispatcher(cfg.ChangeBuffer, cfg.DispatchWorkers, logger),
		logger:        logger,
	}
}

// Subscribe registers a handler for alert changes.
func (m *Manager) Subscribe(h ChangeHandler) {
	m.dispatcher.subscribe(h)
}

// Stop shuts down the change dispatcher.
func (m *Manager) Stop() {
	m.dispatcher.stop()
}

// CreateAlert creates an alert from a set of contributing events. Severity
// is the maximum event severity, confidence grows with event count, priority
// follows the severity weight.
func (m *Manager) CreateAlert(ctx context.Context, title, description, ruleID string, events []*schema.Event) (*Alert, error) {
	if title == "" {
		return nil, fmt.Errorf("alerting: %w: title is required", errs.ErrValidation)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("alerting: %w: at least one event is required", errs.ErrValidation)
	}

	now := time.Now().UTC()
	severity := schema.MaxSeverity(events)

	alert := &Alert{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Status:      StatusNew,
		Severity:    severity,
		Priority:    severity.Weight(),
		Confidence:  ConfidenceForCount(len(events)),
		Events:      append([]*schema.Event(nil), events...),
		RuleID:      ruleID,
		Fingerprint: events[0].Fingerprint,
		Timeline: []TimelineEntry{{
			At:        now,
			Actor:     "system",
			Message:   fmt.Sprintf("alert created from %d event(s)", len(events)),
			Automated: true,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.entries[alert.ID] = &entry{alert: alert}
	m.mu.Unlock()

	m.logger.Info("alert created",
		"alert_id", alert.ID.String(),
		"severity", string(alert.Severity),
		"rule_id", ruleID,
		"events", len(events))

	m.dispatcher.emit(Change{Type: ChangeCreated, Alert: alert.clone()})
	return alert.clone(), nil
}

// Update describes a mutation to apply to an alert. Nil fields are left
// untouched.
type Update struct {
	Status   *Status
	Assignee *string
	Actor    string
	Note     string
}

// UpdateAlert applies an update under the alert's lock. Terminal alerts
// reject all updates; status changes must follow the state machine. Exactly
// one timeline entry is appended per successful update and UpdatedAt moves
// strictly forward.
func (m *Manager) UpdateAlert(ctx context.Context, id uuid.UUID, upd Update) (*Alert, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	alert := e.alert
	if alert.Status.Terminal() {
		return nil, ErrTerminalStatus
	}

	if upd.Status != nil && *upd.Status != alert.Status {
		if !canTransition(alert.Status, *upd.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, alert.Status, *upd.Status)
		}
	}

	message := upd.Note
	if upd.Status != nil && *upd.Status != alert.Status {
		alert.Status = *upd.Status
		if message == "" {
			message = fmt.Sprintf("status changed to %s", *upd.Status)
		}
	}
	if upd.Assignee != nil {
		alert.Assignee = *upd.Assignee
		if message == "" {
			message = fmt.Sprintf("assigned to %s", *upd.Assignee)
		}
	}
	if message == "" {
		message = "alert updated"
	}

	actor := upd.Actor
	if actor == "" {
		actor = "system"
	}

	now := time.Now().UTC()
	if !now.After(alert.UpdatedAt) {
		now = alert.UpdatedAt.Add(time.Nanosecond)
	}

	alert.Timeline = append(alert.Timeline, TimelineEntry{
		At:        now,
		Actor:     actor,
		Message:   message,
		Automated: actor == "system",
	})
	alert.UpdatedAt = now

	m.dispatcher.emit(Change{Type: ChangeUpdated, Alert: alert.clone()})
	return alert.clone(), nil
}

// Acknowledge moves an alert to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, id uuid.UUID, actor string) (*Alert, error) {
	s := StatusAcknowledged
	return m.UpdateAlert(ctx, id, Update{Status: &s, Actor: actor})
}

// Resolve moves an alert to resolved.
func (m *Manager) Resolve(ctx context.Context, id uuid.UUID, actor, note string) (*Alert, error) {
	s := StatusResolved
	return m.UpdateAlert(ctx, id, Update{Status: &s, Actor: actor, Note: note})
}

// MarkFalsePositive closes an alert as a false positive.
func (m *Manager) MarkFalsePositive(ctx context.Context, id uuid.UUID, actor, note string) (*Alert, error) {
	s := StatusFalsePositive
	return m.UpdateAlert(ctx, id, Update{Status: &s, Actor: actor, Note: note})
}

// Escalate records an escalation at the next ordinal level. Terminal alerts
// reject escalation; unknown ids surface ErrNotFound. manual distinguishes
// operator-driven escalation from SLA-driven.
func (m *Manager) Escalate(ctx context.Context, id uuid.UUID, escalatedTo, reason string, manual bool) (*Alert, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	alert := e.alert
	if alert.Status.Terminal() {
		return nil, ErrTerminalStatus
	}

	now := time.Now().UTC()
	if !now.After(alert.UpdatedAt) {
		now = alert.UpdatedAt.Add(time.Nanosecond)
	}

	esc := Escalation{
		ID:          uuid.New(),
		Level:       len(alert.Escalations) + 1,
		TriggeredAt: now,
		EscalatedTo: escalatedTo,
		Reason:      reason,
	}
	alert.Escalations = append(alert.Escalations, esc)
	alert.Timeline = append(alert.Timeline, TimelineEntry{
		At:        now,
		Actor:     "system",
		Message:   fmt.Sprintf("escalated to level %d (%s): %s", esc.Level, escalatedTo, reason),
		Automated: !manual,
	})
	alert.UpdatedAt = now

	m.logger.Info("alert escalated",
		"alert_id", alert.ID.String(),
		"level", esc.Level,
		"escalated_to", escalatedTo,
		"manual", manual)

	m.dispatcher.emit(Change{Type: ChangeEscalated, Alert: alert.clone(), Manual: manual})
	return alert.clone(), nil
}

// RecordAction appends an automated action record to an alert. Actions may
// still be recorded on terminal alerts: a playbook finishing after
// resolution keeps its audit trail.
func (m *Manager) RecordAction(ctx context.Context, id uuid.UUID, action, result string) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.alert.Actions = append(e.alert.Actions, ActionRecord{
		At:     time.Now().UTC(),
		Action: action,
		Result: result,
	})
	return nil
}

// Get returns a copy of an alert.
func (m *Manager) Get(id uuid.UUID) (*Alert, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alert.clone(), nil
}

func (m *Manager) entry(id uuid.UUID) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Filter selects alerts for listing.
type Filter struct {
	Status   Status
	Severity schema.Severity
	Since    time.Time
	Limit    int
	Offset   int
}

// List returns alerts matching the filter, newest first.
func (m *Manager) List(f Filter) []*Alert {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []*Alert
	for _, e := range entries {
		e.mu.Lock()
		a := e.alert
		match := (f.Status == "" || a.Status == f.Status) &&
			(f.Severity == "" || a.Severity == f.Severity) &&
			(f.Since.IsZero() || !a.CreatedAt.Before(f.Since))
		if match {
			out = append(out, a.clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Stats returns store counters.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	byStatus := make(map[string]int)
	bySeverity := make(map[string]int)
	for _, e := range entries {
		e.mu.Lock()
		byStatus[string(e.alert.Status)]++
		bySeverity[string(e.alert.Severity)]++
		e.mu.Unlock()
	}

	return map[string]interface{}{
		"total":           len(entries),
		"by_status":       byStatus,
		"by_severity":     bySeverity,
		"changes_dropped": m.dispatcher.dropped.Load(),
	}
}
