// Package sla tracks response deadlines per alert severity and escalates
// alerts whose deadline passes without acknowledgement.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/alerting"
	"sentinel-ir/internal/schema"
)

// Level is an ordinal escalation target.
type Level int

const (
	LevelOncall Level = iota + 1
	LevelTeamLead
	LevelManagement
	LevelExecutive
)

func (l Level) String() string {
	switch l {
	case LevelOncall:
		return "oncall"
	case LevelTeamLead:
		return "team_lead"
	case LevelManagement:
		return "management"
	case LevelExecutive:
		return "executive"
	default:
		return fmt.Sprintf("level_%d", int(l))
	}
}

// Config maps severities to response deadlines.
type Config struct {
	Thresholds map[schema.Severity]time.Duration `yaml:"thresholds" json:"thresholds"`
	MaxLevel   Level                             `yaml:"max_level" json:"max_level"`
}

// DefaultConfig returns the default SLA thresholds.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[schema.Severity]time.Duration{
			schema.SeverityCritical: 15 * time.Minute,
			schema.SeverityHigh:     30 * time.Minute,
			schema.SeverityMedium:   2 * time.Hour,
			schema.SeverityLow:      8 * time.Hour,
		},
		MaxLevel: LevelExecutive,
	}
}

// AlertStore is the slice of the alert manager the monitor needs.
type AlertStore interface {
	Get(id uuid.UUID) (*alerting.Alert, error)
	Escalate(ctx context.Context, id uuid.UUID, escalatedTo, reason string, manual bool) (*alerting.Alert, error)
}

type tracked struct {
	timer *time.Timer
	level Level
}

// Monitor arms one single-shot timer per tracked alert. When a timer fires
// the alert escalates to the next level and the timer re-arms until the
// ladder tops out, the alert is acknowledged, or it closes.
type Monitor struct {
	config Config
	store  AlertStore
	logger *slog.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*tracked

	breaches  atomic.Uint64
	lateFires atomic.Uint64
}

// NewMonitor creates an SLA monitor.
func NewMonitor(cfg Config, store AlertStore) *Monitor {
	if cfg.Thresholds == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = LevelExecutive
	}
	return &Monitor{
		config: cfg,
		store:  store,
		logger: slog.Default().With("component", "sla_monitor"),
	}
}

// Track arms the SLA timer for an alert. Severities without a threshold
// (info) are not tracked.
func (m *Monitor) Track(alert *alerting.Alert) {
	threshold, ok := m.config.Thresholds[alert.Severity]
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.timers[alert.ID]; exists {
		return
	}
	if m.timers == nil {
		m.timers = make(map[uuid.UUID]*tracked)
	}

	id := alert.ID
	tr := &tracked{level: LevelOncall}
	tr.timer = time.AfterFunc(threshold, func() { m.fire(id) })
	m.timers[id] = tr
}

// Cancel stops and forgets the timer for an alert. Safe to call for
// untracked ids.
func (m *Monitor) Cancel(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tr, ok := m.timers[id]; ok {
		tr.timer.Stop()
		delete(m.timers, id)
	}
}

// fire handles one SLA breach. The alert status is re-checked at fire time:
// a timer that lost the race with resolution is a no-op.
func (m *Monitor) fire(id uuid.UUID) {
	m.mu.Lock()
	tr, ok := m.timers[id]
	if !ok {
		m.mu.Unlock()
		m.lateFires.Add(1)
		return
	}
	level := tr.level
	m.mu.Unlock()

	alert, err := m.store.Get(id)
	if err != nil || alert.Status != alerting.StatusNew {
		m.Cancel(id)
		m.lateFires.Add(1)
		return
	}

	threshold := m.config.Thresholds[alert.Severity]
	reason := fmt.Sprintf("response SLA of %s breached", threshold)

	if _, err := m.store.Escalate(context.Background(), id, level.String(), reason, false); err != nil {
		m.logger.Warn("sla escalation failed", "alert_id", id.String(), "error", err)
		m.Cancel(id)
		return
	}
	m.breaches.Add(1)
	m.logger.Warn("sla breached",
		"alert_id", id.String(),
		"severity", string(alert.Severity),
		"escalated_to", level.String())

	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok = m.timers[id]
	if !ok {
		return
	}
	if tr.level >= m.config.MaxLevel {
		delete(m.timers, id)
		return
	}
	tr.level++
	tr.timer = time.AfterFunc(threshold, func() { m.fire(id) })
}

// HandleChange wires the monitor into the alert change stream: new alerts
// start tracking, acknowledgement and closure cancel the timer, and a manual
// escalation cancels the pending timer for the breached level.
func (m *Monitor) HandleChange(ctx context.Context, ch alerting.Change) {
	switch ch.Type {
	case alerting.ChangeCreated:
		m.Track(ch.Alert)
	case alerting.ChangeUpdated:
		if ch.Alert.Status != alerting.StatusNew {
			m.Cancel(ch.Alert.ID)
		}
	case alerting.ChangeEscalated:
		if ch.Manual {
			m.Cancel(ch.Alert.ID)
		}
	}
}

// Stop cancels all timers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, tr := range m.timers {
		tr.timer.Stop()
		delete(m.timers, id)
	}
}

// Stats returns monitor counters.
func (m *Monitor) Stats() map[string]interface{} {
	m.mu.Lock()
	tracked := len(m.timers)
	m.mu.Unlock()

	return map[string]interface{}{
		"tracked":    tracked,
		"breaches":   m.breaches.Load(),
		"late_fires": m.lateFires.Load(),
	}
}
