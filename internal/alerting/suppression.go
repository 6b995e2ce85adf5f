package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/schema"
)

// Suppression is a time-boxed exclusion from notification fan-out.
// Suppressed alerts are still stored and queryable. Attached to a single
// alert via SuppressAlert, or installed as a rule/severity window via
// Suppress.
type Suppression struct {
	ID       uuid.UUID       `json:"id"`
	RuleID   string          `json:"rule_id,omitempty"`
	Severity schema.Severity `json:"severity,omitempty"`
	Reason   string          `json:"reason"`
	Until    time.Time       `json:"until"`
}

func (s *Suppression) matches(a *Alert, now time.Time) bool {
	if now.After(s.Until) {
		return false
	}
	if s.RuleID != "" && s.RuleID != a.RuleID {
		return false
	}
	if s.Severity != "" && s.Severity != a.Severity {
		return false
	}
	return true
}

// SuppressAlert suppresses one alert until the suppression expires. The
// suppression is appended to the alert with a timeline entry and the alert
// joins the suppressed set consulted by IsSuppressed. Terminal alerts reject
// suppression; unknown ids surface ErrNotFound.
func (m *Manager) SuppressAlert(ctx context.Context, id uuid.UUID, sup Suppression) (*Alert, error) {
	if sup.Until.IsZero() {
		return nil, fmt.Errorf("alerting: %w: suppression needs an expiry", errs.ErrValidation)
	}
	if sup.ID == uuid.Nil {
		sup.ID = uuid.New()
	}

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

	alert.Suppressions = append(alert.Suppressions, sup)
	alert.Timeline = append(alert.Timeline, TimelineEntry{
		At:        now,
		Actor:     "system",
		Message:   fmt.Sprintf("suppressed until %s: %s", sup.Until.Format(time.RFC3339), sup.Reason),
		Automated: true,
	})
	alert.UpdatedAt = now

	m.suppMu.Lock()
	if sup.Until.After(m.suppressedIDs[id]) {
		m.suppressedIDs[id] = sup.Until
	}
	m.suppMu.Unlock()

	m.logger.Info("alert suppressed",
		"alert_id", id.String(),
		"until", sup.Until,
		"reason", sup.Reason)

	m.dispatcher.emit(Change{Type: ChangeSuppressed, Alert: alert.clone()})
	return alert.clone(), nil
}

// Suppress installs a suppression window and returns its id.
func (m *Manager) Suppress(sup Suppression) uuid.UUID {
	if sup.ID == uuid.Nil {
		sup.ID = uuid.New()
	}

	m.suppMu.Lock()
	m.suppressions = append(m.suppressions, &sup)
	m.suppMu.Unlock()

	m.logger.Info("suppression installed",
		"suppression_id", sup.ID.String(),
		"rule_id", sup.RuleID,
		"until", sup.Until)
	return sup.ID
}

// Unsuppress removes a suppression window.
func (m *Manager) Unsuppress(id uuid.UUID) error {
	m.suppMu.Lock()
	defer m.suppMu.Unlock()

	for i, s := range m.suppressions {
		if s.ID == id {
			m.suppressions = append(m.suppressions[:i], m.suppressions[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// IsSuppressed reports whether an alert was suppressed directly or falls
// inside an active suppression window. Expired entries are pruned lazily.
func (m *Manager) IsSuppressed(a *Alert) bool {
	now := time.Now().UTC()

	m.suppMu.Lock()
	defer m.suppMu.Unlock()

	if until, ok := m.suppressedIDs[a.ID]; ok {
		if now.Before(until) {
			return true
		}
		delete(m.suppressedIDs, a.ID)
	}

	active := m.suppressions[:0]
	suppressed := false
	for _, s := range m.suppressions {
		if now.After(s.Until) {
			continue
		}
		active = append(active, s)
		if s.matches(a, now) {
			suppressed = true
		}
	}
	m.suppressions = active
	return suppressed
}
