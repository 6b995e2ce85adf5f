// Package alerting is the authoritative in-memory store for alerts: creation,
// the status state machine, timelines, escalations and suppression.
package alerting

import (
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/schema"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusNew           Status = "new"
	StatusAcknowledged  Status = "acknowledged"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Terminal reports whether the status seals the alert against mutation.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// validTransitions is the status state machine.
var validTransitions = map[Status][]Status{
	StatusNew:          {StatusAcknowledged, StatusResolved, StatusFalsePositive},
	StatusAcknowledged: {StatusResolved, StatusFalsePositive},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TimelineEntry is one append-only record of something that happened to an
// alert.
type TimelineEntry struct {
	At        time.Time `json:"at"`
	Actor     string    `json:"actor"`
	Message   string    `json:"message"`
	Automated bool      `json:"automated"`
}

// ActionRecord tracks an automated response action taken for the alert.
type ActionRecord struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Result string    `json:"result"`
}

// Escalation is one recorded escalation step. Levels are ordinal and strictly
// increasing from 1.
type Escalation struct {
	ID           uuid.UUID `json:"id"`
	Level        int       `json:"level"`
	TriggeredAt  time.Time `json:"triggered_at"`
	EscalatedTo  string    `json:"escalated_to"`
	Reason       string    `json:"reason"`
	Acknowledged bool      `json:"acknowledged"`
}

// Alert is a managed incident derived from one or more events.
type Alert struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	Severity    schema.Severity `json:"severity"`
	Priority    int             `json:"priority"`
	Confidence  float64         `json:"confidence"`

	Events      []*schema.Event `json:"events"`
	RuleID      string          `json:"rule_id,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`

	Timeline     []TimelineEntry `json:"timeline"`
	Actions      []ActionRecord  `json:"actions,omitempty"`
	Escalations  []Escalation    `json:"escalations,omitempty"`
	Suppressions []Suppression   `json:"suppressions,omitempty"`

	Assignee  string    `json:"assignee,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a copy safe to hand to callers; slices are copied so readers
// never observe in-place mutation.
func (a *Alert) clone() *Alert {
	out := *a
	out.Events = append([]*schema.Event(nil), a.Events...)
	out.Timeline = append([]TimelineEntry(nil), a.Timeline...)
	out.Actions = append([]ActionRecord(nil), a.Actions...)
	out.Escalations = append([]Escalation(nil), a.Escalations...)
	out.Suppressions = append([]Suppression(nil), a.Suppressions...)
	return &out
}

// ConfidenceForCount returns the aggregation confidence for an event count,
// capped at 1.0.
func ConfidenceForCount(n int) float64 {
	c := 0.2 * float64(n)
	if c > 1.0 {
		return 1.0
	}
	return c
}
