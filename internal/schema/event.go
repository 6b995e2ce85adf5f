// Package schema defines the canonical security event model for Sentinel-IR.
// All ingested events are validated against this structure before enrichment.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies how serious an event or alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities: info < low < medium < high < critical.
var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// Rank returns the ordinal position of the severity, starting at 1 for info.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Weight returns the priority weight used for alert prioritization
// (info=1 .. critical=5).
func (s Severity) Weight() int {
	return severityRank[s]
}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the highest severity across a set of events.
// Returns SeverityInfo for an empty set.
func MaxSeverity(events []*Event) Severity {
	max := SeverityInfo
	for _, e := range events {
		if e.Severity.Rank() > max.Rank() {
			max = e.Severity
		}
	}
	return max
}

// Event represents an observed security occurrence.
type Event struct {
	// Required fields
	ID        uuid.UUID `json:"id" validate:"required"`
	Type      string    `json:"type" validate:"required,event_type"`
	Severity  Severity  `json:"severity" validate:"required,oneof=info low medium high critical"`
	Scope     string    `json:"scope" validate:"required,max=256"`
	Timestamp time.Time `json:"timestamp" validate:"required"`

	// Optional fields
	IPAddress string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string         `json:"user_agent,omitempty" validate:"max=1024"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Internal fields (set by system)
	Fingerprint   string    `json:"fingerprint,omitempty"`
	SchemaVersion string    `json:"schema_version"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Clone returns a deep copy of the event. Enrichment operates on copies so
// the original event is never mutated.
func (e *Event) Clone() *Event {
	out := *e
	if e.Tags != nil {
		out.Tags = make([]string, len(e.Tags))
		copy(out.Tags, e.Tags)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"
