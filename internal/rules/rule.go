// Package rules evaluates monitoring rules against enriched events. Rules are
// condition-based or carry a predicate function; each rule evaluates in
// isolation so one broken rule never takes down the evaluation pass.
package rules

import (
	"fmt"
	"strings"
	"time"

	"sentinel-ir/internal/schema"
)

// Condition is a single field comparison inside a rule.
type Condition struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// Match evaluates the condition against a field value.
func (c *Condition) Match(value any) bool {
	return matchValue(value, c.Operator, c.Value)
}

// PredicateFunc is a pure predicate over an event. Predicates must not mutate
// the event or touch shared state.
type PredicateFunc func(*schema.Event) bool

// Rule is a versioned monitoring rule. A rule triggers when all its
// conditions match and, if set, its predicate returns true.
type Rule struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Enabled     bool            `yaml:"enabled" json:"enabled"`
	Severity    schema.Severity `yaml:"severity" json:"severity"`
	Priority    int             `yaml:"priority" json:"priority"`
	Conditions  []Condition     `yaml:"conditions" json:"conditions"`
	Predicate   PredicateFunc   `yaml:"-" json:"-"`
	Tags        []string        `yaml:"tags" json:"tags"`

	Version     int       `yaml:"-" json:"version"`
	LastUpdated time.Time `yaml:"-" json:"last_updated"`
}

// Validate checks rule fields.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", r.Severity)
	}
	if len(r.Conditions) == 0 && r.Predicate == nil {
		return fmt.Errorf("rule needs conditions or a predicate")
	}
	for i, c := range r.Conditions {
		switch c.Operator {
		case "eq", "ne", "prefix", "contains", "gt", "gte", "lt", "lte", "in":
		default:
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}

// matches reports whether the event satisfies every condition and the
// predicate, if any.
func (r *Rule) matches(event *schema.Event) bool {
	for i := range r.Conditions {
		value := getEventField(event, r.Conditions[i].Field)
		if !r.Conditions[i].Match(value) {
			return false
		}
	}
	if r.Predicate != nil {
		return r.Predicate(event)
	}
	return true
}

func getEventField(event *schema.Event, field string) any {
	switch field {
	case "type":
		return event.Type
	case "severity":
		return string(event.Severity)
	case "scope":
		return event.Scope
	case "ip_address":
		return event.IPAddress
	case "user_agent":
		return event.UserAgent
	case "fingerprint":
		return event.Fingerprint
	default:
		if strings.HasPrefix(field, "metadata.") {
			return metadataField(event.Metadata, strings.TrimPrefix(field, "metadata."))
		}
		if event.Metadata != nil {
			if v, ok := event.Metadata[field]; ok {
				return v
			}
		}
	}
	return nil
}

func metadataField(m map[string]any, path string) any {
	if m == nil {
		return nil
	}
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func matchValue(eventValue any, operator string, expected any) bool {
	switch operator {
	case "eq":
		return fmt.Sprintf("%v", eventValue) == fmt.Sprintf("%v", expected)
	case "ne":
		return fmt.Sprintf("%v", eventValue) != fmt.Sprintf("%v", expected)
	case "prefix":
		return strings.HasPrefix(fmt.Sprintf("%v", eventValue), fmt.Sprintf("%v", expected))
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", eventValue), fmt.Sprintf("%v", expected))
	case "gt", "gte", "lt", "lte":
		ev, ok1 := toFloat64(eventValue)
		exp, ok2 := toFloat64(expected)
		if !ok1 || !ok2 {
			return false
		}
		switch operator {
		case "gt":
			return ev > exp
		case "gte":
			return ev >= exp
		case "lt":
			return ev < exp
		case "lte":
			return ev <= exp
		}
	case "in":
		eventStr := fmt.Sprintf("%v", eventValue)
		if vals, ok := expected.([]string); ok {
			for _, v := range vals {
				if eventStr == v {
					return true
				}
			}
		}
		if vals, ok := expected.([]any); ok {
			for _, v := range vals {
				if eventStr == fmt.Sprintf("%v", v) {
					return true
				}
			}
		}
		return false
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
