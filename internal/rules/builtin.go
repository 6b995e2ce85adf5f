package rules

import "sentinel-ir/internal/schema"

// BuiltinRules returns the default monitoring rule catalog.
func BuiltinRules() []*Rule {
	return []*Rule{
		{
			ID:          "auth-brute-force",
			Name:        "Authentication Brute Force",
			Description: "Repeated failed logins from a single source",
			Enabled:     true,
			Severity:    schema.SeverityHigh,
			Priority:    80,
			Conditions: []Condition{
				{Field: "type", Operator: "eq", Value: "auth.login_failed"},
				{Field: "metadata.attempts", Operator: "gte", Value: 5},
			},
			Tags: []string{"auth", "brute_force"},
		},
		{
			ID:          "privilege-escalation",
			Name:        "Privilege Escalation",
			Description: "Role or permission change outside provisioning flows",
			Enabled:     true,
			Severity:    schema.SeverityCritical,
			Priority:    95,
			Conditions: []Condition{
				{Field: "type", Operator: "prefix", Value: "iam.role"},
				{Field: "metadata.elevated", Operator: "eq", Value: true},
			},
			Tags: []string{"iam", "escalation"},
		},
		{
			ID:          "threat-intel-match",
			Name:        "Threat Intelligence Match",
			Description: "Event source matched a threat indicator during enrichment",
			Enabled:     true,
			Severity:    schema.SeverityHigh,
			Priority:    90,
			Conditions: []Condition{
				{Field: "metadata.threat.matched", Operator: "eq", Value: true},
			},
			Tags: []string{"threat_intel"},
		},
		{
			ID:          "data-exfiltration",
			Name:        "Bulk Data Export",
			Description: "Export volume above the exfiltration threshold",
			Enabled:     true,
			Severity:    schema.SeverityCritical,
			Priority:    100,
			Conditions: []Condition{
				{Field: "type", Operator: "eq", Value: "data.export"},
				{Field: "metadata.bytes", Operator: "gt", Value: 104857600},
			},
			Tags: []string{"data", "exfiltration"},
		},
		{
			ID:          "session-anomaly",
			Name:        "Suspicious Session Activity",
			Description: "Session events tagged suspicious by upstream sensors",
			Enabled:     true,
			Severity:    schema.SeverityMedium,
			Priority:    50,
			Conditions: []Condition{
				{Field: "type", Operator: "prefix", Value: "session."},
			},
			Predicate: func(e *schema.Event) bool {
				return e.HasTag("suspicious")
			},
			Tags: []string{"session"},
		},
	}
}
