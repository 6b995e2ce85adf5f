package playbook

import (
	"time"

	"sentinel-ir/internal/schema"
)

// BuiltinPlaybooks returns the default response playbooks.
func BuiltinPlaybooks() []*Playbook {
	return []*Playbook{
		{
			ID:          "credential-compromise",
			Name:        "Credential Compromise Containment",
			Description: "Contain a compromised account: revoke sessions, disable the account, block the source",
			Enabled:     true,
			Trigger: &Trigger{
				MinSeverity: schema.SeverityHigh,
				RuleIDs:     []string{"auth-brute-force", "threat-intel-match"},
			},
			Steps: []Step{
				{
					ID:     "revoke-sessions",
					Name:   "Revoke active sessions",
					Action: StepAction{Type: ActionRevokeSessions},
				},
				{
					ID:               "disable-account",
					Name:             "Disable the account",
					Action:           StepAction{Type: ActionDisableAccount},
					ApprovalRequired: true,
				},
				{
					ID:         "block-source",
					Name:       "Block the source IP",
					Action:     StepAction{Type: ActionBlockIP},
					RetryCount: 2,
					RetryDelay: 5 * time.Second,
				},
				{
					ID:     "open-ticket",
					Name:   "Open tracking ticket",
					Action: StepAction{Type: ActionTicket, Params: map[string]any{"summary": "Credential compromise contained"}},
				},
			},
			Tags: []string{"credentials", "containment"},
		},
		{
			ID:          "malware-isolation",
			Name:        "Malware Host Isolation",
			Description: "Snapshot then isolate a host showing malware indicators",
			Enabled:     true,
			Trigger: &Trigger{
				MinSeverity: schema.SeverityCritical,
			},
			Steps: []Step{
				{
					ID:     "snapshot",
					Name:   "Capture forensic snapshot",
					Action: StepAction{Type: ActionSnapshotHost},
				},
				{
					ID:         "isolate",
					Name:       "Isolate the host",
					Action:     StepAction{Type: ActionIsolateHost},
					RetryCount: 1,
					RetryDelay: 10 * time.Second,
					OnFailure: []StepAction{
						{Type: ActionNotify, Params: map[string]any{"message": "host isolation failed, manual action required"}},
					},
				},
				{
					ID:     "notify-team",
					Name:   "Notify the response team",
					Action: StepAction{Type: ActionNotify, Params: map[string]any{"message": "malware host isolated"}},
				},
			},
			Tags: []string{"malware", "isolation"},
		},
		{
			ID:          "exfiltration-response",
			Name:        "Data Exfiltration Response",
			Description: "Block the destination and freeze the account after a bulk export",
			Enabled:     true,
			Trigger: &Trigger{
				MinSeverity: schema.SeverityCritical,
				RuleIDs:     []string{"data-exfiltration"},
			},
			Steps: []Step{
				{
					ID:     "block-destination",
					Name:   "Block the exfiltration destination",
					Action: StepAction{Type: ActionBlockIP},
				},
				{
					ID:               "freeze-account",
					Name:             "Freeze the exporting account",
					Action:           StepAction{Type: ActionDisableAccount},
					ApprovalRequired: true,
				},
				{
					ID:     "open-ticket",
					Name:   "Open tracking ticket",
					Action: StepAction{Type: ActionTicket, Params: map[string]any{"summary": "Bulk export blocked"}},
				},
			},
			Tags: []string{"data", "exfiltration"},
		},
	}
}
