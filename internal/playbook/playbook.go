// Package playbook runs automated response playbooks against incidents.
// Steps execute strictly in order; failures are retried then skipped, so a
// playbook always runs to completion unless stopped.
package playbook

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/schema"
)

// ActionType identifies an automation action.
type ActionType string

const (
	ActionBlockIP         ActionType = "block_ip"
	ActionDisableAccount  ActionType = "disable_account"
	ActionIsolateHost     ActionType = "isolate_host"
	ActionRevokeSessions  ActionType = "revoke_sessions"
	ActionSnapshotHost    ActionType = "snapshot_host"
	ActionNotify          ActionType = "notify"
	ActionTicket          ActionType = "create_ticket"
	ActionEnrichIndicator ActionType = "enrich_indicator"
)

// StepAction is an action invocation with its parameters.
type StepAction struct {
	Type   ActionType     `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

// StepCondition gates a step on execution variables.
type StepCondition struct {
	Variable string `yaml:"variable" json:"variable"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// Step is one unit of a playbook.
type Step struct {
	ID               string          `yaml:"id" json:"id"`
	Name             string          `yaml:"name" json:"name"`
	Action           StepAction      `yaml:"action" json:"action"`
	Conditions       []StepCondition `yaml:"conditions" json:"conditions,omitempty"`
	ApprovalRequired bool            `yaml:"approval_required" json:"approval_required"`
	RetryCount       int             `yaml:"retry_count" json:"retry_count"`
	RetryDelay       time.Duration   `yaml:"retry_delay" json:"retry_delay"`
	Timeout          time.Duration   `yaml:"timeout" json:"timeout"`
	OnSuccess        []StepAction    `yaml:"on_success" json:"on_success,omitempty"`
	OnFailure        []StepAction    `yaml:"on_failure" json:"on_failure,omitempty"`
}

// Trigger describes when a playbook auto-runs.
type Trigger struct {
	MinSeverity schema.Severity `yaml:"min_severity" json:"min_severity"`
	RuleIDs     []string        `yaml:"rule_ids" json:"rule_ids,omitempty"`
	Tags        []string        `yaml:"tags" json:"tags,omitempty"`
}

// Matches reports whether the trigger fires for an alert severity, rule and
// tag set.
func (t *Trigger) Matches(severity schema.Severity, ruleID string, tags []string) bool {
	if t.MinSeverity != "" && severity.Rank() < t.MinSeverity.Rank() {
		return false
	}
	if len(t.RuleIDs) > 0 {
		found := false
		for _, id := range t.RuleIDs {
			if id == ruleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(t.Tags) > 0 {
		tagSet := make(map[string]bool, len(tags))
		for _, tag := range tags {
			tagSet[tag] = true
		}
		for _, want := range t.Tags {
			if !tagSet[want] {
				return false
			}
		}
	}
	return true
}

// Playbook is an ordered response procedure.
type Playbook struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Steps       []Step   `yaml:"steps" json:"steps"`
	Trigger     *Trigger `yaml:"trigger" json:"trigger,omitempty"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`
}

// Validate checks playbook fields.
func (p *Playbook) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("playbook id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %s has no steps", p.ID)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("playbook %s: step %d missing id", p.ID, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("playbook %s: duplicate step id %s", p.ID, s.ID)
		}
		seen[s.ID] = true
		if s.Action.Type == "" {
			return fmt.Errorf("playbook %s: step %s missing action", p.ID, s.ID)
		}
		if s.RetryCount < 0 {
			return fmt.Errorf("playbook %s: step %s negative retry count", p.ID, s.ID)
		}
	}
	return nil
}

// ExecutionStatus is the lifecycle state of a playbook run.
type ExecutionStatus string

const (
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionWaitingApproval ExecutionStatus = "waiting_approval"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
	ExecutionFailed          ExecutionStatus = "failed"
)

// LogEntry is one line of an execution log.
type LogEntry struct {
	At      time.Time `json:"at"`
	StepID  string    `json:"step_id,omitempty"`
	Message string    `json:"message"`
}

// Execution is one run of a playbook against an incident.
type Execution struct {
	ID             uuid.UUID       `json:"id"`
	PlaybookID     string          `json:"playbook_id"`
	IncidentID     uuid.UUID       `json:"incident_id"`
	Status         ExecutionStatus `json:"status"`
	CurrentStep    string          `json:"current_step,omitempty"`
	CompletedSteps []string        `json:"completed_steps"`
	Variables      map[string]any  `json:"variables,omitempty"`
	Logs           []LogEntry      `json:"logs"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at,omitempty"`
}

func (e *Execution) clone() *Execution {
	out := *e
	out.CompletedSteps = append([]string(nil), e.CompletedSteps...)
	out.Logs = append([]LogEntry(nil), e.Logs...)
	if e.Variables != nil {
		out.Variables = make(map[string]any, len(e.Variables))
		for k, v := range e.Variables {
			out.Variables[k] = v
		}
	}
	return &out
}
