package playbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/errs"
)

var (
	// ErrNotFound is returned for unknown playbook or execution ids.
	ErrNotFound = fmt.Errorf("playbook: %w", errs.ErrNotFound)
	// ErrExecutionActive rejects a second run of the same playbook against
	// the same incident while one is in flight.
	ErrExecutionActive = fmt.Errorf("playbook: execution already active for this incident")
	// ErrDisabled is returned when running a disabled playbook.
	ErrDisabled = fmt.Errorf("playbook: playbook is disabled")
	// ErrNoExecutor is returned when no executor handles an action type.
	ErrNoExecutor = fmt.Errorf("playbook: no executor for action type")
	// ErrNotWaiting is returned when approving an execution that is not
	// suspended at a gate.
	ErrNotWaiting = fmt.Errorf("playbook: execution is not waiting for approval")
)

// errActionPanic marks a step failure caused by a recovered panic in an
// action executor.
var errActionPanic = fmt.Errorf("playbook: action panicked")

// ActionExecutor performs one action type.
type ActionExecutor interface {
	Type() ActionType
	Execute(ctx context.Context, action StepAction, vars map[string]any) (map[string]any, error)
}

// Config holds executor settings.
type Config struct {
	StepTimeout     time.Duration `yaml:"step_timeout" json:"step_timeout"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout" json:"approval_timeout"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		StepTimeout:     30 * time.Second,
		ApprovalTimeout: time.Hour,
	}
}

// run carries the live state of one execution.
type run struct {
	exec       *Execution
	stopCh     chan struct{}
	stopOnce   sync.Once
	approvalCh chan bool
}

// Executor owns the playbook registry and running executions.
type Executor struct {
	config    Config
	mu        sync.RWMutex
	playbooks map[string]*Playbook
	executors map[ActionType]ActionExecutor
	runs      map[uuid.UUID]*run
	active    map[string]uuid.UUID
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewExecutor creates a playbook executor.
func NewExecutor(cfg Config, executors ...ActionExecutor) *Executor {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = time.Hour
	}

	e := &Executor{
		config:    cfg,
		playbooks: make(map[string]*Playbook),
		executors: make(map[ActionType]ActionExecutor),
		runs:      make(map[uuid.UUID]*run),
		active:    make(map[string]uuid.UUID),
		logger:    slog.Default().With("component", "playbook_executor"),
	}
	for _, ex := range executors {
		e.executors[ex.Type()] = ex
	}
	return e
}

// RegisterExecutor adds an action executor.
func (e *Executor) RegisterExecutor(ex ActionExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[ex.Type()] = ex
}

// AddPlaybook registers a playbook.
func (e *Executor) AddPlaybook(pb *Playbook) error {
	if err := pb.Validate(); err != nil {
		return fmt.Errorf("playbook: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.playbooks[pb.ID] = pb
	return nil
}

// GetPlaybook returns a playbook by id.
func (e *Executor) GetPlaybook(id string) (*Playbook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pb, ok := e.playbooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return pb, nil
}

// ListPlaybooks returns all registered playbooks.
func (e *Executor) ListPlaybooks() []*Playbook {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Playbook, 0, len(e.playbooks))
	for _, pb := range e.playbooks {
		out = append(out, pb)
	}
	return out
}

func activeKey(playbookID string, incidentID uuid.UUID) string {
	return playbookID + "/" + incidentID.String()
}

// Run starts a playbook against an incident. The run proceeds on its own
// goroutine; the returned execution snapshot is the starting state. A second
// run for the same (playbook, incident) while one is active is rejected.
func (e *Executor) Run(ctx context.Context, playbookID string, incidentID uuid.UUID, vars map[string]any) (*Execution, error) {
	e.mu.Lock()
	pb, ok := e.playbooks[playbookID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	if !pb.Enabled {
		e.mu.Unlock()
		return nil, ErrDisabled
	}

	key := activeKey(playbookID, incidentID)
	if _, busy := e.active[key]; busy {
		e.mu.Unlock()
		return nil, ErrExecutionActive
	}

	if vars == nil {
		vars = make(map[string]any)
	}
	exec := &Execution{
		ID:         uuid.New(),
		PlaybookID: playbookID,
		IncidentID: incidentID,
		Status:     ExecutionRunning,
		Variables:  vars,
		StartedAt:  time.Now().UTC(),
	}
	r := &run{
		exec:       exec,
		stopCh:     make(chan struct{}),
		approvalCh: make(chan bool, 1),
	}
	e.runs[exec.ID] = r
	e.active[key] = exec.ID
	e.mu.Unlock()

	e.wg.Add(1)
	go e.execute(ctx, pb, r)

	return exec.clone(), nil
}

// execute is the strictly sequential step loop. Ordinary step failures are
// retried then skipped; a step whose every attempt panicked marks the run
// failed, since a panicking action executor cannot be trusted for the
// remaining steps.
func (e *Executor) execute(ctx context.Context, pb *Playbook, r *run) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.active, activeKey(pb.ID, r.exec.IncidentID))
		e.mu.Unlock()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			e.finish(r, ExecutionFailed, fmt.Sprintf("execution panicked: %v", rec))
		}
	}()

	e.logf(r, "", "playbook %s started against incident %s", pb.ID, r.exec.IncidentID)

	for i := range pb.Steps {
		step := &pb.Steps[i]

		if e.stopped(r) {
			e.finish(r, ExecutionCancelled, "execution stopped")
			return
		}

		e.setCurrentStep(r, step.ID)

		if !e.conditionsMet(r, step) {
			e.logf(r, step.ID, "step skipped, conditions not met")
			continue
		}

		if step.ApprovalRequired {
			approved, cancelled := e.awaitApproval(r, step)
			if cancelled {
				e.finish(r, ExecutionCancelled, "execution stopped while waiting for approval")
				return
			}
			if !approved {
				e.logf(r, step.ID, "step denied, skipping")
				continue
			}
		}

		if err := e.runStep(ctx, r, step); errors.Is(err, errActionPanic) {
			e.finish(r, ExecutionFailed, fmt.Sprintf("step %s: %v", step.ID, err))
			return
		}
	}

	e.finish(r, ExecutionCompleted, "playbook completed")
}

// runStep runs one step with its retry budget. On each failed attempt the
// onFailure actions run; when the budget is exhausted the terminal error is
// returned and the caller decides whether the loop continues.
func (e *Executor) runStep(ctx context.Context, r *run, step *Step) error {
	attempts := step.RetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if e.stopped(r) {
			return nil
		}

		output, err := e.invoke(ctx, r, step.Action, step.Timeout)
		if err == nil {
			e.mergeVars(r, step.ID, output)
			e.markCompleted(r, step.ID)
			e.logf(r, step.ID, "step succeeded on attempt %d", attempt)
			for _, sub := range step.OnSuccess {
				if _, serr := e.invoke(ctx, r, sub, step.Timeout); serr != nil {
					e.logf(r, step.ID, "on_success action %s failed: %v", sub.Type, serr)
				}
			}
			return nil
		}
		lastErr = err

		e.logf(r, step.ID, "attempt %d/%d failed: %v", attempt, attempts, err)
		for _, sub := range step.OnFailure {
			if _, serr := e.invoke(ctx, r, sub, step.Timeout); serr != nil {
				e.logf(r, step.ID, "on_failure action %s failed: %v", sub.Type, serr)
			}
		}

		if attempt < attempts && step.RetryDelay > 0 {
			select {
			case <-time.After(step.RetryDelay):
			case <-r.stopCh:
				return nil
			}
		}
	}

	e.logf(r, step.ID, "step failed after %d attempt(s)", attempts)
	return lastErr
}

// invoke runs a single action. A panicking action is isolated to its
// invocation: the panic is recovered and surfaced as a step error, the same
// way a panicking rule is isolated to its evaluation.
func (e *Executor) invoke(ctx context.Context, r *run, action StepAction, timeout time.Duration) (output map[string]any, err error) {
	e.mu.RLock()
	ex, ok := e.executors[action.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, action.Type)
	}

	if timeout <= 0 {
		timeout = e.config.StepTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			output = nil
			err = fmt.Errorf("%w: %s: %v", errActionPanic, action.Type, rec)
		}
	}()

	vars := e.snapshotVars(r)
	return ex.Execute(actx, action, vars)
}

// awaitApproval suspends the run at an approval gate. Returns the decision
// and whether the run was stopped while waiting. An expired gate counts as
// denial.
func (e *Executor) awaitApproval(r *run, step *Step) (approved, cancelled bool) {
	e.setStatus(r, ExecutionWaitingApproval)
	e.logf(r, step.ID, "waiting for approval")
	defer e.setStatus(r, ExecutionRunning)

	select {
	case decision := <-r.approvalCh:
		return decision, false
	case <-r.stopCh:
		return false, true
	case <-time.After(e.config.ApprovalTimeout):
		e.logf(r, step.ID, "approval timed out")
		return false, false
	}
}

// Approve releases an execution waiting at an approval gate.
func (e *Executor) Approve(execID uuid.UUID) error {
	return e.decide(execID, true)
}

// Deny releases an execution waiting at an approval gate without running the
// gated step.
func (e *Executor) Deny(execID uuid.UUID) error {
	return e.decide(execID, false)
}

func (e *Executor) decide(execID uuid.UUID, approved bool) error {
	e.mu.RLock()
	r, ok := e.runs[execID]
	e.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.RLock()
	waiting := r.exec.Status == ExecutionWaitingApproval
	e.mu.RUnlock()
	if !waiting {
		return ErrNotWaiting
	}

	select {
	case r.approvalCh <- approved:
		return nil
	default:
		return ErrNotWaiting
	}
}

// Stop requests cooperative cancellation. The run observes the stop at the
// next step boundary; the in-flight step finishes.
func (e *Executor) Stop(execID uuid.UUID) error {
	e.mu.RLock()
	r, ok := e.runs[execID]
	e.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

// GetExecution returns a snapshot of an execution.
func (e *Executor) GetExecution(execID uuid.UUID) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.runs[execID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.exec.clone(), nil
}

// ListExecutions returns snapshots of all executions.
func (e *Executor) ListExecutions() []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Execution, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r.exec.clone())
	}
	return out
}

// Wait blocks until all in-flight executions finish. Used on shutdown and in
// tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Stats returns executor counters.
func (e *Executor) Stats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, r := range e.runs {
		byStatus[string(r.exec.Status)]++
	}
	return map[string]interface{}{
		"playbooks":  len(e.playbooks),
		"executions": len(e.runs),
		"active":     len(e.active),
		"by_status":  byStatus,
	}
}

// ============================================================
// run state helpers (all mutate exec under e.mu)
// ============================================================

func (e *Executor) stopped(r *run) bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (e *Executor) conditionsMet(r *run, step *Step) bool {
	vars := e.snapshotVars(r)
	for _, c := range step.Conditions {
		if !conditionHolds(vars[c.Variable], c.Operator, c.Value) {
			return false
		}
	}
	return true
}

func conditionHolds(value any, operator string, expected any) bool {
	switch operator {
	case "eq", "":
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", expected)
	case "ne":
		return fmt.Sprintf("%v", value) != fmt.Sprintf("%v", expected)
	case "exists":
		return value != nil
	}
	return false
}

func (e *Executor) snapshotVars(r *run) map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]any, len(r.exec.Variables))
	for k, v := range r.exec.Variables {
		out[k] = v
	}
	return out
}

func (e *Executor) mergeVars(r *run, stepID string, output map[string]any) {
	if len(output) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range output {
		r.exec.Variables[stepID+"."+k] = v
	}
}

func (e *Executor) setCurrentStep(r *run, stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.exec.CurrentStep = stepID
}

func (e *Executor) setStatus(r *run, status ExecutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.exec.Status == ExecutionCancelled || r.exec.Status == ExecutionCompleted {
		return
	}
	r.exec.Status = status
}

func (e *Executor) markCompleted(r *run, stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.exec.CompletedSteps = append(r.exec.CompletedSteps, stepID)
}

func (e *Executor) finish(r *run, status ExecutionStatus, message string) {
	e.mu.Lock()
	r.exec.Status = status
	r.exec.CurrentStep = ""
	r.exec.FinishedAt = time.Now().UTC()
	e.mu.Unlock()
	e.logf(r, "", message)

	e.logger.Info("execution finished",
		"execution_id", r.exec.ID.String(),
		"playbook_id", r.exec.PlaybookID,
		"status", string(status),
		"completed_steps", len(r.exec.CompletedSteps))
}

func (e *Executor) logf(r *run, stepID, format string, args ...any) {
	entry := LogEntry{
		At:      time.Now().UTC(),
		StepID:  stepID,
		Message: fmt.Sprintf(format, args...),
	}
	e.mu.Lock()
	r.exec.Logs = append(r.exec.Logs, entry)
	e.mu.Unlock()
}
