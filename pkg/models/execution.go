package models

import (
	"maps"
	"slices"
	"time"
)

// ExecutionStatus is the state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

var executionStatuses = []ExecutionStatus{
	ExecutionStatusPending,
	ExecutionStatusRunning,
	ExecutionStatusWaiting,
	ExecutionStatusPaused,
	ExecutionStatusCompleted,
	ExecutionStatusFailed,
	ExecutionStatusCancelled,
}

func (s ExecutionStatus) IsValid() bool {
	return slices.Contains(executionStatuses, s)
}

// IsTerminal reports whether no further step can run.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WaitReason records why an execution is WAITING.
type WaitReason string

const (
	WaitReasonNone  WaitReason = ""
	WaitReasonDelay WaitReason = "delay"
	WaitReasonEvent WaitReason = "event"
	WaitReasonRetry WaitReason = "retry"
)

// StepResultStatus is the outcome of a single handler invocation.
type StepResultStatus string

const (
	StepResultSuccess StepResultStatus = "success"
	StepResultError   StepResultStatus = "error"
)

// StepResult is one audit entry for a step invocation.
type StepResult struct {
	StepID    string           `json:"step_id"`
	StepType  StepType         `json:"step_type"`
	Status    StepResultStatus `json:"status"`
	Output    map[string]any   `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	Attempt   int              `json:"attempt"`
	Timestamp time.Time        `json:"timestamp"`
}

// WorkflowExecution is one run of a workflow bound to a subject.
type WorkflowExecution struct {
	ID              string                  `json:"id"`
	WorkflowID      string                  `json:"workflow_id"`
	ContactID       string                  `json:"contact_id,omitempty"`
	CompanyID       string                  `json:"company_id,omitempty"`
	CurrentStepID   string                  `json:"current_step_id,omitempty"`
	Status          ExecutionStatus         `json:"status"`
	Context         map[string]any          `json:"context"`
	StepResults     map[string][]StepResult `json:"step_results"`
	StartedAt       time.Time               `json:"started_at"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	NextExecutionAt *time.Time              `json:"next_execution_at,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	RetryCount      int                     `json:"retry_count"`
	WaitingFor      WaitReason              `json:"waiting_for,omitempty"`
	PausedFrom      ExecutionStatus         `json:"paused_from,omitempty"`
	StepsExecuted   int                     `json:"steps_executed"`
	Version         int64                   `json:"version"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// RecordResult appends an audit entry; earlier entries are never rewritten.
func (e *WorkflowExecution) RecordResult(result StepResult) {
	if e.StepResults == nil {
		e.StepResults = make(map[string][]StepResult)
	}

	e.StepResults[result.StepID] = append(e.StepResults[result.StepID], result)
}

// ResultsFor returns the audit entries of one step.
func (e *WorkflowExecution) ResultsFor(stepID string) []StepResult {
	return e.StepResults[stepID]
}

// IsDue reports whether a WAITING execution should be woken at now.
func (e *WorkflowExecution) IsDue(now time.Time) bool {
	return e.Status == ExecutionStatusWaiting && e.NextExecutionAt != nil && !e.NextExecutionAt.After(now)
}

// Clone returns a deep copy of the execution.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}

	cp := *e
	cp.Context = CopyMap(e.Context)

	if e.StepResults != nil {
		cp.StepResults = make(map[string][]StepResult, len(e.StepResults))
		for id, results := range e.StepResults {
			copied := make([]StepResult, len(results))
			for i, r := range results {
				r.Output = CopyMap(r.Output)
				copied[i] = r
			}

			cp.StepResults[id] = copied
		}
	}

	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}

	if e.NextExecutionAt != nil {
		t := *e.NextExecutionAt
		cp.NextExecutionAt = &t
	}

	return &cp
}

// MergeContext copies every key of values into the execution context.
func (e *WorkflowExecution) MergeContext(values map[string]any) {
	if e.Context == nil {
		e.Context = make(map[string]any, len(values))
	}

	maps.Copy(e.Context, CopyMap(values))
}
