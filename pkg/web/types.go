// Package web provides the REST API for authoring workflows and controlling
// executions.
package web

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// TriggerEventRequest is the body of POST /events.
type TriggerEventRequest struct {
	Type models.TriggerType `json:"type" validate:"required"`
	Data map[string]any     `json:"data"`
}

// StartExecutionRequest is the body of a manual start.
type StartExecutionRequest struct {
	ContactID string         `json:"contact_id"`
	CompanyID string         `json:"company_id"`
	Context   map[string]any `json:"context"`
}

// EventArrivedRequest carries the payload delivered to a waiting execution.
type EventArrivedRequest struct {
	Payload map[string]any `json:"payload" validate:"required"`
}

// StepTypeResponse describes a registered step type and its config schema.
type StepTypeResponse struct {
	Type   models.StepType `json:"type"`
	Schema map[string]any  `json:"schema,omitempty"`
}

// ExecutionSummary is the list view of an execution. Step results and context
// are only returned by GET /executions/:id.
type ExecutionSummary struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	ContactID       string                 `json:"contact_id,omitempty"`
	CompanyID       string                 `json:"company_id,omitempty"`
	Status          models.ExecutionStatus `json:"status"`
	CurrentStepID   string                 `json:"current_step_id,omitempty"`
	WaitingFor      models.WaitReason      `json:"waiting_for,omitempty"`
	StepsExecuted   int                    `json:"steps_executed"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	NextExecutionAt *time.Time             `json:"next_execution_at,omitempty"`
}

func summarize(execution *models.WorkflowExecution) ExecutionSummary {
	return ExecutionSummary{
		ID:              execution.ID,
		WorkflowID:      execution.WorkflowID,
		ContactID:       execution.ContactID,
		CompanyID:       execution.CompanyID,
		Status:          execution.Status,
		CurrentStepID:   execution.CurrentStepID,
		WaitingFor:      execution.WaitingFor,
		StepsExecuted:   execution.StepsExecuted,
		ErrorMessage:    execution.ErrorMessage,
		StartedAt:       execution.StartedAt,
		NextExecutionAt: execution.NextExecutionAt,
	}
}

func summarizeAll(executions []*models.WorkflowExecution) []ExecutionSummary {
	summaries := make([]ExecutionSummary, 0, len(executions))
	for _, execution := range executions {
		summaries = append(summaries, summarize(execution))
	}

	return summaries
}
