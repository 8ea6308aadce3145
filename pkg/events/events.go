// Package events defines the messages exchanged over the event bus: inbound
// trigger events and outbound execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	TriggersTopic  = "crmflow.triggers" // inbound CRM events
	LifecycleTopic = "crmflow.events"   // execution and step notifications
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerReceivedEvent EventType = "trigger.received"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
)

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType EventType) string {
	if eventType == TriggerReceivedEvent {
		return TriggersTopic
	}

	return LifecycleTopic
}

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// TriggerReceived carries a CRM event into the engine.
type TriggerReceived struct {
	BaseEvent

	Event models.TriggerEvent `json:"event"`
}

func (t TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

func NewTriggerReceived(event models.TriggerEvent) TriggerReceived {
	return TriggerReceived{
		BaseEvent: NewBaseEvent(TriggerReceivedEvent, ""),
		Event:     event,
	}
}

// ExecutionEvent reports a status change of an execution. Type tells which one.
type ExecutionEvent struct {
	BaseEvent

	ExecutionID     string                 `json:"execution_id"`
	ContactID       string                 `json:"contact_id,omitempty"`
	CompanyID       string                 `json:"company_id,omitempty"`
	Status          models.ExecutionStatus `json:"status"`
	CurrentStepID   string                 `json:"current_step_id,omitempty"`
	WaitingFor      models.WaitReason      `json:"waiting_for,omitempty"`
	NextExecutionAt *time.Time             `json:"next_execution_at,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

func (e ExecutionEvent) GetType() EventType {
	return e.Type
}

func NewExecutionEvent(eventType EventType, execution *models.WorkflowExecution, at time.Time) ExecutionEvent {
	base := NewBaseEvent(eventType, execution.WorkflowID)
	base.Timestamp = at.UTC()

	event := ExecutionEvent{
		BaseEvent:     base,
		ExecutionID:   execution.ID,
		ContactID:     execution.ContactID,
		CompanyID:     execution.CompanyID,
		Status:        execution.Status,
		CurrentStepID: execution.CurrentStepID,
		WaitingFor:    execution.WaitingFor,
		ErrorMessage:  execution.ErrorMessage,
	}

	if execution.NextExecutionAt != nil {
		next := *execution.NextExecutionAt
		event.NextExecutionAt = &next
	}

	return event
}

// StepEvent reports the outcome of one step invocation.
type StepEvent struct {
	BaseEvent

	ExecutionID string                  `json:"execution_id"`
	StepID      string                  `json:"step_id"`
	StepType    models.StepType         `json:"step_type"`
	Status      models.StepResultStatus `json:"status"`
	Attempt     int                     `json:"attempt"`
	Output      map[string]any          `json:"output,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

func (e StepEvent) GetType() EventType {
	return e.Type
}

func NewStepEvent(execution *models.WorkflowExecution, result models.StepResult) StepEvent {
	eventType := StepCompletedEvent
	if result.Status == models.StepResultError {
		eventType = StepFailedEvent
	}

	base := NewBaseEvent(eventType, execution.WorkflowID)
	base.Timestamp = result.Timestamp.UTC()

	return StepEvent{
		BaseEvent:   base,
		ExecutionID: execution.ID,
		StepID:      result.StepID,
		StepType:    result.StepType,
		Status:      result.Status,
		Attempt:     result.Attempt,
		Output:      models.CopyMap(result.Output),
		Error:       result.Error,
	}
}
