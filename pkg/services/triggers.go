package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// ScheduledTriggerFilter is the filter key that ties a scheduled trigger to
// the events the scheduler emits for it.
const ScheduledTriggerFilter = "trigger_id"

type TriggerRequest struct {
	TriggerType models.TriggerType     `json:"trigger_type" validate:"required"`
	Filters     map[string]any         `json:"filters"`
	Conditions  []models.StepCondition `json:"conditions"   validate:"dive"`
	Schedule    string                 `json:"schedule"`
}

// AddTrigger attaches a trigger to the workflow.
func (w *Workflow) AddTrigger(ctx context.Context, workflowID string, req TriggerRequest) (*models.WorkflowTrigger, error) {
	if err := w.validateRequest("AddTrigger", req); err != nil {
		return nil, err
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	trigger, err := w.newTrigger("AddTrigger", req)
	if err != nil {
		return nil, err
	}

	workflow.Triggers = append(workflow.Triggers, trigger)

	if err := w.save(ctx, workflow); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (w *Workflow) RemoveTrigger(ctx context.Context, workflowID, triggerID string) error {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	before := len(workflow.Triggers)
	workflow.Triggers = slices.DeleteFunc(workflow.Triggers, func(t *models.WorkflowTrigger) bool {
		return t.ID == triggerID
	})

	if len(workflow.Triggers) == before {
		return fmt.Errorf("trigger %s: %w", triggerID, ErrTriggerNotFound)
	}

	return w.save(ctx, workflow)
}

// newTrigger validates req and builds the trigger. Scheduled triggers get a
// trigger_id filter so only the scheduler's event for them matches.
func (w *Workflow) newTrigger(op string, req TriggerRequest) (*models.WorkflowTrigger, error) {
	if !req.TriggerType.IsValid() {
		return nil, NewValidationError(op, "INVALID_TRIGGER_TYPE", fmt.Sprintf("unknown trigger type %q", req.TriggerType), ErrInvalidTrigger)
	}

	for _, cond := range req.Conditions {
		if !cond.Operator.IsValid() {
			return nil, NewValidationError(op, "UNKNOWN_OPERATOR", fmt.Sprintf("unknown operator %q", cond.Operator), ErrInvalidTrigger)
		}
	}

	trigger := &models.WorkflowTrigger{
		ID:          uuid.New().String(),
		TriggerType: req.TriggerType,
		Filters:     models.CopyMap(req.Filters),
		Conditions:  slices.Clone(req.Conditions),
	}

	if req.TriggerType == models.TriggerTypeScheduled {
		if _, err := models.ParseCron(req.Schedule); err != nil {
			return nil, NewValidationError(op, "INVALID_SCHEDULE", err.Error(), ErrInvalidTrigger)
		}

		trigger.Schedule = req.Schedule

		if trigger.Filters == nil {
			trigger.Filters = make(map[string]any, 1)
		}

		trigger.Filters[ScheduledTriggerFilter] = trigger.ID
	}

	return trigger, nil
}
