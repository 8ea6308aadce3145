package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// StepRequest describes a step to add or the new state of an existing one.
type StepRequest struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"               validate:"required"`
	StepType        models.StepType        `json:"step_type"          validate:"required"`
	Config          map[string]any         `json:"config"`
	NextStepID      string                 `json:"next_step_id"`
	OnSuccessStepID string                 `json:"on_success_step_id"`
	OnFailureStepID string                 `json:"on_failure_step_id"`
	Conditions      []models.StepCondition `json:"conditions"         validate:"dive"`
	TimeoutSeconds  int                    `json:"timeout_seconds"    validate:"min=0"`
	RetryCount      int                    `json:"retry_count"        validate:"min=0"`

	// AfterStepID inserts the new step after that step. The new step inherits
	// its old successor unless it names its own.
	AfterStepID string `json:"after_step_id"`
}

func (r StepRequest) apply(step *models.WorkflowStep) {
	step.Name = r.Name
	step.StepType = r.StepType
	step.Config = models.CopyMap(r.Config)
	step.NextStepID = r.NextStepID
	step.OnSuccessStepID = r.OnSuccessStepID
	step.OnFailureStepID = r.OnFailureStepID
	step.Conditions = slices.Clone(r.Conditions)
	step.TimeoutSeconds = r.TimeoutSeconds
	step.RetryCount = r.RetryCount

	if step.Config == nil {
		step.Config = map[string]any{}
	}
}

// AddStep adds a step to the workflow. The first step becomes the entry step.
func (w *Workflow) AddStep(ctx context.Context, workflowID string, req StepRequest) (*models.WorkflowStep, error) {
	if err := w.validateRequest("AddStep", req); err != nil {
		return nil, err
	}

	if err := w.checkStepType("AddStep", req.StepType); err != nil {
		return nil, err
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	step := &models.WorkflowStep{ID: req.ID}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	if _, exists := workflow.Step(step.ID); exists {
		return nil, &ServiceError{Op: "AddStep", Code: "STEP_EXISTS", Message: "step " + step.ID + " already exists", Err: ErrStepExists}
	}

	req.apply(step)

	if req.AfterStepID != "" {
		prev, ok := workflow.Step(req.AfterStepID)
		if !ok {
			return nil, fmt.Errorf("after step %s: %w", req.AfterStepID, ErrStepNotFound)
		}

		if step.NextStepID == "" && step.OnSuccessStepID == "" {
			step.NextStepID = prev.SuccessorID()
		}

		if prev.OnSuccessStepID != "" {
			prev.OnSuccessStepID = step.ID
		} else {
			prev.NextStepID = step.ID
		}
	}

	workflow.AddStep(step)

	if req.AfterStepID != "" {
		workflow.StepOrder = placeAfter(workflow.StepOrder, req.AfterStepID, step.ID)
	}

	if err := w.saveEdited(ctx, workflow); err != nil {
		return nil, err
	}

	return step, nil
}

// UpdateStep replaces the definition of an existing step. ID and AfterStepID
// of the request are ignored.
func (w *Workflow) UpdateStep(ctx context.Context, workflowID, stepID string, req StepRequest) (*models.WorkflowStep, error) {
	if err := w.validateRequest("UpdateStep", req); err != nil {
		return nil, err
	}

	if err := w.checkStepType("UpdateStep", req.StepType); err != nil {
		return nil, err
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	step, ok := workflow.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrStepNotFound)
	}

	req.apply(step)

	if err := w.saveEdited(ctx, workflow); err != nil {
		return nil, err
	}

	return step, nil
}

// RemoveStep deletes a step. Removing the entry step clears the entry.
func (w *Workflow) RemoveStep(ctx context.Context, workflowID, stepID string) error {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if !workflow.RemoveStep(stepID) {
		return fmt.Errorf("step %s: %w", stepID, ErrStepNotFound)
	}

	return w.saveEdited(ctx, workflow)
}

func (w *Workflow) checkStepType(op string, stepType models.StepType) error {
	if _, ok := w.registry.Lookup(stepType); ok {
		return nil
	}

	return NewValidationError(op, "UNKNOWN_STEP_TYPE", fmt.Sprintf("no handler for step type %q", stepType), ErrInvalidStep)
}

func placeAfter(order []string, after, id string) []string {
	order = slices.DeleteFunc(order, func(s string) bool { return s == id })

	at := slices.Index(order, after)
	if at < 0 {
		return append(order, id)
	}

	return slices.Insert(order, at+1, id)
}
