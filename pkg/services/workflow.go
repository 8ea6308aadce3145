package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ConfigValidator checks a step's config against its handler's rules.
type ConfigValidator interface {
	ValidateConfig(step *models.WorkflowStep) error
}

// Workflow handles authoring of workflows, their steps and triggers.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	configs     ConfigValidator
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(
	logger *slog.Logger,
	persistence persistence.Persistence,
	reg *registry.Registry,
	configs ConfigValidator,
) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    reg,
		configs:     configs,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

type CreateWorkflowRequest struct {
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Triggers    []TriggerRequest `json:"triggers"    validate:"dive"`
}

type UpdateWorkflowRequest struct {
	Name        *string `json:"name"        validate:"omitempty,min=3"`
	Description *string `json:"description"`
}

type ListWorkflowsRequest struct {
	ActiveOnly  bool
	TriggerType models.TriggerType
}

func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) ([]*models.Workflow, error) {
	workflows, err := w.persistence.Workflows().List(ctx, persistence.ListWorkflowsOptions{
		ActiveOnly:  req.ActiveOnly,
		TriggerType: req.TriggerType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create stores a new, inactive workflow.
func (w *Workflow) Create(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := w.validateRequest("Create", req); err != nil {
		return nil, err
	}

	now := w.now()
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Steps:       make(map[string]*models.WorkflowStep),
		StepOrder:   []string{},
		Triggers:    make([]*models.WorkflowTrigger, 0, len(req.Triggers)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, tr := range req.Triggers {
		trigger, err := w.newTrigger("Create", tr)
		if err != nil {
			return nil, err
		}

		workflow.Triggers = append(workflow.Triggers, trigger)
	}

	if err := w.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "name", workflow.Name)

	return workflow, nil
}

// Update changes the name and description of a workflow.
func (w *Workflow) Update(ctx context.Context, workflowID string, req UpdateWorkflowRequest) (*models.Workflow, error) {
	if err := w.validateRequest("Update", req); err != nil {
		return nil, err
	}

	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	return workflow, w.save(ctx, workflow)
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.FetchByID(ctx, workflowID); err != nil {
		return err
	}

	err := w.persistence.Workflows().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Activate validates the workflow graph and, when it passes, lets its
// triggers start executions.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if err := w.Validate(workflow); err != nil {
		return nil, err
	}

	workflow.IsActive = true
	if err := w.save(ctx, workflow); err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "workflow activated", "workflow_id", workflow.ID)

	return workflow, nil
}

// Deactivate stops new executions. Running executions are not affected.
func (w *Workflow) Deactivate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.IsActive = false

	return workflow, w.save(ctx, workflow)
}

// saveEdited persists a structural change. An active workflow must stay
// valid, so edits that would break it are refused.
func (w *Workflow) saveEdited(ctx context.Context, workflow *models.Workflow) error {
	if workflow.IsActive {
		if err := w.Validate(workflow); err != nil {
			return err
		}
	}

	return w.save(ctx, workflow)
}

func (w *Workflow) save(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = w.now()

	if err := w.persistence.Workflows().Save(ctx, workflow); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

func (w *Workflow) validateRequest(op string, req any) error {
	err := w.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(op, "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}

	return &ServiceError{
		Op:       op,
		Code:     "INVALID_REQUEST",
		Message:  "invalid request",
		Problems: problems,
		Err:      ErrInvalidRequest,
	}
}
