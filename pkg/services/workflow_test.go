package services

import (
	"context"
	"testing"

	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Workflow {
	t.Helper()

	persistence, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	reg := registry.NewRegistry(log.Discard())
	h := handlers.New(log.Discard(), nil)
	h.Register(reg)

	return NewWorkflow(log.Discard(), persistence, reg, h)
}

func createWorkflow(t *testing.T, service *Workflow) *models.Workflow {
	t.Helper()

	workflow, err := service.Create(t.Context(), CreateWorkflowRequest{Name: "Lead nurture"})
	require.NoError(t, err)

	return workflow
}

func addStep(t *testing.T, service *Workflow, workflowID string, req StepRequest) *models.WorkflowStep {
	t.Helper()

	if req.Name == "" {
		req.Name = "Step " + req.ID
	}

	step, err := service.AddStep(t.Context(), workflowID, req)
	require.NoError(t, err)

	return step
}

func scoreRequest(id, next string) StepRequest {
	return StepRequest{ID: id, StepType: models.StepTypeScoreLead, Config: map[string]any{"points": 5}, NextStepID: next}
}

func TestWorkflow_Create(t *testing.T) {
	t.Parallel()

	service := newService(t)

	created, err := service.Create(t.Context(), CreateWorkflowRequest{
		Name:        "Welcome series",
		Description: "Greets new contacts",
		Triggers: []TriggerRequest{
			{TriggerType: models.TriggerTypeContactCreated},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.IsActive)
	require.Len(t, created.Triggers, 1)
	assert.NotEmpty(t, created.Triggers[0].ID)

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome series", fetched.Name)
}

func TestWorkflow_CreateValidation(t *testing.T) {
	t.Parallel()

	service := newService(t)

	tests := []struct {
		name string
		req  CreateWorkflowRequest
	}{
		{name: "missing name", req: CreateWorkflowRequest{}},
		{name: "short name", req: CreateWorkflowRequest{Name: "ab"}},
		{name: "unknown trigger type", req: CreateWorkflowRequest{Name: "Valid", Triggers: []TriggerRequest{{TriggerType: "fax_received"}}}},
		{name: "scheduled without schedule", req: CreateWorkflowRequest{Name: "Valid", Triggers: []TriggerRequest{{TriggerType: models.TriggerTypeScheduled}}}},
		{name: "scheduled with bad cron", req: CreateWorkflowRequest{Name: "Valid", Triggers: []TriggerRequest{{TriggerType: models.TriggerTypeScheduled, Schedule: "every day"}}}},
		{
			name: "unknown trigger operator",
			req: CreateWorkflowRequest{Name: "Valid", Triggers: []TriggerRequest{{
				TriggerType: models.TriggerTypeTagAdded,
				Conditions:  []models.StepCondition{{Field: "tag", Operator: "like"}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := service.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), err.Error())
		})
	}
}

func TestWorkflow_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	service := newService(t)
	workflow := createWorkflow(t, service)

	name := "Renamed flow"
	updated, err := service.Update(t.Context(), workflow.ID, UpdateWorkflowRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Empty(t, updated.Description)

	require.NoError(t, service.Delete(t.Context(), workflow.ID))

	_, err = service.FetchByID(t.Context(), workflow.ID)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.True(t, IsNotFoundError(service.Delete(t.Context(), workflow.ID)))
}

func TestWorkflow_List(t *testing.T) {
	t.Parallel()

	service := newService(t)
	inactive := createWorkflow(t, service)
	active := createWorkflow(t, service)
	addStep(t, service, active.ID, StepRequest{ID: "done", StepType: models.StepTypeEnd})
	_, err := service.Activate(t.Context(), active.ID)
	require.NoError(t, err)

	all, err := service.List(t.Context(), ListWorkflowsRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := service.List(t.Context(), ListWorkflowsRequest{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, active.ID, onlyActive[0].ID)
	assert.NotEqual(t, inactive.ID, onlyActive[0].ID)
}

func TestWorkflow_HealthCheck(t *testing.T) {
	t.Parallel()

	message, ok := newService(t).HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	message, ok = (&Workflow{}).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer not initialized", message)
}

func TestWorkflow_Triggers(t *testing.T) {
	t.Parallel()

	service := newService(t)
	workflow := createWorkflow(t, service)

	scheduled, err := service.AddTrigger(t.Context(), workflow.ID, TriggerRequest{
		TriggerType: models.TriggerTypeScheduled,
		Schedule:    "0 9 * * 1",
	})
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1", scheduled.Schedule)
	assert.Equal(t, scheduled.ID, scheduled.Filters[ScheduledTriggerFilter])

	form, err := service.AddTrigger(t.Context(), workflow.ID, TriggerRequest{
		TriggerType: models.TriggerTypeFormSubmission,
		Filters:     map[string]any{"form_id": "f9"},
	})
	require.NoError(t, err)
	assert.Empty(t, form.Schedule)

	require.NoError(t, service.RemoveTrigger(t.Context(), workflow.ID, scheduled.ID))

	fetched, err := service.FetchByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Triggers, 1)
	assert.Equal(t, form.ID, fetched.Triggers[0].ID)

	err = service.RemoveTrigger(t.Context(), workflow.ID, scheduled.ID)
	require.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestServiceError(t *testing.T) {
	t.Parallel()

	err := &ServiceError{Op: "Validate", Message: "workflow w1 is not valid", Problems: []string{"a", "b"}, Err: ErrInvalidWorkflow}

	assert.Equal(t, "Validate: workflow w1 is not valid: a; b", err.Error())
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
	assert.True(t, IsValidationError(err))
	assert.False(t, IsConflictError(err))

	bare := NewValidationError("AddStep", "STEP_EXISTS", "", ErrStepExists)
	assert.Equal(t, "AddStep: step already exists", bare.Error())
	assert.True(t, IsConflictError(bare))
}
