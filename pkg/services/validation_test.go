package services

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_Activate(t *testing.T) {
	t.Parallel()

	service := newService(t)
	workflow := createWorkflow(t, service)
	addStep(t, service, workflow.ID, scoreRequest("a", "b"))
	addStep(t, service, workflow.ID, StepRequest{ID: "b", StepType: models.StepTypeEnd})

	activated, err := service.Activate(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	deactivated, err := service.Deactivate(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
}

func TestWorkflow_ActivateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		steps   []StepRequest
		problem string
	}{
		{
			name:    "no steps",
			problem: "workflow has no steps",
		},
		{
			name:    "dangling reference",
			steps:   []StepRequest{scoreRequest("a", "ghost")},
			problem: "step a references missing step ghost",
		},
		{
			name: "cycle without wait",
			steps: []StepRequest{
				scoreRequest("a", "b"),
				scoreRequest("b", "a"),
			},
			problem: "cycle without a wait step",
		},
		{
			name: "cycle through a condition",
			steps: []StepRequest{
				{ID: "check", StepType: models.StepTypeCondition, NextStepID: "done", Conditions: []models.StepCondition{
					{Field: "lead_score", Operator: models.OperatorLess, Value: 100, NextStepID: "bump"},
				}},
				scoreRequest("bump", "check"),
				{ID: "done", StepType: models.StepTypeEnd},
			},
			problem: "cycle without a wait step",
		},
		{
			name:    "invalid config",
			steps:   []StepRequest{{ID: "task", StepType: models.StepTypeCreateTask}},
			problem: "step task:",
		},
		{
			name: "unknown operator",
			steps: []StepRequest{{ID: "check", StepType: models.StepTypeCondition, Conditions: []models.StepCondition{
				{Field: "x", Operator: "approximately"},
			}}},
			problem: `unknown operator "approximately"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service := newService(t)
			workflow := createWorkflow(t, service)

			for _, req := range tt.steps {
				addStep(t, service, workflow.ID, req)
			}

			_, err := service.Activate(t.Context(), workflow.ID)
			require.ErrorIs(t, err, ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tt.problem)

			fetched, err := service.FetchByID(t.Context(), workflow.ID)
			require.NoError(t, err)
			assert.False(t, fetched.IsActive)
		})
	}
}

func TestWorkflow_ActivateAllowsCyclesThroughWaits(t *testing.T) {
	t.Parallel()

	service := newService(t)
	workflow := createWorkflow(t, service)
	addStep(t, service, workflow.ID, StepRequest{ID: "email", StepType: models.StepTypeSendEmail, NextStepID: "wait",
		Config: map[string]any{"template_id": "followup"}})
	addStep(t, service, workflow.ID, StepRequest{ID: "wait", StepType: models.StepTypeWaitDelay, NextStepID: "email",
		Config: map[string]any{"delay_days": 3}})

	_, err := service.Activate(t.Context(), workflow.ID)
	require.NoError(t, err)
}

func TestWaitlessCycle(t *testing.T) {
	t.Parallel()

	workflow := &models.Workflow{}
	workflow.AddStep(&models.WorkflowStep{ID: "a", StepType: models.StepTypeScoreLead, NextStepID: "b"})
	workflow.AddStep(&models.WorkflowStep{ID: "b", StepType: models.StepTypeScoreLead, NextStepID: "c"})
	workflow.AddStep(&models.WorkflowStep{ID: "c", StepType: models.StepTypeScoreLead, OnFailureStepID: "b"})

	assert.Equal(t, []string{"b", "c", "b"}, waitlessCycle(workflow))

	workflow.Steps["c"].OnFailureStepID = ""
	assert.Nil(t, waitlessCycle(workflow))
}
