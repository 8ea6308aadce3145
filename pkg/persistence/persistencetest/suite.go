// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty persistence instance for one subtest.
type Factory func(t *testing.T) persistence.Persistence

var baseTime = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func newWorkflow(name string, active bool, created time.Time) *models.Workflow {
	wf := &models.Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: "test workflow",
		IsActive:    active,
		CreatedAt:   created,
		UpdatedAt:   created,
		Triggers: []*models.WorkflowTrigger{
			{ID: "t1", TriggerType: models.TriggerTypeFormSubmission, Filters: map[string]any{"form_id": "demo"}},
		},
	}
	wf.AddStep(&models.WorkflowStep{
		ID:         "welcome",
		Name:       "Welcome",
		StepType:   models.StepTypeSendEmail,
		Config:     map[string]any{"subject": "Hi"},
		NextStepID: "done",
	})
	wf.AddStep(&models.WorkflowStep{ID: "done", Name: "Done", StepType: models.StepTypeEnd})

	return wf
}

func newExecution(workflowID, contactID string, started time.Time) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		ContactID:     contactID,
		CompanyID:     "company-1",
		CurrentStepID: "welcome",
		Status:        models.ExecutionStatusRunning,
		Context:       map[string]any{"trigger_event": map[string]any{"type": "manual", "data": map[string]any{}}},
		StepResults:   map[string][]models.StepResult{},
		StartedAt:     started,
		UpdatedAt:     started,
	}
}

// Run executes the shared repository behaviour against factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("workflow save and get round trip", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		wf := newWorkflow("Demo follow up", true, baseTime)
		require.NoError(t, store.Workflows().Save(ctx, wf))

		got, err := store.Workflows().GetByID(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)
		assert.Equal(t, "welcome", got.EntryStepID)
		assert.Equal(t, []string{"welcome", "done"}, got.StepOrder)
		assert.Equal(t, "done", got.Steps["welcome"].NextStepID)
		assert.Equal(t, "Hi", got.Steps["welcome"].Config["subject"])
		require.Len(t, got.Triggers, 1)
		assert.Equal(t, "demo", got.Triggers[0].Filters["form_id"])
		assert.True(t, got.CreatedAt.Equal(baseTime))

		wf.Name = "Renamed"
		require.NoError(t, store.Workflows().Save(ctx, wf))

		got, err = store.Workflows().GetByID(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
	})

	t.Run("workflow not found", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		_, err := store.Workflows().GetByID(ctx, uuid.NewString())
		require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

		err = store.Workflows().Delete(ctx, uuid.NewString())
		require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})

	t.Run("workflow list filters and orders", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		second := newWorkflow("Second", false, baseTime.Add(time.Hour))
		first := newWorkflow("First", true, baseTime)
		require.NoError(t, store.Workflows().Save(ctx, second))
		require.NoError(t, store.Workflows().Save(ctx, first))

		all, err := store.Workflows().List(ctx, persistence.ListWorkflowsOptions{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, first.ID, all[0].ID)
		assert.Equal(t, second.ID, all[1].ID)

		active, err := store.Workflows().List(ctx, persistence.ListWorkflowsOptions{ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, first.ID, active[0].ID)

		byTrigger, err := store.Workflows().List(ctx, persistence.ListWorkflowsOptions{TriggerType: models.TriggerTypeTagAdded})
		require.NoError(t, err)
		assert.Empty(t, byTrigger)

		require.NoError(t, store.Workflows().Delete(ctx, first.ID))

		all, err = store.Workflows().List(ctx, persistence.ListWorkflowsOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("execution insert and optimistic update", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		exec := newExecution("wf-1", "contact-1", baseTime)
		require.NoError(t, store.Executions().Save(ctx, exec))
		assert.Equal(t, int64(1), exec.Version)

		loaded, err := store.Executions().GetByID(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, "manual", loaded.Context["trigger_event"].(map[string]any)["type"])

		stale := loaded.Clone()

		loaded.Status = models.ExecutionStatusCompleted
		loaded.RecordResult(models.StepResult{StepID: "welcome", StepType: models.StepTypeSendEmail, Status: models.StepResultSuccess, Attempt: 1, Timestamp: baseTime})
		require.NoError(t, store.Executions().Save(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		stale.Status = models.ExecutionStatusFailed
		err = store.Executions().Save(ctx, stale)
		require.ErrorIs(t, err, persistence.ErrVersionConflict)

		final, err := store.Executions().GetByID(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
		assert.Len(t, final.ResultsFor("welcome"), 1)
	})

	t.Run("execution duplicate insert conflicts", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		exec := newExecution("wf-1", "contact-1", baseTime)
		require.NoError(t, store.Executions().Save(ctx, exec))

		dup := exec.Clone()
		dup.Version = 0
		require.ErrorIs(t, store.Executions().Save(ctx, dup), persistence.ErrVersionConflict)
	})

	t.Run("execution not found", func(t *testing.T) {
		store := factory(t)

		_, err := store.Executions().GetByID(context.Background(), uuid.NewString())
		require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
	})

	t.Run("execution list filters and paginates", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		for i := range 5 {
			exec := newExecution("wf-a", fmt.Sprintf("contact-%d", i%2), baseTime.Add(time.Duration(i)*time.Minute))
			if i == 4 {
				exec.Status = models.ExecutionStatusCompleted
			}

			require.NoError(t, store.Executions().Save(ctx, exec))
		}

		require.NoError(t, store.Executions().Save(ctx, newExecution("wf-b", "contact-0", baseTime)))

		byWorkflow, err := store.Executions().List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf-a"})
		require.NoError(t, err)
		require.Len(t, byWorkflow, 5)
		assert.True(t, byWorkflow[0].StartedAt.Before(byWorkflow[4].StartedAt))

		byContact, err := store.Executions().List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf-a", ContactID: "contact-0"})
		require.NoError(t, err)
		assert.Len(t, byContact, 3)

		completed, err := store.Executions().List(ctx, persistence.ListExecutionsOptions{Status: models.ExecutionStatusCompleted})
		require.NoError(t, err)
		assert.Len(t, completed, 1)

		page, err := store.Executions().List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf-a", Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.True(t, page[0].StartedAt.Equal(baseTime.Add(2*time.Minute)))
	})

	t.Run("list due returns waiting executions earliest first", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		now := baseTime.Add(time.Hour)

		waiting := func(at time.Time) *models.WorkflowExecution {
			exec := newExecution("wf-1", "contact-1", baseTime)
			exec.Status = models.ExecutionStatusWaiting
			exec.WaitingFor = models.WaitReasonDelay
			exec.NextExecutionAt = &at

			return exec
		}

		late := waiting(now.Add(-time.Minute))
		early := waiting(now.Add(-time.Hour))
		future := waiting(now.Add(time.Minute))
		paused := waiting(now.Add(-time.Hour))
		paused.Status = models.ExecutionStatusPaused

		for _, e := range []*models.WorkflowExecution{late, early, future, paused} {
			require.NoError(t, store.Executions().Save(ctx, e))
		}

		due, err := store.Executions().ListDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, early.ID, due[0].ID)
		assert.Equal(t, late.ID, due[1].ID)

		limited, err := store.Executions().ListDue(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, early.ID, limited[0].ID)

		// Resuming removes it from the due set.
		early.Status = models.ExecutionStatusRunning
		early.NextExecutionAt = nil
		require.NoError(t, store.Executions().Save(ctx, early))

		due, err = store.Executions().ListDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, late.ID, due[0].ID)
	})

	t.Run("health check", func(t *testing.T) {
		store := factory(t)

		require.NoError(t, store.HealthCheck(context.Background()))
	})
}
