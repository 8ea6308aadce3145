package models_test

import (
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   models.ExecutionStatus
		terminal bool
	}{
		{models.ExecutionStatusPending, false},
		{models.ExecutionStatusRunning, false},
		{models.ExecutionStatusWaiting, false},
		{models.ExecutionStatusPaused, false},
		{models.ExecutionStatusCompleted, true},
		{models.ExecutionStatusFailed, true},
		{models.ExecutionStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.status.IsValid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestWorkflowExecution_RecordResultAppends(t *testing.T) {
	t.Parallel()

	exec := &models.WorkflowExecution{}
	exec.RecordResult(models.StepResult{StepID: "s1", Status: models.StepResultError, Attempt: 1})
	exec.RecordResult(models.StepResult{StepID: "s1", Status: models.StepResultSuccess, Attempt: 2})

	results := exec.ResultsFor("s1")
	assert.Len(t, results, 2)
	assert.Equal(t, models.StepResultError, results[0].Status)
	assert.Equal(t, 2, results[1].Attempt)
}

func TestWorkflowExecution_IsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, (&models.WorkflowExecution{Status: models.ExecutionStatusWaiting, NextExecutionAt: &past}).IsDue(now))
	assert.True(t, (&models.WorkflowExecution{Status: models.ExecutionStatusWaiting, NextExecutionAt: &now}).IsDue(now))
	assert.False(t, (&models.WorkflowExecution{Status: models.ExecutionStatusWaiting, NextExecutionAt: &future}).IsDue(now))
	assert.False(t, (&models.WorkflowExecution{Status: models.ExecutionStatusWaiting}).IsDue(now))
	assert.False(t, (&models.WorkflowExecution{Status: models.ExecutionStatusPaused, NextExecutionAt: &past}).IsDue(now))
}

func TestWorkflowExecution_CloneIsDeep(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exec := &models.WorkflowExecution{
		ID:              "e1",
		Context:         map[string]any{"trigger_event": map[string]any{"type": "manual"}},
		NextExecutionAt: &next,
	}
	exec.RecordResult(models.StepResult{StepID: "s1", Output: map[string]any{"ok": true}})

	cp := exec.Clone()
	cp.Context["trigger_event"].(map[string]any)["type"] = "changed"
	cp.StepResults["s1"][0].Output["ok"] = false
	*cp.NextExecutionAt = next.Add(time.Hour)
	cp.RecordResult(models.StepResult{StepID: "s1"})

	assert.Equal(t, "manual", exec.Context["trigger_event"].(map[string]any)["type"])
	assert.Equal(t, true, exec.StepResults["s1"][0].Output["ok"])
	assert.Equal(t, next, *exec.NextExecutionAt)
	assert.Len(t, exec.StepResults["s1"], 1)
}

func TestWorkflowExecution_MergeContext(t *testing.T) {
	t.Parallel()

	exec := &models.WorkflowExecution{}
	payload := map[string]any{"reply": map[string]any{"body": "yes"}}

	exec.MergeContext(payload)
	payload["reply"].(map[string]any)["body"] = "no"

	assert.Equal(t, "yes", exec.Context["reply"].(map[string]any)["body"])
}
