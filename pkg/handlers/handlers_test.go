package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*registry.Registry, *handlers.Handlers) {
	t.Helper()

	h := handlers.New(log.Discard(), func() time.Time { return fixedNow })
	reg := registry.NewRegistry(log.Discard())
	h.Register(reg)

	return reg, h
}

func run(t *testing.T, reg *registry.Registry, exec *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	t.Helper()

	return reg.Execute(context.Background(), step.StepType, exec, step)
}

func newExecution() *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		ContactID:  "contact-1",
		CompanyID:  "company-1",
		Context:    map[string]any{},
	}
}

func TestRegister_CoversEveryStepType(t *testing.T) {
	t.Parallel()

	reg, h := newRegistry(t)

	assert.Equal(t, models.StepTypes(), reg.Types())

	for _, st := range models.StepTypes() {
		schema, ok := h.Schema(st)
		assert.True(t, ok, st)
		assert.Equal(t, "object", schema["type"], st)
	}
}

func TestWaitDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]any
		want   time.Duration
	}{
		{"default one day", nil, 24 * time.Hour},
		{"seconds", map[string]any{"delay_seconds": 30}, 30 * time.Second},
		{"combined", map[string]any{"delay_days": 1, "delay_hours": 2, "delay_minutes": 3}, 26*time.Hour + 3*time.Minute},
		{"json numbers", map[string]any{"delay_minutes": float64(15)}, 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, _ := newRegistry(t)
			step := &models.WorkflowStep{ID: "wait", StepType: models.StepTypeWaitDelay, Config: tt.config}

			result, err := run(t, reg, newExecution(), step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Delay)
			assert.Equal(t, fixedNow.Add(tt.want).Format(time.RFC3339), result.Output["resume_at"])
		})
	}
}

func TestWaitDelay_RejectsNegative(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	step := &models.WorkflowStep{ID: "wait", StepType: models.StepTypeWaitDelay, Config: map[string]any{"delay_seconds": -1}}

	_, err := run(t, reg, newExecution(), step)
	require.ErrorIs(t, err, handlers.ErrInvalidConfig)
}

func TestWaitEvent(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	step := &models.WorkflowStep{ID: "w", StepType: models.StepTypeWaitEvent, Config: map[string]any{"event_type": "email_replied"}}
	result, err := run(t, reg, newExecution(), step)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, result.Delay)
	assert.Equal(t, "email_replied", handlers.EventType(step))

	step.Config["timeout_seconds"] = 60
	result, err = run(t, reg, newExecution(), step)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, result.Delay)

	_, err = run(t, reg, newExecution(), &models.WorkflowStep{ID: "w", StepType: models.StepTypeWaitEvent})
	require.ErrorIs(t, err, handlers.ErrInvalidConfig)
}

func TestCondition_RoutesToFirstMatch(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	step := &models.WorkflowStep{
		ID:         "cond",
		StepType:   models.StepTypeCondition,
		NextStepID: "fallback",
		Conditions: []models.StepCondition{
			{Field: "lead_score", Operator: models.OperatorGreater, Value: 50, NextStepID: "hot"},
			{Field: "lead_score", Operator: models.OperatorGreater, Value: 10, NextStepID: "warm"},
		},
	}

	exec := newExecution()
	exec.Context["lead_score"] = 80
	result, err := run(t, reg, exec, step)
	require.NoError(t, err)
	assert.True(t, result.Routed)
	assert.Equal(t, "hot", result.NextStepID)

	exec = newExecution()
	exec.Context["lead_score"] = 5
	result, err = run(t, reg, exec, step)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.NextStepID)
	assert.Equal(t, false, result.Output["matched"])
}

func TestCondition_UnknownOperatorFails(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	step := &models.WorkflowStep{
		ID:         "cond",
		StepType:   models.StepTypeCondition,
		Conditions: []models.StepCondition{{Field: "x", Operator: "matches_regex", Value: ".*"}},
	}

	exec := newExecution()
	exec.Context["x"] = "y"

	_, err := run(t, reg, exec, step)
	require.Error(t, err)
}

func TestBranch(t *testing.T) {
	t.Parallel()

	step := &models.WorkflowStep{
		ID:         "branch",
		StepType:   models.StepTypeBranch,
		NextStepID: "default",
		Config: map[string]any{
			"branches": []any{
				map[string]any{
					"name":       "enterprise",
					"match_type": "all",
					"conditions": []any{
						map[string]any{"field": "company_size", "operator": "greater_than", "value": 500},
						map[string]any{"field": "region", "operator": "equals", "value": "emea"},
					},
					"next_step_id": "enterprise-path",
				},
				map[string]any{
					"name":       "smb",
					"match_type": "any",
					"conditions": []any{
						map[string]any{"field": "company_size", "operator": "less_than", "value": 50},
						map[string]any{"field": "plan", "operator": "equals", "value": "starter"},
					},
					"next_step_id": "smb-path",
				},
			},
		},
	}

	tests := []struct {
		name    string
		context map[string]any
		want    string
	}{
		{"all match", map[string]any{"company_size": 1000, "region": "emea"}, "enterprise-path"},
		{"all partially match falls through to any", map[string]any{"company_size": 1000, "region": "us", "plan": "starter"}, "smb-path"},
		{"nothing matches", map[string]any{"company_size": 200, "plan": "pro"}, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, _ := newRegistry(t)
			exec := newExecution()
			exec.Context = tt.context

			result, err := run(t, reg, exec, step)
			require.NoError(t, err)
			assert.True(t, result.Routed)
			assert.Equal(t, tt.want, result.NextStepID)
		})
	}
}

func TestParallel_RecordsBranches(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	step := &models.WorkflowStep{
		ID:       "fan",
		StepType: models.StepTypeParallel,
		Config:   map[string]any{"branch_step_ids": []any{"a", "b"}},
	}

	result, err := run(t, reg, newExecution(), step)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.Output["branch_step_ids"])
}

func TestScoreLead_Accumulates(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	exec := newExecution()
	exec.Context["lead_score"] = float64(10)

	step := &models.WorkflowStep{ID: "score", StepType: models.StepTypeScoreLead, Config: map[string]any{"points": 15}}

	_, err := run(t, reg, exec, step)
	require.NoError(t, err)
	assert.Equal(t, 25, exec.Context[handlers.ContextLeadScore])

	step.Config["points"] = -30
	result, err := run(t, reg, exec, step)
	require.NoError(t, err)
	assert.Equal(t, -5, exec.Context[handlers.ContextLeadScore])
	assert.Equal(t, 25, result.Output["previous_score"])
}

func TestScoreLead_RequiresPoints(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	_, err := run(t, reg, newExecution(), &models.WorkflowStep{ID: "score", StepType: models.StepTypeScoreLead})
	require.ErrorIs(t, err, handlers.ErrInvalidConfig)
}

func TestAssignOwner(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	exec := newExecution()
	direct := &models.WorkflowStep{ID: "owner", StepType: models.StepTypeAssignOwner, Config: map[string]any{"owner_id": "rep-1"}}
	_, err := run(t, reg, exec, direct)
	require.NoError(t, err)
	assert.Equal(t, "rep-1", exec.Context[handlers.ContextOwnerID])

	rr := &models.WorkflowStep{
		ID:       "rr",
		StepType: models.StepTypeAssignOwner,
		Config:   map[string]any{"strategy": "round_robin", "owners": []any{"a", "b"}},
	}

	got := make([]any, 0, 3)
	for range 3 {
		e := newExecution()
		_, err := run(t, reg, e, rr)
		require.NoError(t, err)
		got = append(got, e.Context[handlers.ContextOwnerID])
	}

	assert.Equal(t, []any{"a", "b", "a"}, got)

	_, err = run(t, reg, newExecution(), &models.WorkflowStep{ID: "x", StepType: models.StepTypeAssignOwner})
	require.ErrorIs(t, err, handlers.ErrInvalidConfig)
}

func TestSequences(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	exec := newExecution()

	add := &models.WorkflowStep{ID: "add", StepType: models.StepTypeAddToSequence, Config: map[string]any{"sequence_id": "nurture"}}
	remove := &models.WorkflowStep{ID: "rm", StepType: models.StepTypeRemoveFromSequence, Config: map[string]any{"sequence_id": "nurture"}}

	result, err := run(t, reg, exec, add)
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["added"])

	result, err = run(t, reg, exec, add)
	require.NoError(t, err)
	assert.Equal(t, false, result.Output["added"])
	assert.Equal(t, []string{"nurture"}, exec.Context[handlers.ContextSequences])

	result, err = run(t, reg, exec, remove)
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["removed"])
	assert.Equal(t, []string{}, exec.Context[handlers.ContextSequences])
}

func TestSendEmail_RendersTemplates(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	exec := newExecution()
	exec.Context["trigger_event"] = map[string]any{"data": map[string]any{"first_name": "Grace"}}

	step := &models.WorkflowStep{
		ID:       "email",
		StepType: models.StepTypeSendEmail,
		Config:   map[string]any{"subject": "Welcome {{ .context.trigger_event.data.first_name }}"},
	}

	result, err := run(t, reg, exec, step)
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["email_queued"])
	assert.Equal(t, "Welcome Grace", result.Output["subject"])
	assert.Equal(t, "contact-1", result.Output["contact_id"])
}

func TestSendEmail_RequiresTemplateOrSubject(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	_, err := run(t, reg, newExecution(), &models.WorkflowStep{ID: "email", StepType: models.StepTypeSendEmail, Config: map[string]any{"body": "hi"}})
	require.ErrorIs(t, err, handlers.ErrInvalidConfig)
}

func TestRecordOnlyHandlers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		step   *models.WorkflowStep
		marker string
	}{
		{"create task", &models.WorkflowStep{ID: "t", StepType: models.StepTypeCreateTask, Config: map[string]any{"title": "Call back", "due_in_hours": 2}}, "task_created"},
		{"notification", &models.WorkflowStep{ID: "n", StepType: models.StepTypeSendNotification, Config: map[string]any{"message": "New lead"}}, "notification_sent"},
		{"webhook", &models.WorkflowStep{ID: "w", StepType: models.StepTypeWebhook, Config: map[string]any{"url": "https://example.com/hook"}}, "webhook_queued"},
		{"external update", &models.WorkflowStep{ID: "u", StepType: models.StepTypeExternalUpdate, Config: map[string]any{"entity": "contact", "fields": map[string]any{"stage": "mql"}}}, "update_requested"},
		{"end", &models.WorkflowStep{ID: "e", StepType: models.StepTypeEnd}, "ended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, _ := newRegistry(t)

			result, err := run(t, reg, newExecution(), tt.step)
			require.NoError(t, err)
			assert.Equal(t, true, result.Output[tt.marker])
		})
	}
}

func TestCreateTask_DueAtUsesClock(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	exec := newExecution()
	exec.Context[handlers.ContextOwnerID] = "rep-9"

	result, err := run(t, reg, exec, &models.WorkflowStep{ID: "t", StepType: models.StepTypeCreateTask, Config: map[string]any{"title": "Follow up", "due_in_hours": 3}})
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(3*time.Hour).Format(time.RFC3339), result.Output["due_at"])
	assert.Equal(t, "rep-9", result.Output["assignee_id"])
}

func TestWebhook_RejectsInvalidURL(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)

	_, err := run(t, reg, newExecution(), &models.WorkflowStep{ID: "w", StepType: models.StepTypeWebhook, Config: map[string]any{"url": "not a url"}})
	require.ErrorIs(t, err, handlers.ErrInvalidConfig)
}

func TestAIGenerate_StoresPlaceholder(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	exec := newExecution()

	_, err := run(t, reg, exec, &models.WorkflowStep{ID: "ai", StepType: models.StepTypeAIGenerate, Config: map[string]any{"prompt": "Draft intro for {{ .contact_id }}"}})
	require.NoError(t, err)
	assert.Equal(t, "[generated] Draft intro for contact-1", exec.Context[handlers.DefaultAIOutputKey])

	_, err = run(t, reg, exec, &models.WorkflowStep{ID: "ai2", StepType: models.StepTypeAIGenerate, Config: map[string]any{"prompt": "x", "output_key": "summary"}})
	require.NoError(t, err)
	assert.Contains(t, exec.Context, "summary")
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	_, h := newRegistry(t)

	require.NoError(t, h.ValidateConfig(&models.WorkflowStep{ID: "s", StepType: models.StepTypeScoreLead, Config: map[string]any{"points": 5}}))
	require.ErrorIs(t, h.ValidateConfig(&models.WorkflowStep{ID: "s", StepType: models.StepTypeScoreLead}), handlers.ErrInvalidConfig)
	require.ErrorIs(t, h.ValidateConfig(&models.WorkflowStep{ID: "s", StepType: "teleport"}), registry.ErrUnknownStepType)
	require.ErrorIs(t, h.ValidateConfig(&models.WorkflowStep{ID: "s", StepType: models.StepTypeSendEmail, Config: map[string]any{"subject": "x", "to": "nope"}}), handlers.ErrInvalidConfig)
}
