package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ExecuteRegisteredHandler(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.Register(models.StepTypeWaitDelay, func(_ context.Context, exec *models.WorkflowExecution, _ *models.WorkflowStep) (*registry.Result, error) {
		exec.Context["touched"] = true

		return &registry.Result{Delay: time.Minute}, nil
	})

	exec := &models.WorkflowExecution{Context: map[string]any{}}
	result, err := reg.Execute(context.Background(), models.StepTypeWaitDelay, exec, &models.WorkflowStep{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, result.Delay)
	assert.Equal(t, true, exec.Context["touched"])
}

func TestRegistry_UnknownStepType(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())

	_, err := reg.Execute(context.Background(), models.StepTypeSendEmail, &models.WorkflowExecution{}, &models.WorkflowStep{})
	require.ErrorIs(t, err, registry.ErrUnknownStepType)
}

func TestRegistry_NilResultBecomesEmpty(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())
	reg.Register(models.StepTypeEnd, func(context.Context, *models.WorkflowExecution, *models.WorkflowStep) (*registry.Result, error) {
		return nil, nil
	})

	result, err := reg.Execute(context.Background(), models.StepTypeEnd, &models.WorkflowExecution{}, &models.WorkflowStep{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Output)
}

func TestRegistry_HandlerErrorPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	reg := registry.NewRegistry(log.Discard())
	reg.Register(models.StepTypeWebhook, func(context.Context, *models.WorkflowExecution, *models.WorkflowStep) (*registry.Result, error) {
		return nil, boom
	})

	_, err := reg.Execute(context.Background(), models.StepTypeWebhook, &models.WorkflowExecution{}, &models.WorkflowStep{})
	require.ErrorIs(t, err, boom)
}

func TestRegistry_TypesAndHealth(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(log.Discard())

	_, ok := reg.HealthCheck()
	assert.False(t, ok)

	noop := func(context.Context, *models.WorkflowExecution, *models.WorkflowStep) (*registry.Result, error) {
		return nil, nil
	}
	reg.Register(models.StepTypeEnd, noop)
	reg.Register(models.StepTypeSendEmail, noop)
	reg.Register("custom_step", noop)

	assert.Equal(t, []models.StepType{models.StepTypeSendEmail, models.StepTypeEnd, "custom_step"}, reg.Types())

	msg, ok := reg.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "3 step handlers registered", msg)
}
