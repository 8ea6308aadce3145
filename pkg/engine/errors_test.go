package engine_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/stretchr/testify/assert"
)

func TestHandlerErrorMatchesBothChains(t *testing.T) {
	t.Parallel()

	cause := &handlers.ConfigError{StepID: "task", Problems: []string{"title is required"}}
	err := fmt.Errorf("drain: %w", &engine.HandlerError{StepID: "task", StepType: "create_task", Attempt: 2, Err: cause})

	assert.ErrorIs(t, err, engine.ErrHandlerExecution)
	assert.ErrorIs(t, err, handlers.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "attempt 2")

	var herr *engine.HandlerError
	assert.True(t, errors.As(err, &herr))
	assert.Equal(t, "task", herr.StepID)
}

func TestTransitionError(t *testing.T) {
	t.Parallel()

	err := &engine.TransitionError{Op: "resume", ExecutionID: "e1", Status: "completed", Reason: "only paused executions can resume"}

	assert.True(t, engine.IsInvalidTransition(err))
	assert.False(t, errors.Is(err, engine.ErrStepNotFound))
	assert.Equal(t, "resume: execution e1 is completed: only paused executions can resume", err.Error())
}
