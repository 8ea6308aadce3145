package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
)

// ExecuteNextStep drains a PENDING or RUNNING execution until it waits, ends
// or is interrupted.
func (e *Engine) ExecuteNextStep(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	switch execution.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning:
	default:
		return nil, newTransitionError("execute", execution, "only pending or running executions can advance")
	}

	if execution.CurrentStepID == "" {
		return nil, newTransitionError("execute", execution, "no current step")
	}

	execution.Status = models.ExecutionStatusRunning

	return e.drain(ctx, execution, nil)
}

// drain runs steps while the execution is RUNNING, saving after every
// transition. The caller holds the execution lock. wf may be nil, in which
// case it is loaded.
func (e *Engine) drain(ctx context.Context, execution *models.WorkflowExecution, wf *models.Workflow) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.drain",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
	)
	defer span.End()

	if wf == nil {
		loaded, err := e.workflows.GetByID(ctx, execution.WorkflowID)
		if err != nil && !persistence.IsWorkflowNotFound(err) {
			otelhelper.SetError(span, err)

			return execution, err
		}

		wf = loaded
	}

	steps := 0

	// state reached by a step is persisted even when the caller has gone away
	saveCtx := context.WithoutCancel(ctx)

	for execution.Status == models.ExecutionStatusRunning {
		evs := e.advance(ctx, wf, execution, &steps)

		if err := e.save(saveCtx, execution, evs); err != nil {
			otelhelper.SetError(span, err)

			return execution, err
		}
	}

	span.SetAttributes(attribute.Int("crmflow.drain.steps", steps))

	return execution, nil
}

// advance performs exactly one transition of a RUNNING execution.
func (e *Engine) advance(ctx context.Context, wf *models.Workflow, execution *models.WorkflowExecution, steps *int) []eventbus.Event {
	if kind, ok := e.takeInterrupt(execution.ID); ok {
		return e.applyInterrupt(execution, kind)
	}

	if wf == nil {
		return e.fail(execution, persistence.NewWorkflowError("drain", execution.WorkflowID, ErrWorkflowNotFound))
	}

	if execution.CurrentStepID == "" {
		return e.complete(execution)
	}

	if ctx.Err() != nil {
		return e.park(execution, e.clock())
	}

	if *steps >= e.maxStepsPerDrain {
		return e.fail(execution, fmt.Errorf("%w: %d steps without waiting", ErrStepLimitExceeded, *steps))
	}

	step, ok := wf.Step(execution.CurrentStepID)
	if !ok {
		return e.fail(execution, fmt.Errorf("%w: %s", ErrStepNotFound, execution.CurrentStepID))
	}

	*steps++

	return e.runStep(ctx, execution, step)
}

func (e *Engine) runStep(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) []eventbus.Event {
	attempt := execution.RetryCount + 1

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.StepType)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	// handlers work on a copy so a timed out or failing handler leaves no trace
	working := execution.Clone()

	result, err := e.invoke(ctx, working, step)
	now := e.clock()

	if errors.Is(err, errCallerDone) {
		e.logger.InfoContext(ctx, "step interrupted, parking execution",
			"execution_id", execution.ID, "step_id", step.ID, "error", err)

		return e.park(execution, now)
	}

	execution.StepsExecuted++

	if err != nil {
		herr := &HandlerError{StepID: step.ID, StepType: step.StepType, Attempt: attempt, Err: err}
		otelhelper.SetError(span, herr)

		stepResult := models.StepResult{
			StepID:    step.ID,
			StepType:  step.StepType,
			Status:    models.StepResultError,
			Error:     err.Error(),
			Attempt:   attempt,
			Timestamp: now,
		}
		execution.RecordResult(stepResult)

		e.logger.WarnContext(ctx, "step failed",
			"execution_id", execution.ID, "step_id", step.ID, "step_type", step.StepType,
			"attempt", attempt, "error", err)

		evs := []eventbus.Event{events.NewStepEvent(execution, stepResult)}

		return append(evs, e.handleFailure(execution, step, herr, now)...)
	}

	execution.Context = working.Context

	stepResult := models.StepResult{
		StepID:    step.ID,
		StepType:  step.StepType,
		Status:    models.StepResultSuccess,
		Output:    result.Output,
		Attempt:   attempt,
		Timestamp: now,
	}
	execution.RecordResult(stepResult)
	execution.RetryCount = 0
	execution.ErrorMessage = ""

	e.logger.DebugContext(ctx, "step completed",
		"execution_id", execution.ID, "step_id", step.ID, "step_type", step.StepType)

	evs := []eventbus.Event{events.NewStepEvent(execution, stepResult)}

	switch {
	case step.StepType == models.StepTypeEnd:
		return append(evs, e.complete(execution)...)
	case step.StepType == models.StepTypeWaitDelay:
		return append(evs, e.wait(execution, models.WaitReasonDelay, now.Add(result.Delay))...)
	case step.StepType == models.StepTypeWaitEvent:
		return append(evs, e.wait(execution, models.WaitReasonEvent, now.Add(result.Delay))...)
	case result.Routed:
		execution.CurrentStepID = result.NextStepID
	default:
		execution.CurrentStepID = step.SuccessorID()
	}

	return evs
}

type outcome struct {
	result *registry.Result
	err    error
}

// invoke calls the step handler, enforcing the step timeout and turning panics
// into errors.
func (e *Engine) invoke(ctx context.Context, working *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	parent := ctx

	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()

		result, err := e.registry.Execute(ctx, step.StepType, working, step)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if ctx.Err() == nil {
			return o.result, o.err
		}
	case <-ctx.Done():
	}

	if parent.Err() != nil {
		return nil, fmt.Errorf("%w: %w", errCallerDone, parent.Err())
	}

	return nil, fmt.Errorf("%w after %ds", ErrHandlerTimeout, step.TimeoutSeconds)
}

// park leaves an execution whose caller went away due for the next sweep,
// without spending a retry.
func (e *Engine) park(execution *models.WorkflowExecution, now time.Time) []eventbus.Event {
	return e.wait(execution, models.WaitReasonRetry, now)
}

// handleFailure schedules a retry, follows on_failure_step_id or fails the
// execution, in that order.
func (e *Engine) handleFailure(
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
	herr *HandlerError,
	now time.Time,
) []eventbus.Event {
	if errors.Is(herr, ErrUnknownStepType) {
		return e.fail(execution, herr)
	}

	execution.RetryCount++
	execution.ErrorMessage = herr.Error()

	if execution.RetryCount <= step.RetryCount {
		backoff := e.retryBackoff * time.Duration(execution.RetryCount)

		return e.wait(execution, models.WaitReasonRetry, now.Add(backoff))
	}

	if step.OnFailureStepID != "" {
		execution.RetryCount = 0
		execution.CurrentStepID = step.OnFailureStepID

		return nil
	}

	return e.fail(execution, herr)
}

func (e *Engine) wait(execution *models.WorkflowExecution, reason models.WaitReason, until time.Time) []eventbus.Event {
	execution.Status = models.ExecutionStatusWaiting
	execution.WaitingFor = reason
	execution.NextExecutionAt = &until

	return []eventbus.Event{events.NewExecutionEvent(events.ExecutionWaitingEvent, execution, e.clock())}
}

func (e *Engine) complete(execution *models.WorkflowExecution) []eventbus.Event {
	return e.finish(execution, models.ExecutionStatusCompleted, events.ExecutionCompletedEvent)
}

func (e *Engine) fail(execution *models.WorkflowExecution, err error) []eventbus.Event {
	execution.ErrorMessage = err.Error()

	e.logger.Warn("execution failed", "execution_id", execution.ID, "workflow_id", execution.WorkflowID, "error", err)

	return e.finish(execution, models.ExecutionStatusFailed, events.ExecutionFailedEvent)
}

func (e *Engine) cancel(execution *models.WorkflowExecution) []eventbus.Event {
	return e.finish(execution, models.ExecutionStatusCancelled, events.ExecutionCancelledEvent)
}

func (e *Engine) finish(execution *models.WorkflowExecution, status models.ExecutionStatus, eventType events.EventType) []eventbus.Event {
	now := e.clock()

	execution.Status = status
	execution.CompletedAt = &now
	execution.NextExecutionAt = nil
	execution.WaitingFor = models.WaitReasonNone
	execution.PausedFrom = ""

	return []eventbus.Event{events.NewExecutionEvent(eventType, execution, now)}
}

func (e *Engine) pause(execution *models.WorkflowExecution) []eventbus.Event {
	execution.PausedFrom = execution.Status
	execution.Status = models.ExecutionStatusPaused

	return []eventbus.Event{events.NewExecutionEvent(events.ExecutionPausedEvent, execution, e.clock())}
}

func (e *Engine) applyInterrupt(execution *models.WorkflowExecution, kind interruptKind) []eventbus.Event {
	if kind == interruptCancel {
		return e.cancel(execution)
	}

	return e.pause(execution)
}
