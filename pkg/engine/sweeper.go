package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ResumeDueExecutions wakes every WAITING execution whose next_execution_at is
// not after now and drains it. Executions are processed concurrently; one
// failing does not stop the others.
func (e *Engine) ResumeDueExecutions(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "sweeper.resume_due")
	defer span.End()

	due, err := e.executions.ListDue(ctx, now, e.sweepBatchSize)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	var (
		mu      sync.Mutex
		resumed []*models.WorkflowExecution
		errs    []error
	)

	g := new(errgroup.Group)
	g.SetLimit(e.sweepConcurrency)

	for _, candidate := range due {
		g.Go(func() error {
			execution, err := e.resumeOne(ctx, candidate.ID, now)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, fmt.Errorf("resume %s: %w", candidate.ID, err))
			} else if execution != nil {
				resumed = append(resumed, execution)
			}

			return nil
		})
	}

	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("crmflow.sweeper.due", len(due)),
		attribute.Int("crmflow.sweeper.resumed", len(resumed)),
	)

	if len(resumed) > 0 {
		e.logger.InfoContext(ctx, "resumed due executions", "count", len(resumed))
	}

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return resumed, err
	}

	return resumed, nil
}

// resumeOne re-reads the execution under its lock, so one that was cancelled,
// paused or already woken since the listing is skipped.
func (e *Engine) resumeOne(ctx context.Context, executionID string, now time.Time) (*models.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	if !execution.IsDue(now) {
		return nil, nil
	}

	wf, err := e.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return nil, err
	}

	var step *models.WorkflowStep
	if wf != nil {
		step, _ = wf.Step(execution.CurrentStepID)
	}

	reason := execution.WaitingFor
	execution.Status = models.ExecutionStatusRunning
	execution.WaitingFor = models.WaitReasonNone
	execution.NextExecutionAt = nil

	evs := []eventbus.Event{events.NewExecutionEvent(events.ExecutionResumedEvent, execution, e.clock())}

	switch reason {
	case models.WaitReasonDelay:
		if step != nil {
			execution.CurrentStepID = step.SuccessorID()
		}
	case models.WaitReasonEvent:
		if step != nil {
			evs = append(evs, e.eventTimedOut(execution, step)...)
		}
	case models.WaitReasonRetry, models.WaitReasonNone:
		// the same step runs again
	}

	if err := e.save(ctx, execution, evs); err != nil {
		return nil, err
	}

	return e.drain(ctx, execution, wf)
}

// eventTimedOut records the expired wait and takes the step's failure path.
func (e *Engine) eventTimedOut(execution *models.WorkflowExecution, step *models.WorkflowStep) []eventbus.Event {
	err := fmt.Errorf("%w: %s", ErrEventTimeout, eventTypeOf(step))

	result := models.StepResult{
		StepID:    step.ID,
		StepType:  step.StepType,
		Status:    models.StepResultError,
		Error:     err.Error(),
		Attempt:   execution.RetryCount + 1,
		Timestamp: e.clock(),
	}
	execution.RecordResult(result)

	evs := []eventbus.Event{events.NewStepEvent(execution, result)}

	if step.OnFailureStepID != "" {
		execution.ErrorMessage = err.Error()
		execution.CurrentStepID = step.OnFailureStepID

		return evs
	}

	return append(evs, e.fail(execution, err)...)
}
