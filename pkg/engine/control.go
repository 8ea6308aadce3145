package engine

import (
	"context"
	"fmt"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.executions.GetByID(ctx, executionID)
}

func (e *Engine) ListExecutions(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	return e.executions.List(ctx, opts)
}

// Pause stops a PENDING, RUNNING or WAITING execution. A drain in progress is
// interrupted before its next step.
func (e *Engine) Pause(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	tok := e.requestInterrupt(executionID, interruptPause)

	unlock := e.locks.Lock(executionID)
	defer unlock()

	consumed := e.settleInterrupt(executionID, tok)

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if consumed && execution.Status == models.ExecutionStatusPaused {
		return execution, nil
	}

	switch execution.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusWaiting:
	default:
		return nil, newTransitionError("pause", execution, "")
	}

	if err := e.save(ctx, execution, e.pause(execution)); err != nil {
		return nil, err
	}

	return execution, nil
}

// Resume continues a PAUSED execution. One paused while waiting goes back to
// waiting; any other is drained right away.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusPaused {
		return nil, newTransitionError("resume", execution, "only paused executions can resume")
	}

	from := execution.PausedFrom
	execution.PausedFrom = ""

	if from == models.ExecutionStatusWaiting {
		execution.Status = models.ExecutionStatusWaiting
	} else {
		execution.Status = models.ExecutionStatusRunning
	}

	evs := []eventbus.Event{events.NewExecutionEvent(events.ExecutionResumedEvent, execution, e.clock())}
	if err := e.save(ctx, execution, evs); err != nil {
		return nil, err
	}

	if execution.Status == models.ExecutionStatusWaiting {
		return execution, nil
	}

	return e.drain(ctx, execution, nil)
}

// Cancel ends a non-terminal execution. A drain in progress stops before its
// next step.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	tok := e.requestInterrupt(executionID, interruptCancel)

	unlock := e.locks.Lock(executionID)
	defer unlock()

	consumed := e.settleInterrupt(executionID, tok)

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if consumed && execution.Status == models.ExecutionStatusCancelled {
		return execution, nil
	}

	if execution.Status.IsTerminal() {
		return nil, newTransitionError("cancel", execution, "execution already finished")
	}

	if err := e.save(ctx, execution, e.cancel(execution)); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution cancelled", "execution_id", execution.ID)

	return execution, nil
}

// EventArrived wakes an execution parked on a wait_event step. The payload is
// merged into the context and the execution moves past the wait step.
func (e *Engine) EventArrived(ctx context.Context, executionID string, payload map[string]any) (*models.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusWaiting || execution.WaitingFor != models.WaitReasonEvent {
		return nil, newTransitionError("event", execution, "execution is not waiting for an event")
	}

	wf, err := e.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return nil, err
	}

	execution.Status = models.ExecutionStatusRunning
	execution.WaitingFor = models.WaitReasonNone
	execution.NextExecutionAt = nil
	execution.MergeContext(payload)

	evs := []eventbus.Event{events.NewExecutionEvent(events.ExecutionResumedEvent, execution, e.clock())}

	if wf != nil {
		if step, ok := wf.Step(execution.CurrentStepID); ok {
			result := models.StepResult{
				StepID:    step.ID,
				StepType:  step.StepType,
				Status:    models.StepResultSuccess,
				Output:    map[string]any{"event_received": true, "event_type": eventTypeOf(step)},
				Attempt:   execution.RetryCount + 1,
				Timestamp: e.clock(),
			}
			execution.RecordResult(result)
			execution.CurrentStepID = step.SuccessorID()
			evs = append(evs, events.NewStepEvent(execution, result))
		}
	}

	if err := e.save(ctx, execution, evs); err != nil {
		return nil, err
	}

	return e.drain(ctx, execution, wf)
}

func eventTypeOf(step *models.WorkflowStep) string {
	if eventType := handlers.EventType(step); eventType != "" {
		return eventType
	}

	return fmt.Sprintf("step %s", step.ID)
}
