package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ContextTriggerEvent  = "trigger_event"
	ContextReceivedEvent = "received_event"
)

// MatchTrigger reports whether event fires trigger: the types must be equal,
// every filter key must be present in the event data with an equal value and
// all trigger conditions must hold.
func MatchTrigger(trigger *models.WorkflowTrigger, event models.TriggerEvent) (bool, error) {
	if trigger.TriggerType != event.Type {
		return false, nil
	}

	for key, want := range trigger.Filters {
		got, ok := event.Data[key]
		if !ok || !conditions.Equal(got, want) {
			return false, nil
		}
	}

	return conditions.Match(trigger.Conditions, conditions.MatchAll, event.Data)
}

// ProcessEvent starts one execution per matching trigger of every active
// workflow and returns them. The event is also delivered to executions of the
// same subject that were already waiting for it when it arrived.
func (e *Engine) ProcessEvent(ctx context.Context, event models.TriggerEvent) ([]*models.WorkflowExecution, error) {
	if !event.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "trigger.process",
		attribute.String(otelhelper.TriggerTypeKey, string(event.Type)))
	defer span.End()

	workflows, err := e.workflows.List(ctx, persistence.ListWorkflowsOptions{ActiveOnly: true, TriggerType: event.Type})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	contactID, companyID := event.SubjectIDs()
	started := make([]*models.WorkflowExecution, 0)

	var errs []error

	// executions started below must not be woken by their own trigger
	waiters, err := e.waitersFor(ctx, event, contactID, companyID)
	if err != nil {
		errs = append(errs, err)
	}

	for _, wf := range workflows {
		for _, trigger := range wf.Triggers {
			matched, err := MatchTrigger(trigger, event)
			if err != nil {
				errs = append(errs, fmt.Errorf("workflow %s trigger %s: %w", wf.ID, trigger.ID, err))

				continue
			}

			if !matched {
				continue
			}

			execution, err := e.start(ctx, wf, contactID, companyID, map[string]any{
				ContextTriggerEvent: event.AsMap(),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))

				continue
			}

			started = append(started, execution)
		}
	}

	if err := e.deliver(ctx, event, waiters); err != nil {
		errs = append(errs, err)
	}

	span.SetAttributes(attribute.Int("crmflow.trigger.started", len(started)))

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return started, err
	}

	return started, nil
}

// StartRequest carries the subject and initial context of a manual start.
type StartRequest struct {
	ContactID string         `json:"contact_id"`
	CompanyID string         `json:"company_id"`
	Context   map[string]any `json:"context"`
}

// StartWorkflow starts an active workflow by hand. The context is seeded with
// a manual trigger event carrying the subject ids.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, req StartRequest) (*models.WorkflowExecution, error) {
	wf, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !wf.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowInactive, workflowID)
	}

	seed := models.CopyMap(req.Context)
	if seed == nil {
		seed = make(map[string]any)
	}

	data := map[string]any{}
	if req.ContactID != "" {
		data["contact_id"] = req.ContactID
	}

	if req.CompanyID != "" {
		data["company_id"] = req.CompanyID
	}

	seed[ContextTriggerEvent] = models.TriggerEvent{Type: models.TriggerTypeManual, Data: data}.AsMap()

	return e.start(ctx, wf, req.ContactID, req.CompanyID, seed)
}

func (e *Engine) start(
	ctx context.Context,
	wf *models.Workflow,
	contactID, companyID string,
	seed map[string]any,
) (*models.WorkflowExecution, error) {
	if wf.EntryStepID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryStep, wf.ID)
	}

	now := e.clock()
	execution := &models.WorkflowExecution{
		ID:            e.newID(),
		WorkflowID:    wf.ID,
		ContactID:     contactID,
		CompanyID:     companyID,
		CurrentStepID: wf.EntryStepID,
		Status:        models.ExecutionStatusPending,
		Context:       seed,
		StepResults:   make(map[string][]models.StepResult),
		StartedAt:     now,
	}

	unlock := e.locks.Lock(execution.ID)
	defer unlock()

	err := e.save(ctx, execution, []eventbus.Event{
		events.NewExecutionEvent(events.ExecutionStartedEvent, execution, now),
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution started",
		"execution_id", execution.ID, "workflow_id", wf.ID, "contact_id", contactID)

	execution.Status = models.ExecutionStatusRunning

	return e.drain(ctx, execution, wf)
}

// waitersFor lists the executions parked on a wait_event step for this event
// type. They are keyed on the contact, or on the company for events that name
// no contact.
func (e *Engine) waitersFor(ctx context.Context, event models.TriggerEvent, contactID, companyID string) ([]string, error) {
	opts := persistence.ListExecutionsOptions{
		Status: models.ExecutionStatusWaiting,
		Limit:  persistence.MaxListLimit,
	}

	switch {
	case contactID != "":
		opts.ContactID = contactID
	case companyID != "":
		opts.CompanyID = companyID
	default:
		return nil, nil
	}

	waiting, err := e.executions.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list waiting executions: %w", err)
	}

	ids := make([]string, 0, len(waiting))

	for _, execution := range waiting {
		if execution.WaitingFor != models.WaitReasonEvent {
			continue
		}

		wf, err := e.workflows.GetByID(ctx, execution.WorkflowID)
		if err != nil {
			continue
		}

		step, ok := wf.Step(execution.CurrentStepID)
		if !ok || step.StepType != models.StepTypeWaitEvent || handlers.EventType(step) != string(event.Type) {
			continue
		}

		ids = append(ids, execution.ID)
	}

	return ids, nil
}

func (e *Engine) deliver(ctx context.Context, event models.TriggerEvent, executionIDs []string) error {
	var errs []error

	for _, id := range executionIDs {
		_, err := e.EventArrived(ctx, id, map[string]any{ContextReceivedEvent: event.AsMap()})
		if err != nil && !IsInvalidTransition(err) {
			errs = append(errs, fmt.Errorf("deliver to execution %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}
