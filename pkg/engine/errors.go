package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
)

var (
	ErrWorkflowNotFound  = persistence.ErrWorkflowNotFound
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
	ErrVersionConflict   = persistence.ErrVersionConflict
	ErrUnknownStepType   = registry.ErrUnknownStepType

	ErrStepNotFound      = errors.New("step not found")
	ErrHandlerExecution  = errors.New("handler execution failed")
	ErrHandlerTimeout    = errors.New("handler timed out")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrWorkflowInactive  = errors.New("workflow is inactive")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	ErrNoEntryStep       = errors.New("workflow has no entry step")
	ErrEventTimeout      = errors.New("timed out waiting for event")
	ErrInvalidEvent      = errors.New("invalid trigger event")

	// errCallerDone marks a handler abandoned because the drain's own context
	// ended, as opposed to the step timing out.
	errCallerDone = errors.New("caller context done")
)

// HandlerError wraps a failed step invocation. It matches ErrHandlerExecution
// as well as whatever the handler returned.
type HandlerError struct {
	StepID   string
	StepType models.StepType
	Attempt  int
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("step %s (%s) attempt %d: %v", e.StepID, e.StepType, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerExecution
}

// TransitionError is returned when an operation does not apply to the
// execution's current status.
type TransitionError struct {
	Op          string
	ExecutionID string
	Status      models.ExecutionStatus
	Reason      string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: execution %s is %s", e.Op, e.ExecutionID, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func newTransitionError(op string, execution *models.WorkflowExecution, reason string) error {
	return &TransitionError{Op: op, ExecutionID: execution.ID, Status: execution.Status, Reason: reason}
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
