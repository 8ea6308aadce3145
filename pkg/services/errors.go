// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidStep     = errors.New("invalid step")
	ErrInvalidTrigger  = errors.New("invalid trigger")
	ErrInvalidWorkflow = errors.New("workflow is not valid for activation")

	// Not Found Errors (404 Not Found).
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrStepNotFound     = errors.New("step not found")
	ErrTriggerNotFound  = errors.New("trigger not found")

	// Business Logic Conflicts (409 Conflict).
	ErrStepExists = errors.New("step already exists")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op       string   // Operation name
	Code     string   // Error code for API responses
	Message  string   // Human-readable message
	Problems []string // Individual validation failures, if any
	Err      error    // Underlying error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}

	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStep) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidWorkflow)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrTriggerNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrStepExists)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
