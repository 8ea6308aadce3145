package web

import (
	"errors"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// validationProblem carries the individual validation failures next to the
// problem document.
type validationProblem struct {
	*problems.DefaultProblem

	Problems []string `json:"problems,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, kind string, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(err.Error())

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps service, engine and persistence errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	var serviceErr *services.ServiceError

	switch {
	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(fiber.StatusBadRequest).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		response := validationProblem{DefaultProblem: problem}
		if errors.As(err, &serviceErr) {
			response.Problems = serviceErr.Problems
		}

		return c.Status(fiber.StatusBadRequest).JSON(response)

	case errors.Is(err, engine.ErrInvalidEvent):
		return badRequest(c, err.Error())

	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return notFound(c, "workflow_not_found", "workflow not found")

	case errors.Is(err, persistence.ErrExecutionNotFound):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, services.ErrStepNotFound), errors.Is(err, engine.ErrStepNotFound):
		return notFound(c, "step_not_found", "step not found")

	case errors.Is(err, services.ErrTriggerNotFound):
		return notFound(c, "trigger_not_found", "trigger not found")

	case engine.IsInvalidTransition(err):
		return conflict(c, "invalid_transition", err)

	case errors.Is(err, engine.ErrWorkflowInactive):
		return conflict(c, "workflow_inactive", err)

	case errors.Is(err, persistence.ErrVersionConflict):
		return conflict(c, "version_conflict", err)

	case services.IsConflictError(err):
		return conflict(c, "conflict", err)

	default:
		return internalError(c, err)
	}
}
