package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// SchemaSource exposes the JSON schema of a step type's config.
type SchemaSource interface {
	Schema(stepType models.StepType) (map[string]any, bool)
}

type APIHandlers struct {
	workflowService *services.Workflow
	engine          *engine.Engine
	registry        *registry.Registry
	schemas         SchemaSource
	validator       *validator.Validate

	// when set, POST /events is queued on the bus instead of processed inline
	publisher eventbus.EventPublisher
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	eng *engine.Engine,
	reg *registry.Registry,
	schemas SchemaSource,
	validator *validator.Validate,
	publisher eventbus.EventPublisher,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		engine:          eng,
		registry:        reg,
		schemas:         schemas,
		validator:       validator,
		publisher:       publisher,
	}
}

// Mount registers every route on r.
func (h *APIHandlers) Mount(r fiber.Router) {
	w := r.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)

	w.Post("/:id/steps", h.CreateStep)
	w.Get("/:id/steps/:stepId", h.GetStep)
	w.Patch("/:id/steps/:stepId", h.UpdateStep)
	w.Delete("/:id/steps/:stepId", h.DeleteStep)

	w.Post("/:id/triggers", h.CreateTrigger)
	w.Delete("/:id/triggers/:triggerId", h.DeleteTrigger)

	w.Post("/:id/executions", h.StartExecution)

	e := r.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)
	e.Post("/:id/events", h.DeliverEvent)

	r.Post("/events", h.ReceiveEvent)
	r.Post("/sweeps", h.Sweep)
	r.Get("/step-types", h.GetStepTypes)
	r.Get("/trigger-types", h.GetTriggerTypes)
	r.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "crmflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "crmflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{
		TriggerType: models.TriggerType(c.Query("trigger_type")),
	}

	if active := c.Query("active"); active != "" {
		activeOnly, err := strconv.ParseBool(active)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.ActiveOnly = activeOnly
	}

	workflows, err := h.workflowService.List(c.Context(), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req services.CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.workflowService.Create(c.Context(), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req services.UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateStep(c fiber.Ctx) error {
	var req services.StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	step, err := h.workflowService.AddStep(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(step)
}

func (h *APIHandlers) GetStep(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	step, ok := workflow.Steps[c.Params("stepId")]
	if !ok {
		return notFound(c, "step_not_found", "step not found")
	}

	return c.JSON(step)
}

func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	var req services.StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	step, err := h.workflowService.UpdateStep(c.Context(), c.Params("id"), c.Params("stepId"), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) DeleteStep(c fiber.Ctx) error {
	if err := h.workflowService.RemoveStep(c.Context(), c.Params("id"), c.Params("stepId")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req services.TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	trigger, err := h.workflowService.AddTrigger(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	if err := h.workflowService.RemoveTrigger(c.Context(), c.Params("id"), c.Params("triggerId")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.engine.StartWorkflow(c.Context(), c.Params("id"), engine.StartRequest{
		ContactID: req.ContactID,
		CompanyID: req.CompanyID,
		Context:   req.Context,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	opts, err := parseListExecutions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.engine.ListExecutions(c.Context(), opts)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": summarizeAll(executions),
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

// parseListExecutions parses and validates the filters of GET /executions.
func parseListExecutions(c fiber.Ctx) (persistence.ListExecutionsOptions, error) {
	opts := persistence.ListExecutionsOptions{
		WorkflowID: c.Query("workflow_id"),
		ContactID:  c.Query("contact_id"),
		CompanyID:  c.Query("company_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
	}

	if opts.Status != "" && !opts.Status.IsValid() {
		return opts, &invalidParamError{name: "status", value: string(opts.Status)}
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return opts, &invalidParamError{name: "limit", value: limitStr}
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return opts, &invalidParamError{name: "offset", value: offsetStr}
		}

		opts.Offset = offset
	}

	return opts, nil
}

type invalidParamError struct {
	name  string
	value string
}

func (e *invalidParamError) Error() string {
	return e.name + " has invalid value " + strconv.Quote(e.value)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.engine.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	execution, err := h.engine.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	execution, err := h.engine.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.engine.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) DeliverEvent(c fiber.Ctx) error {
	var req EventArrivedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.EventArrived(c.Context(), c.Params("id"), req.Payload)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

// ReceiveEvent accepts a trigger event from a CRM service. With a publisher it
// is queued and 202 is returned; otherwise it is matched inline and the started
// executions are returned.
func (h *APIHandlers) ReceiveEvent(c fiber.Ctx) error {
	var req TriggerEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if !req.Type.IsValid() {
		return badRequest(c, "unknown trigger type "+strconv.Quote(string(req.Type)))
	}

	event := models.TriggerEvent{Type: req.Type, Data: req.Data}

	if h.publisher != nil {
		received := events.NewTriggerReceived(event)
		contactID, _ := event.SubjectIDs()

		if err := h.publisher.Publish(c.Context(), contactID, received); err != nil {
			return internalError(c, err)
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": received.ID})
	}

	started, err := h.engine.ProcessEvent(c.Context(), event)
	if err != nil && len(started) == 0 {
		return handleError(c, err)
	}

	return c.JSON(partial(fiber.Map{"executions": summarizeAll(started)}, err))
}

func (h *APIHandlers) Sweep(c fiber.Ctx) error {
	resumed, err := h.engine.ResumeDueExecutions(c.Context(), time.Now().UTC())
	if err != nil && len(resumed) == 0 {
		return handleError(c, err)
	}

	return c.JSON(partial(fiber.Map{"resumed": summarizeAll(resumed)}, err))
}

// partial attaches the error of a batch operation that still made progress.
func partial(body fiber.Map, err error) fiber.Map {
	if err != nil {
		body["error"] = err.Error()
	}

	return body
}

func (h *APIHandlers) GetStepTypes(c fiber.Ctx) error {
	types := h.registry.Types()
	response := make([]StepTypeResponse, 0, len(types))

	for _, stepType := range types {
		item := StepTypeResponse{Type: stepType}
		if h.schemas != nil {
			item.Schema, _ = h.schemas.Schema(stepType)
		}

		response = append(response, item)
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetTriggerTypes(c fiber.Ctx) error {
	return c.JSON(models.TriggerTypes())
}
