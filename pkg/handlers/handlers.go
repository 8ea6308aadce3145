// Package handlers provides the default handler of every step type. Handlers
// record the intended CRM side-effect in their output and update the execution
// context where the step implies CRM state; delivery is left to integrations.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidConfig is returned when a step config fails schema or struct validation.
var ErrInvalidConfig = errors.New("invalid step config")

// ConfigError describes why a step config was rejected.
type ConfigError struct {
	StepID   string
	StepType models.StepType
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config for %s step %s: %s", e.StepType, e.StepID, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

type Clock func() time.Time

// Handlers holds the shared dependencies of the default handlers.
type Handlers struct {
	logger   *slog.Logger
	clock    Clock
	validate *validator.Validate

	// round robin cursor per assign_owner step
	cursorsMu sync.Mutex
	cursors   map[string]int
}

func New(logger *slog.Logger, clock Clock) *Handlers {
	if clock == nil {
		clock = time.Now
	}

	return &Handlers{
		logger:   logger.With("module", "handlers"),
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cursors:  make(map[string]int),
	}
}

type definition struct {
	handler   registry.Handler
	schema    map[string]any
	newConfig func() any
}

func configOf[T any]() func() any {
	return func() any { return new(T) }
}

type emptyConfig struct{}

func (h *Handlers) definitions() map[models.StepType]definition {
	return map[models.StepType]definition{
		models.StepTypeSendEmail:          {h.sendEmail, sendEmailSchema, configOf[sendEmailConfig]()},
		models.StepTypeWaitDelay:          {h.waitDelay, waitDelaySchema, configOf[waitDelayConfig]()},
		models.StepTypeWaitEvent:          {h.waitEvent, waitEventSchema, configOf[waitEventConfig]()},
		models.StepTypeCondition:          {h.condition, emptySchema, configOf[emptyConfig]()},
		models.StepTypeExternalUpdate:     {h.externalUpdate, externalUpdateSchema, configOf[externalUpdateConfig]()},
		models.StepTypeScoreLead:          {h.scoreLead, scoreLeadSchema, configOf[scoreLeadConfig]()},
		models.StepTypeAssignOwner:        {h.assignOwner, assignOwnerSchema, configOf[assignOwnerConfig]()},
		models.StepTypeAddToSequence:      {h.addToSequence, sequenceSchema, configOf[sequenceConfig]()},
		models.StepTypeRemoveFromSequence: {h.removeFromSequence, sequenceSchema, configOf[sequenceConfig]()},
		models.StepTypeCreateTask:         {h.createTask, createTaskSchema, configOf[createTaskConfig]()},
		models.StepTypeSendNotification:   {h.sendNotification, sendNotificationSchema, configOf[sendNotificationConfig]()},
		models.StepTypeWebhook:            {h.webhook, webhookSchema, configOf[webhookConfig]()},
		models.StepTypeAIGenerate:         {h.aiGenerate, aiGenerateSchema, configOf[aiGenerateConfig]()},
		models.StepTypeBranch:             {h.branch, branchSchema, configOf[branchConfig]()},
		models.StepTypeParallel:           {h.parallel, parallelSchema, configOf[parallelConfig]()},
		models.StepTypeEnd:                {h.end, emptySchema, configOf[emptyConfig]()},
	}
}

// Register installs every default handler into reg.
func (h *Handlers) Register(reg *registry.Registry) {
	for stepType, def := range h.definitions() {
		reg.Register(stepType, def.handler)
	}
}

// Schema returns the JSON schema of a step type's config.
func (h *Handlers) Schema(stepType models.StepType) (map[string]any, bool) {
	def, ok := h.definitions()[stepType]
	if !ok {
		return nil, false
	}

	return def.schema, true
}

// ValidateConfig checks a step config without running the step.
func (h *Handlers) ValidateConfig(step *models.WorkflowStep) error {
	def, ok := h.definitions()[step.StepType]
	if !ok {
		return fmt.Errorf("%w: %q", registry.ErrUnknownStepType, step.StepType)
	}

	return h.decodeConfig(step, def.schema, def.newConfig())
}

// decodeConfig validates step.Config against schema, then decodes it into out
// and validates the typed struct.
func (h *Handlers) decodeConfig(step *models.WorkflowStep, schema map[string]any, out any) error {
	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return &ConfigError{StepID: step.ID, StepType: step.StepType, Problems: []string{err.Error()}}
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return &ConfigError{StepID: step.ID, StepType: step.StepType, Problems: problems}
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return &ConfigError{StepID: step.ID, StepType: step.StepType, Problems: []string{err.Error()}}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ConfigError{StepID: step.ID, StepType: step.StepType, Problems: []string{err.Error()}}
	}

	if err := h.validate.Struct(out); err != nil {
		return &ConfigError{StepID: step.ID, StepType: step.StepType, Problems: []string{err.Error()}}
	}

	return nil
}

func (h *Handlers) stepLogger(execution *models.WorkflowExecution, step *models.WorkflowStep) *slog.Logger {
	return h.logger.With(
		"execution_id", execution.ID,
		"step_id", step.ID,
		"step_type", step.StepType,
	)
}

var emptySchema = map[string]any{
	"type": "object",
}
