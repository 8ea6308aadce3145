// Package registry maps step types to the handlers that execute them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// ErrUnknownStepType is returned when no handler is registered for a step type.
var ErrUnknownStepType = errors.New("unknown step type")

// Result is what a handler hands back to the engine.
type Result struct {
	// Output is recorded in the execution's step results.
	Output map[string]any

	// Delay is how long a wait step suspends the execution.
	Delay time.Duration

	// Routed is set by condition and branch steps. NextStepID is then the
	// step to continue with, empty meaning the workflow ends.
	Routed     bool
	NextStepID string
}

// Handler performs the effect of one step. It may mutate execution.Context.
type Handler func(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*Result, error)

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.StepType]Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "registry"),
		handlers: make(map[models.StepType]Handler),
	}
}

// Register installs or replaces the handler of a step type.
func (r *Registry) Register(stepType models.StepType, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, replaced := r.handlers[stepType]; replaced {
		r.logger.Debug("Replacing step handler", "step_type", stepType)
	}

	r.handlers[stepType] = handler
}

func (r *Registry) Lookup(stepType models.StepType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stepType]

	return handler, ok
}

// Execute runs the handler registered for stepType.
func (r *Registry) Execute(
	ctx context.Context,
	stepType models.StepType,
	execution *models.WorkflowExecution,
	step *models.WorkflowStep,
) (*Result, error) {
	handler, ok := r.Lookup(stepType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}

	result, err := handler(ctx, execution, step)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = &Result{}
	}

	return result, nil
}

// Types lists registered step types, known types first in declaration order.
func (r *Registry) Types() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.handlers))

	for _, t := range models.StepTypes() {
		if _, ok := r.handlers[t]; ok {
			types = append(types, t)
		}
	}

	extra := make([]models.StepType, 0)

	for t := range r.handlers {
		if !t.IsValid() {
			extra = append(extra, t)
		}
	}

	slices.Sort(extra)

	return append(types, extra...)
}

// HealthCheck reports whether any handler is registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.handlers) == 0 {
		return "No step handlers registered", false
	}

	return fmt.Sprintf("%d step handlers registered", len(r.handlers)), true
}
