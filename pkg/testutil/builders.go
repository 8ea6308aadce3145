// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates an active workflow holding steps in the given
// order; the first step is the entry step.
func CreateTestWorkflow(steps []*models.WorkflowStep, overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	workflow := &models.Workflow{
		ID:        uuid.New().String(),
		Name:      "Test Workflow",
		Steps:     make(map[string]*models.WorkflowStep),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, step := range steps {
		workflow.AddStep(step)
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithTrigger appends a trigger to the workflow.
func WithTrigger(trigger *models.WorkflowTrigger) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Triggers = append(w.Triggers, trigger)
	}
}

// Inactive marks the workflow inactive.
func Inactive() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.IsActive = false
	}
}

// CreateTestStep creates a step of the given type that continues to next.
func CreateTestStep(id string, stepType models.StepType, next string, overrides ...func(*models.WorkflowStep)) *models.WorkflowStep {
	step := &models.WorkflowStep{
		ID:         id,
		Name:       "Step " + id,
		StepType:   stepType,
		Config:     map[string]any{},
		NextStepID: next,
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithConfig sets the step configuration.
func WithConfig(config map[string]any) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config = config
	}
}

// WithRetries sets how many times a failing step is retried.
func WithRetries(n int) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.RetryCount = n
	}
}

// WithFailureStep routes handler failures to stepID.
func WithFailureStep(stepID string) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.OnFailureStepID = stepID
	}
}

// WithTimeout sets the handler timeout in seconds.
func WithTimeout(seconds int) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.TimeoutSeconds = seconds
	}
}

// WithConditions sets the routing conditions of a condition step.
func WithConditions(conds ...models.StepCondition) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Conditions = conds
	}
}

// CreateTestTrigger creates a trigger of the given type.
func CreateTestTrigger(triggerType models.TriggerType, filters map[string]any) *models.WorkflowTrigger {
	return &models.WorkflowTrigger{
		ID:          uuid.New().String(),
		TriggerType: triggerType,
		Filters:     filters,
	}
}

// Clock is a settable clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	return c.now
}
