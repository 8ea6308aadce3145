// Package models defines the workflow automation domain: workflows, steps, triggers and executions.
package models

import (
	"slices"
	"time"
)

// Workflow is a reusable definition of a multi-step automated process plus the triggers that start it.
type Workflow struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"                    validate:"required,min=3"`
	Description string                   `json:"description"`
	Steps       map[string]*WorkflowStep `json:"steps"`
	StepOrder   []string                 `json:"step_order"`
	Triggers    []*WorkflowTrigger       `json:"triggers"                validate:"dive"`
	EntryStepID string                   `json:"entry_step_id,omitempty"`
	IsActive    bool                     `json:"is_active"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Step looks up a step by id.
func (w *Workflow) Step(id string) (*WorkflowStep, bool) {
	if w == nil || id == "" {
		return nil, false
	}

	step, ok := w.Steps[id]

	return step, ok && step != nil
}

// OrderedSteps returns steps in the order they were appended. Steps missing
// from StepOrder are appended afterwards sorted by id.
func (w *Workflow) OrderedSteps() []*WorkflowStep {
	ordered := make([]*WorkflowStep, 0, len(w.Steps))
	seen := make(map[string]bool, len(w.Steps))

	for _, id := range w.StepOrder {
		if step, ok := w.Step(id); ok && !seen[id] {
			ordered = append(ordered, step)
			seen[id] = true
		}
	}

	rest := make([]string, 0)

	for id := range w.Steps {
		if !seen[id] {
			rest = append(rest, id)
		}
	}

	slices.Sort(rest)

	for _, id := range rest {
		if step, ok := w.Step(id); ok {
			ordered = append(ordered, step)
		}
	}

	return ordered
}

// AddStep stores the step and records its position.
func (w *Workflow) AddStep(step *WorkflowStep) {
	if w.Steps == nil {
		w.Steps = make(map[string]*WorkflowStep)
	}

	if _, exists := w.Steps[step.ID]; !exists {
		w.StepOrder = append(w.StepOrder, step.ID)
	}

	w.Steps[step.ID] = step

	if w.EntryStepID == "" {
		w.EntryStepID = step.ID
	}
}

// RemoveStep deletes the step. Removing the entry step clears the entry.
func (w *Workflow) RemoveStep(id string) bool {
	if _, ok := w.Steps[id]; !ok {
		return false
	}

	delete(w.Steps, id)
	w.StepOrder = slices.DeleteFunc(w.StepOrder, func(s string) bool { return s == id })

	if w.EntryStepID == id {
		w.EntryStepID = ""
	}

	return true
}

// Trigger looks up a trigger by id.
func (w *Workflow) Trigger(id string) (*WorkflowTrigger, bool) {
	for _, t := range w.Triggers {
		if t != nil && t.ID == id {
			return t, true
		}
	}

	return nil, false
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	cp := *w
	cp.StepOrder = slices.Clone(w.StepOrder)

	if w.Steps != nil {
		cp.Steps = make(map[string]*WorkflowStep, len(w.Steps))
		for id, step := range w.Steps {
			cp.Steps[id] = step.Clone()
		}
	}

	if w.Triggers != nil {
		cp.Triggers = make([]*WorkflowTrigger, 0, len(w.Triggers))
		for _, t := range w.Triggers {
			if t == nil {
				continue
			}

			tc := *t
			tc.Filters = CopyMap(t.Filters)
			tc.Conditions = slices.Clone(t.Conditions)
			cp.Triggers = append(cp.Triggers, &tc)
		}
	}

	return &cp
}
