package services

import (
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/handlers"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
)

// Validate checks that a workflow can run: it has steps and an existing entry
// step, every reference resolves, every step type has a handler with a valid
// config, operators are known and every cycle passes through a wait step.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	var problems []string

	if len(workflow.Steps) == 0 {
		problems = append(problems, "workflow has no steps")
	}

	if workflow.EntryStepID == "" {
		problems = append(problems, "workflow has no entry step")
	} else if _, ok := workflow.Step(workflow.EntryStepID); !ok && len(workflow.Steps) > 0 {
		problems = append(problems, fmt.Sprintf("entry step %s does not exist", workflow.EntryStepID))
	}

	for _, step := range workflow.OrderedSteps() {
		problems = append(problems, w.stepProblems(workflow, step)...)
	}

	for _, trigger := range workflow.Triggers {
		for _, cond := range trigger.Conditions {
			if !cond.Operator.IsValid() {
				problems = append(problems, fmt.Sprintf("trigger %s: unknown operator %q", trigger.ID, cond.Operator))
			}
		}
	}

	if cycle := waitlessCycle(workflow); cycle != nil {
		problems = append(problems, fmt.Sprintf("cycle without a wait step: %v", cycle))
	}

	if len(problems) == 0 {
		return nil
	}

	return &ServiceError{
		Op:       "Validate",
		Code:     "INVALID_WORKFLOW",
		Message:  "workflow " + workflow.ID + " is not valid",
		Problems: problems,
		Err:      ErrInvalidWorkflow,
	}
}

func (w *Workflow) stepProblems(workflow *models.Workflow, step *models.WorkflowStep) []string {
	var problems []string

	for _, ref := range step.References() {
		if _, ok := workflow.Step(ref); !ok {
			problems = append(problems, fmt.Sprintf("step %s references missing step %s", step.ID, ref))
		}
	}

	if _, ok := w.registry.Lookup(step.StepType); !ok {
		return append(problems, fmt.Sprintf("step %s: no handler for step type %q", step.ID, step.StepType))
	}

	for _, cond := range step.Conditions {
		if !cond.Operator.IsValid() {
			problems = append(problems, fmt.Sprintf("step %s: unknown operator %q", step.ID, cond.Operator))
		}
	}

	if w.configs == nil {
		return problems
	}

	err := w.configs.ValidateConfig(step)

	var cerr *handlers.ConfigError

	switch {
	case err == nil, errors.Is(err, registry.ErrUnknownStepType):
		// custom handlers carry no config schema
	case errors.As(err, &cerr):
		for _, p := range cerr.Problems {
			problems = append(problems, fmt.Sprintf("step %s: %s", step.ID, p))
		}
	default:
		problems = append(problems, fmt.Sprintf("step %s: %v", step.ID, err))
	}

	return problems
}

// waitlessCycle returns the steps of a cycle that never passes a wait step,
// or nil. Such a cycle exists iff the graph without wait steps has a cycle.
func waitlessCycle(workflow *models.Workflow) []string {
	const (
		unvisited = iota
		onPath
		done
	)

	state := make(map[string]int, len(workflow.Steps))

	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		step, ok := workflow.Step(id)
		if !ok || step.StepType.IsWait() {
			return nil
		}

		switch state[id] {
		case onPath:
			for i, p := range path {
				if p == id {
					return append(append([]string{}, path[i:]...), id)
				}
			}
		case done:
			return nil
		}

		state[id] = onPath
		path = append(path, id)

		for _, next := range step.References() {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		state[id] = done

		return nil
	}

	for _, step := range workflow.OrderedSteps() {
		if cycle := visit(step.ID); cycle != nil {
			return cycle
		}
	}

	return nil
}
