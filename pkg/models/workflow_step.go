package models

import "slices"

// StepType determines which handler runs a step and what the engine does afterwards.
type StepType string

const (
	StepTypeSendEmail          StepType = "send_email"
	StepTypeWaitDelay          StepType = "wait_delay"
	StepTypeWaitEvent          StepType = "wait_event"
	StepTypeCondition          StepType = "condition"
	StepTypeExternalUpdate     StepType = "external_update"
	StepTypeScoreLead          StepType = "score_lead"
	StepTypeAssignOwner        StepType = "assign_owner"
	StepTypeAddToSequence      StepType = "add_to_sequence"
	StepTypeRemoveFromSequence StepType = "remove_from_sequence"
	StepTypeCreateTask         StepType = "create_task"
	StepTypeSendNotification   StepType = "send_notification"
	StepTypeWebhook            StepType = "webhook"
	StepTypeAIGenerate         StepType = "ai_generate"
	StepTypeBranch             StepType = "branch"
	StepTypeParallel           StepType = "parallel"
	StepTypeEnd                StepType = "end"
)

var stepTypes = []StepType{
	StepTypeSendEmail,
	StepTypeWaitDelay,
	StepTypeWaitEvent,
	StepTypeCondition,
	StepTypeExternalUpdate,
	StepTypeScoreLead,
	StepTypeAssignOwner,
	StepTypeAddToSequence,
	StepTypeRemoveFromSequence,
	StepTypeCreateTask,
	StepTypeSendNotification,
	StepTypeWebhook,
	StepTypeAIGenerate,
	StepTypeBranch,
	StepTypeParallel,
	StepTypeEnd,
}

// StepTypes returns every supported step type in declaration order.
func StepTypes() []StepType {
	return slices.Clone(stepTypes)
}

func (s StepType) IsValid() bool {
	return slices.Contains(stepTypes, s)
}

// IsWait reports whether the step suspends the execution.
func (s StepType) IsWait() bool {
	return s == StepTypeWaitDelay || s == StepTypeWaitEvent
}

// IsRouting reports whether the handler chooses the successor itself.
func (s StepType) IsRouting() bool {
	return s == StepTypeCondition || s == StepTypeBranch
}

// ConditionOperator is the comparison applied by a StepCondition.
type ConditionOperator string

const (
	OperatorEquals     ConditionOperator = "equals"
	OperatorNotEquals  ConditionOperator = "not_equals"
	OperatorContains   ConditionOperator = "contains"
	OperatorGreater    ConditionOperator = "greater_than"
	OperatorLess       ConditionOperator = "less_than"
	OperatorIsEmpty    ConditionOperator = "is_empty"
	OperatorIsNotEmpty ConditionOperator = "is_not_empty"
	OperatorInList     ConditionOperator = "in_list"
)

var operators = []ConditionOperator{
	OperatorEquals,
	OperatorNotEquals,
	OperatorContains,
	OperatorGreater,
	OperatorLess,
	OperatorIsEmpty,
	OperatorIsNotEmpty,
	OperatorInList,
}

func (o ConditionOperator) IsValid() bool {
	return slices.Contains(operators, o)
}

// StepCondition is one predicate of a condition step, a branch or a trigger.
type StepCondition struct {
	Field      string            `json:"field"                  validate:"required"`
	Operator   ConditionOperator `json:"operator"               validate:"required"`
	Value      any               `json:"value,omitempty"`
	NextStepID string            `json:"next_step_id,omitempty"`
}

// WorkflowStep is one node of a workflow's execution graph.
type WorkflowStep struct {
	ID              string          `json:"id"                           validate:"required"`
	Name            string          `json:"name"                         validate:"required"`
	StepType        StepType        `json:"step_type"                    validate:"required"`
	Config          map[string]any  `json:"config,omitempty"`
	NextStepID      string          `json:"next_step_id,omitempty"`
	OnSuccessStepID string          `json:"on_success_step_id,omitempty"`
	OnFailureStepID string          `json:"on_failure_step_id,omitempty"`
	Conditions      []StepCondition `json:"conditions,omitempty"         validate:"dive"`
	TimeoutSeconds  int             `json:"timeout_seconds,omitempty"    validate:"min=0"`
	RetryCount      int             `json:"retry_count,omitempty"        validate:"min=0"`
}

// SuccessorID is the step that follows a successful run of an advancing step.
func (s *WorkflowStep) SuccessorID() string {
	if s.OnSuccessStepID != "" {
		return s.OnSuccessStepID
	}

	return s.NextStepID
}

// References lists every step id this step can route to.
func (s *WorkflowStep) References() []string {
	refs := make([]string, 0, 3+len(s.Conditions))

	for _, id := range []string{s.NextStepID, s.OnSuccessStepID, s.OnFailureStepID} {
		if id != "" {
			refs = append(refs, id)
		}
	}

	for _, c := range s.Conditions {
		if c.NextStepID != "" {
			refs = append(refs, c.NextStepID)
		}
	}

	refs = append(refs, s.branchTargets()...)

	return append(refs, s.parallelTargets()...)
}

// parallelTargets reads config.branch_step_ids of a parallel step.
func (s *WorkflowStep) parallelTargets() []string {
	targets := make([]string, 0)

	switch raw := s.Config["branch_step_ids"].(type) {
	case []string:
		for _, id := range raw {
			if id != "" {
				targets = append(targets, id)
			}
		}
	case []any:
		for _, v := range raw {
			if id, ok := v.(string); ok && id != "" {
				targets = append(targets, id)
			}
		}
	}

	return targets
}

// branchTargets reads next_step_id from config.branches without full config decoding.
func (s *WorkflowStep) branchTargets() []string {
	var branches []map[string]any

	switch raw := s.Config["branches"].(type) {
	case []map[string]any:
		branches = raw
	case []any:
		for _, b := range raw {
			if m, ok := b.(map[string]any); ok {
				branches = append(branches, m)
			}
		}
	}

	targets := make([]string, 0, len(branches))

	for _, b := range branches {
		if id, ok := b["next_step_id"].(string); ok && id != "" {
			targets = append(targets, id)
		}
	}

	return targets
}

// Clone returns a deep copy of the step.
func (s *WorkflowStep) Clone() *WorkflowStep {
	if s == nil {
		return nil
	}

	cp := *s
	cp.Config = CopyMap(s.Config)
	cp.Conditions = slices.Clone(s.Conditions)

	return &cp
}
