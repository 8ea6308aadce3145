package handlers

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
)

const (
	DefaultDelay        = 24 * time.Hour
	DefaultEventTimeout = 7 * 24 * time.Hour
)

type waitDelayConfig struct {
	DelaySeconds int `json:"delay_seconds" validate:"min=0"`
	DelayMinutes int `json:"delay_minutes" validate:"min=0"`
	DelayHours   int `json:"delay_hours"   validate:"min=0"`
	DelayDays    int `json:"delay_days"    validate:"min=0"`
}

func (c waitDelayConfig) duration() time.Duration {
	d := time.Duration(c.DelaySeconds)*time.Second +
		time.Duration(c.DelayMinutes)*time.Minute +
		time.Duration(c.DelayHours)*time.Hour +
		time.Duration(c.DelayDays)*24*time.Hour
	if d <= 0 {
		return DefaultDelay
	}

	return d
}

var waitDelaySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"delay_seconds": map[string]any{"type": "integer", "minimum": 0},
		"delay_minutes": map[string]any{"type": "integer", "minimum": 0},
		"delay_hours":   map[string]any{"type": "integer", "minimum": 0},
		"delay_days":    map[string]any{"type": "integer", "minimum": 0},
	},
}

func (h *Handlers) waitDelay(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg waitDelayConfig
	if err := h.decodeConfig(step, waitDelaySchema, &cfg); err != nil {
		return nil, err
	}

	delay := cfg.duration()
	resumeAt := h.clock().Add(delay)

	h.stepLogger(execution, step).Debug("Delaying execution", "delay", delay)

	return &registry.Result{
		Output: map[string]any{
			"delay_seconds": int64(delay / time.Second),
			"resume_at":     resumeAt.UTC().Format(time.RFC3339),
		},
		Delay: delay,
	}, nil
}

type waitEventConfig struct {
	EventType      string `json:"event_type"      validate:"required"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"min=0"`
}

var waitEventSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"event_type":      map[string]any{"type": "string", "minLength": 1},
		"timeout_seconds": map[string]any{"type": "integer", "minimum": 0},
	},
	"required": []string{"event_type"},
}

// EventType returns the event a wait_event step is waiting for, or "" when the config has none.
func EventType(step *models.WorkflowStep) string {
	eventType, _ := step.Config["event_type"].(string)

	return eventType
}

func (h *Handlers) waitEvent(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg waitEventConfig
	if err := h.decodeConfig(step, waitEventSchema, &cfg); err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}

	h.stepLogger(execution, step).Debug("Waiting for event", "event_type", cfg.EventType, "timeout", timeout)

	return &registry.Result{
		Output: map[string]any{
			"event_type":      cfg.EventType,
			"timeout_seconds": int64(timeout / time.Second),
		},
		Delay: timeout,
	}, nil
}

// condition routes to the next_step_id of the first matching condition, else to step.NextStepID.
func (h *Handlers) condition(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	matched, ok, err := conditions.FirstMatch(step.Conditions, execution.Context)
	if err != nil {
		return nil, err
	}

	next := step.NextStepID
	output := map[string]any{"matched": ok}

	if ok {
		next = matched.NextStepID
		output["field"] = matched.Field
		output["operator"] = string(matched.Operator)
	}

	output["next_step_id"] = next

	return &registry.Result{Output: output, Routed: true, NextStepID: next}, nil
}

type branchSpec struct {
	Name       string                 `json:"name"         validate:"required"`
	MatchType  conditions.MatchType   `json:"match_type"   validate:"omitempty,oneof=all any"`
	Conditions []models.StepCondition `json:"conditions"   validate:"dive"`
	NextStepID string                 `json:"next_step_id"`
}

type branchConfig struct {
	Branches []branchSpec `json:"branches" validate:"dive"`
}

var branchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"branches": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":         map[string]any{"type": "string", "minLength": 1},
					"match_type":   map[string]any{"type": "string", "enum": []string{"all", "any"}},
					"conditions":   map[string]any{"type": "array"},
					"next_step_id": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
	},
}

// branch routes to the first branch whose conditions match, else to step.NextStepID.
func (h *Handlers) branch(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg branchConfig
	if err := h.decodeConfig(step, branchSchema, &cfg); err != nil {
		return nil, err
	}

	for _, b := range cfg.Branches {
		matchType := b.MatchType
		if matchType == "" {
			matchType = conditions.MatchAll
		}

		ok, err := conditions.Match(b.Conditions, matchType, execution.Context)
		if err != nil {
			return nil, err
		}

		if ok {
			return &registry.Result{
				Output: map[string]any{
					"branch":       b.Name,
					"next_step_id": b.NextStepID,
				},
				Routed:     true,
				NextStepID: b.NextStepID,
			}, nil
		}
	}

	return &registry.Result{
		Output: map[string]any{
			"branch":       "",
			"next_step_id": step.NextStepID,
		},
		Routed:     true,
		NextStepID: step.NextStepID,
	}, nil
}

type parallelConfig struct {
	BranchStepIDs []string `json:"branch_step_ids" validate:"dive,required"`
}

var parallelSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"branch_step_ids": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
	},
}

// parallel records its branches and lets the execution advance along the successor.
func (h *Handlers) parallel(_ context.Context, _ *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg parallelConfig
	if err := h.decodeConfig(step, parallelSchema, &cfg); err != nil {
		return nil, err
	}

	branches := cfg.BranchStepIDs
	if branches == nil {
		branches = []string{}
	}

	return &registry.Result{Output: map[string]any{"branch_step_ids": branches}}, nil
}

func (h *Handlers) end(_ context.Context, _ *models.WorkflowExecution, _ *models.WorkflowStep) (*registry.Result, error) {
	return &registry.Result{Output: map[string]any{"ended": true}}, nil
}
