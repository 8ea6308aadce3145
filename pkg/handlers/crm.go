package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/template"
)

// Context keys written by CRM handlers.
const (
	ContextLeadScore = "lead_score"
	ContextOwnerID   = "owner_id"
	ContextSequences = "sequences"
)

var errNoOwners = errors.New("round_robin strategy requires owners")

type externalUpdateConfig struct {
	Entity string         `json:"entity" validate:"required,oneof=contact company deal"`
	Fields map[string]any `json:"fields" validate:"required"`
}

var externalUpdateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entity": map[string]any{"type": "string", "enum": []string{"contact", "company", "deal"}},
		"fields": map[string]any{"type": "object", "minProperties": 1},
	},
	"required": []string{"entity", "fields"},
}

func (h *Handlers) externalUpdate(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg externalUpdateConfig
	if err := h.decodeConfig(step, externalUpdateSchema, &cfg); err != nil {
		return nil, err
	}

	entityID := execution.ContactID
	if cfg.Entity == "company" {
		entityID = execution.CompanyID
	}

	return &registry.Result{Output: map[string]any{
		"update_requested": true,
		"entity":           cfg.Entity,
		"entity_id":        entityID,
		"fields":           models.CopyMap(cfg.Fields),
	}}, nil
}

type scoreLeadConfig struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

var scoreLeadSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"points": map[string]any{"type": "integer"},
		"reason": map[string]any{"type": "string"},
	},
	"required": []string{"points"},
}

// scoreLead adds points to context.lead_score. Negative points decrease it.
func (h *Handlers) scoreLead(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg scoreLeadConfig
	if err := h.decodeConfig(step, scoreLeadSchema, &cfg); err != nil {
		return nil, err
	}

	previous, err := currentScore(execution.Context[ContextLeadScore])
	if err != nil {
		return nil, err
	}

	score := previous + cfg.Points
	execution.MergeContext(map[string]any{ContextLeadScore: score})

	return &registry.Result{Output: map[string]any{
		"previous_score": previous,
		"points":         cfg.Points,
		"lead_score":     score,
		"reason":         cfg.Reason,
	}}, nil
}

func currentScore(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("context %s has non-numeric value %v", ContextLeadScore, v)
	}
}

type assignOwnerConfig struct {
	Strategy string   `json:"strategy" validate:"omitempty,oneof=direct round_robin"`
	OwnerID  string   `json:"owner_id" validate:"required_unless=Strategy round_robin"`
	Owners   []string `json:"owners"   validate:"dive,required"`
}

var assignOwnerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"strategy": map[string]any{"type": "string", "enum": []string{"direct", "round_robin"}},
		"owner_id": map[string]any{"type": "string"},
		"owners": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
	},
}

func (h *Handlers) assignOwner(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg assignOwnerConfig
	if err := h.decodeConfig(step, assignOwnerSchema, &cfg); err != nil {
		return nil, err
	}

	ownerID := cfg.OwnerID
	strategy := cfg.Strategy

	if strategy == "" {
		strategy = "direct"
	}

	if strategy == "round_robin" {
		if len(cfg.Owners) == 0 {
			return nil, errNoOwners
		}

		ownerID = cfg.Owners[h.nextCursor(execution.WorkflowID+"/"+step.ID, len(cfg.Owners))]
	}

	previous, _ := execution.Context[ContextOwnerID].(string)
	execution.MergeContext(map[string]any{ContextOwnerID: ownerID})

	return &registry.Result{Output: map[string]any{
		"owner_id":          ownerID,
		"previous_owner_id": previous,
		"strategy":          strategy,
	}}, nil
}

func (h *Handlers) nextCursor(key string, n int) int {
	h.cursorsMu.Lock()
	defer h.cursorsMu.Unlock()

	i := h.cursors[key] % n
	h.cursors[key] = i + 1

	return i
}

type sequenceConfig struct {
	SequenceID string `json:"sequence_id" validate:"required"`
}

var sequenceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"sequence_id": map[string]any{"type": "string", "minLength": 1},
	},
	"required": []string{"sequence_id"},
}

func sequences(execution *models.WorkflowExecution) []string {
	switch raw := execution.Context[ContextSequences].(type) {
	case []string:
		return slices.Clone(raw)
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return []string{}
	}
}

func (h *Handlers) addToSequence(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg sequenceConfig
	if err := h.decodeConfig(step, sequenceSchema, &cfg); err != nil {
		return nil, err
	}

	current := sequences(execution)
	added := !slices.Contains(current, cfg.SequenceID)

	if added {
		current = append(current, cfg.SequenceID)
	}

	execution.MergeContext(map[string]any{ContextSequences: current})

	return &registry.Result{Output: map[string]any{
		"sequence_id": cfg.SequenceID,
		"added":       added,
	}}, nil
}

func (h *Handlers) removeFromSequence(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg sequenceConfig
	if err := h.decodeConfig(step, sequenceSchema, &cfg); err != nil {
		return nil, err
	}

	current := sequences(execution)
	removed := slices.Contains(current, cfg.SequenceID)
	current = slices.DeleteFunc(current, func(s string) bool { return s == cfg.SequenceID })

	execution.MergeContext(map[string]any{ContextSequences: current})

	return &registry.Result{Output: map[string]any{
		"sequence_id": cfg.SequenceID,
		"removed":     removed,
	}}, nil
}

type createTaskConfig struct {
	Title       string `json:"title"        validate:"required"`
	Description string `json:"description"`
	AssigneeID  string `json:"assignee_id"`
	DueInHours  int    `json:"due_in_hours" validate:"min=0"`
}

var createTaskSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":        map[string]any{"type": "string", "minLength": 1},
		"description":  map[string]any{"type": "string"},
		"assignee_id":  map[string]any{"type": "string"},
		"due_in_hours": map[string]any{"type": "integer", "minimum": 0},
	},
	"required": []string{"title"},
}

// createTask assigns the task to assignee_id, falling back to the context owner.
func (h *Handlers) createTask(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg createTaskConfig
	if err := h.decodeConfig(step, createTaskSchema, &cfg); err != nil {
		return nil, err
	}

	title, err := template.RenderWithExecution(cfg.Title, execution)
	if err != nil {
		return nil, err
	}

	assignee := cfg.AssigneeID
	if assignee == "" {
		assignee, _ = execution.Context[ContextOwnerID].(string)
	}

	output := map[string]any{
		"task_created": true,
		"title":        title,
		"description":  cfg.Description,
		"assignee_id":  assignee,
		"contact_id":   execution.ContactID,
	}

	if cfg.DueInHours > 0 {
		output["due_at"] = h.clock().Add(time.Duration(cfg.DueInHours) * time.Hour).UTC().Format(time.RFC3339)
	}

	return &registry.Result{Output: output}, nil
}
