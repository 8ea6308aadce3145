package handlers

import (
	"context"
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/template"
)

const DefaultAIOutputKey = "ai_output"

type sendEmailConfig struct {
	TemplateID string `json:"template_id" validate:"required_without=Subject"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	From       string `json:"from"        validate:"omitempty,email"`
	To         string `json:"to"          validate:"omitempty,email"`
}

var sendEmailSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"template_id": map[string]any{"type": "string"},
		"subject":     map[string]any{"type": "string"},
		"body":        map[string]any{"type": "string"},
		"from":        map[string]any{"type": "string"},
		"to":          map[string]any{"type": "string"},
	},
	"anyOf": []any{
		map[string]any{"required": []string{"template_id"}},
		map[string]any{"required": []string{"subject"}},
	},
}

func (h *Handlers) sendEmail(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg sendEmailConfig
	if err := h.decodeConfig(step, sendEmailSchema, &cfg); err != nil {
		return nil, err
	}

	subject, err := template.RenderWithExecution(cfg.Subject, execution)
	if err != nil {
		return nil, err
	}

	body, err := template.RenderWithExecution(cfg.Body, execution)
	if err != nil {
		return nil, err
	}

	h.stepLogger(execution, step).Info("Email queued", "contact_id", execution.ContactID, "template_id", cfg.TemplateID)

	return &registry.Result{Output: map[string]any{
		"email_queued": true,
		"contact_id":   execution.ContactID,
		"to":           cfg.To,
		"from":         cfg.From,
		"template_id":  cfg.TemplateID,
		"subject":      subject,
		"body":         body,
	}}, nil
}

type sendNotificationConfig struct {
	Channel     string `json:"channel"      validate:"omitempty,oneof=in_app email slack sms"`
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"      validate:"required"`
}

var sendNotificationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"channel":      map[string]any{"type": "string", "enum": []string{"in_app", "email", "slack", "sms"}},
		"recipient_id": map[string]any{"type": "string"},
		"message":      map[string]any{"type": "string", "minLength": 1},
	},
	"required": []string{"message"},
}

// sendNotification notifies recipient_id, falling back to the context owner.
func (h *Handlers) sendNotification(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg sendNotificationConfig
	if err := h.decodeConfig(step, sendNotificationSchema, &cfg); err != nil {
		return nil, err
	}

	message, err := template.RenderWithExecution(cfg.Message, execution)
	if err != nil {
		return nil, err
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "in_app"
	}

	recipient := cfg.RecipientID
	if recipient == "" {
		recipient, _ = execution.Context[ContextOwnerID].(string)
	}

	return &registry.Result{Output: map[string]any{
		"notification_sent": true,
		"channel":           channel,
		"recipient_id":      recipient,
		"message":           message,
	}}, nil
}

type webhookConfig struct {
	URL     string            `json:"url"     validate:"required,url"`
	Method  string            `json:"method"  validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers"`
	Body    map[string]any    `json:"body"`
}

var webhookSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"url":     map[string]any{"type": "string", "minLength": 1},
		"method":  map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
		"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
		"body":    map[string]any{"type": "object"},
	},
	"required": []string{"url"},
}

func (h *Handlers) webhook(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg webhookConfig
	if err := h.decodeConfig(step, webhookSchema, &cfg); err != nil {
		return nil, err
	}

	method := cfg.Method
	if method == "" {
		method = "POST"
	}

	body := cfg.Body
	if body == nil {
		body = map[string]any{
			"execution_id": execution.ID,
			"workflow_id":  execution.WorkflowID,
			"contact_id":   execution.ContactID,
			"company_id":   execution.CompanyID,
		}
	}

	return &registry.Result{Output: map[string]any{
		"webhook_queued": true,
		"url":            cfg.URL,
		"method":         method,
		"body":           body,
	}}, nil
}

type aiGenerateConfig struct {
	Prompt    string `json:"prompt"     validate:"required"`
	OutputKey string `json:"output_key"`
	Model     string `json:"model"`
}

var aiGenerateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompt":     map[string]any{"type": "string", "minLength": 1},
		"output_key": map[string]any{"type": "string", "minLength": 1},
		"model":      map[string]any{"type": "string"},
	},
	"required": []string{"prompt"},
}

// aiGenerate stores a placeholder under output_key so later steps can reference the generated content.
func (h *Handlers) aiGenerate(_ context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (*registry.Result, error) {
	var cfg aiGenerateConfig
	if err := h.decodeConfig(step, aiGenerateSchema, &cfg); err != nil {
		return nil, err
	}

	prompt, err := template.RenderWithExecution(cfg.Prompt, execution)
	if err != nil {
		return nil, err
	}

	key := cfg.OutputKey
	if key == "" {
		key = DefaultAIOutputKey
	}

	placeholder := fmt.Sprintf("[generated] %s", prompt)
	execution.MergeContext(map[string]any{key: placeholder})

	return &registry.Result{Output: map[string]any{
		"generation_requested": true,
		"output_key":           key,
		"prompt":               prompt,
		"model":                cfg.Model,
	}}, nil
}
