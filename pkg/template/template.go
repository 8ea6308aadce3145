// Package template renders text/template strings found in step configs.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// ExecutionData is the data available to templates rendered for an execution.
func ExecutionData(execution *models.WorkflowExecution) map[string]any {
	return map[string]any{
		"context":    execution.Context,
		"contact_id": execution.ContactID,
		"company_id": execution.CompanyID,
		"execution": map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
			"step_id":     execution.CurrentStepID,
		},
	}
}

// RenderWithExecution renders input against ExecutionData. Plain strings are returned untouched.
func RenderWithExecution(input string, execution *models.WorkflowExecution) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	return Render(input, ExecutionData(execution))
}

func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("step").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
