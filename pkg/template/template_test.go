package template_test

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_NestedFields(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"user": map[string]any{"name": "Alice"},
	}

	result, err := template.Render("Hi {{ .user.name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Hi Alice", result)
}

func TestRender_MissingKeyIsEmpty(t *testing.T) {
	t.Parallel()

	result, err := template.Render("[{{ .missing }}]", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "[]", result)
}

func TestRender_DefaultFunc(t *testing.T) {
	t.Parallel()

	result, err := template.Render(`{{ default "there" .name }}`, map[string]any{"name": ""})
	require.NoError(t, err)
	assert.Equal(t, "there", result)
}

func TestRender_ParseError(t *testing.T) {
	t.Parallel()

	_, err := template.Render("{{ .unclosed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRenderWithExecution(t *testing.T) {
	t.Parallel()

	exec := &models.WorkflowExecution{
		ID:        "e1",
		ContactID: "c-1",
		Context: map[string]any{
			"trigger_event": map[string]any{"data": map[string]any{"first_name": "Ada"}},
		},
	}

	result, err := template.RenderWithExecution("Welcome {{ .context.trigger_event.data.first_name }} ({{ .contact_id }})", exec)
	require.NoError(t, err)
	assert.Equal(t, "Welcome Ada (c-1)", result)

	plain, err := template.RenderWithExecution("no actions here", exec)
	require.NoError(t, err)
	assert.Equal(t, "no actions here", plain)
}
