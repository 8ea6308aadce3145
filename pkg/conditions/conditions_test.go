package conditions_test

import (
	"testing"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(field string, op models.ConditionOperator, value any) models.StepCondition {
	return models.StepCondition{Field: field, Operator: op, Value: value}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"score":   80,
		"name":    "Ada Lovelace",
		"empty":   "",
		"tags":    []any{"vip", "lead"},
		"stage":   "qualified",
		"revenue": "1500.50",
		"trigger_event": map[string]any{
			"type": "form_submission",
			"data": map[string]any{"form_id": "f9"},
		},
	}

	tests := []struct {
		name      string
		condition models.StepCondition
		expected  bool
	}{
		{"equals int vs float", cond("score", models.OperatorEquals, 80.0), true},
		{"equals mismatch", cond("score", models.OperatorEquals, 81), false},
		{"equals no string coercion", cond("score", models.OperatorEquals, "80"), false},
		{"equals missing", cond("missing", models.OperatorEquals, nil), false},
		{"not_equals", cond("stage", models.OperatorNotEquals, "lost"), true},
		{"not_equals missing", cond("missing", models.OperatorNotEquals, "x"), true},
		{"contains substring", cond("name", models.OperatorContains, "Love"), true},
		{"contains stringified number", cond("score", models.OperatorContains, 8), true},
		{"contains missing", cond("missing", models.OperatorContains, "a"), false},
		{"greater_than", cond("score", models.OperatorGreater, 50), true},
		{"greater_than numeric string", cond("revenue", models.OperatorGreater, 1000), true},
		{"greater_than non numeric", cond("name", models.OperatorGreater, 1), false},
		{"greater_than missing", cond("missing", models.OperatorGreater, 0), false},
		{"less_than", cond("score", models.OperatorLess, 50), false},
		{"is_empty empty string", cond("empty", models.OperatorIsEmpty, nil), true},
		{"is_empty missing", cond("missing", models.OperatorIsEmpty, nil), true},
		{"is_empty filled", cond("name", models.OperatorIsEmpty, nil), false},
		{"is_not_empty list", cond("tags", models.OperatorIsNotEmpty, nil), true},
		{"is_not_empty missing", cond("missing", models.OperatorIsNotEmpty, nil), false},
		{"in_list slice", cond("stage", models.OperatorInList, []any{"new", "qualified"}), true},
		{"in_list comma string", cond("stage", models.OperatorInList, "new, qualified"), true},
		{"in_list number in string list", cond("score", models.OperatorInList, "70,80"), true},
		{"in_list absent", cond("stage", models.OperatorInList, []any{"new"}), false},
		{"in_list missing", cond("missing", models.OperatorInList, []any{"new"}), false},
		{"dotted path", cond("trigger_event.data.form_id", models.OperatorEquals, "f9"), true},
		{"array index path", cond("tags.0", models.OperatorEquals, "vip"), true},
		{"dotted path missing", cond("trigger_event.data.nope", models.OperatorIsEmpty, nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := conditions.Evaluate(tt.condition, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	t.Parallel()

	_, err := conditions.Evaluate(cond("score", "between", 1), map[string]any{"score": 1})
	require.ErrorIs(t, err, conditions.ErrUnknownOperator)
}

func TestFirstMatch_ShortCircuits(t *testing.T) {
	t.Parallel()

	conds := []models.StepCondition{
		{Field: "score", Operator: models.OperatorGreater, Value: 90, NextStepID: "hot"},
		{Field: "score", Operator: models.OperatorGreater, Value: 50, NextStepID: "warm"},
		{Field: "score", Operator: "bogus", NextStepID: "never"},
	}

	match, ok, err := conditions.FirstMatch(conds, map[string]any{"score": 60})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "warm", match.NextStepID)

	_, ok, err = conditions.FirstMatch(conds[:2], map[string]any{"score": 10})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	data := map[string]any{"score": 60, "stage": "new"}
	conds := []models.StepCondition{
		cond("score", models.OperatorGreater, 50),
		cond("stage", models.OperatorEquals, "qualified"),
	}

	all, err := conditions.Match(conds, conditions.MatchAll, data)
	require.NoError(t, err)
	assert.False(t, all)

	anyOf, err := conditions.Match(conds, conditions.MatchAny, data)
	require.NoError(t, err)
	assert.True(t, anyOf)

	empty, err := conditions.Match(nil, conditions.MatchAny, data)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, conditions.Equal(5, 5.0))
	assert.True(t, conditions.Equal(int64(7), uint8(7)))
	assert.True(t, conditions.Equal("f9", "f9"))
	assert.True(t, conditions.Equal([]any{"a"}, []any{"a"}))
	assert.False(t, conditions.Equal("5", 5))
	assert.False(t, conditions.Equal(nil, ""))
}
