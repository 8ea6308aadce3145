// Package conditions evaluates step and trigger predicates against execution data.
package conditions

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/tidwall/gjson"
)

// ErrUnknownOperator is returned for operators outside the supported set.
var ErrUnknownOperator = errors.New("unknown condition operator")

// MatchType combines the conditions of a branch.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// Lookup resolves field in data. A key present verbatim wins; otherwise the
// field is read as a gjson path (e.g. "trigger_event.data.form_id", "tags.0").
func Lookup(data map[string]any, field string) (any, bool) {
	if data == nil || field == "" {
		return nil, false
	}

	if v, ok := data[field]; ok {
		return v, true
	}

	if !strings.ContainsAny(field, ".#") {
		return nil, false
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(raw, field)
	if !result.Exists() {
		return nil, false
	}

	return result.Value(), true
}

// Evaluate applies one condition to data. A missing field is false for every
// operator except not_equals and is_empty.
func Evaluate(c models.StepCondition, data map[string]any) (bool, error) {
	actual, found := Lookup(data, c.Field)

	switch c.Operator {
	case models.OperatorEquals:
		return found && Equal(actual, c.Value), nil
	case models.OperatorNotEquals:
		return !found || !Equal(actual, c.Value), nil
	case models.OperatorContains:
		if !found || actual == nil {
			return false, nil
		}

		return strings.Contains(stringify(actual), stringify(c.Value)), nil
	case models.OperatorGreater:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)

		return found && okA && okB && a > b, nil
	case models.OperatorLess:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)

		return found && okA && okB && a < b, nil
	case models.OperatorIsEmpty:
		return !found || IsEmpty(actual), nil
	case models.OperatorIsNotEmpty:
		return found && !IsEmpty(actual), nil
	case models.OperatorInList:
		return found && inList(actual, c.Value), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
}

// FirstMatch evaluates conditions in order and returns the first one that holds.
func FirstMatch(conds []models.StepCondition, data map[string]any) (models.StepCondition, bool, error) {
	for _, c := range conds {
		ok, err := Evaluate(c, data)
		if err != nil {
			return models.StepCondition{}, false, err
		}

		if ok {
			return c, true, nil
		}
	}

	return models.StepCondition{}, false, nil
}

// Match combines conditions with AND (all) or OR (any). An empty list matches.
func Match(conds []models.StepCondition, matchType MatchType, data map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}

	for _, c := range conds {
		ok, err := Evaluate(c, data)
		if err != nil {
			return false, err
		}

		if matchType == MatchAny && ok {
			return true, nil
		}

		if matchType != MatchAny && !ok {
			return false, nil
		}
	}

	return matchType != MatchAny, nil
}

// Equal compares two JSON-like values. Numbers compare by value regardless of
// their Go type; strings are never coerced to numbers.
func Equal(a, b any) bool {
	fa, okA := number(a)
	fb, okB := number(b)

	if okA && okB {
		return fa == fb
	}

	return reflect.DeepEqual(a, b)
}

// IsEmpty treats nil, "", and empty slices or maps as empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}

	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func inList(actual, list any) bool {
	var items []any

	switch l := list.(type) {
	case []any:
		items = l
	case []string:
		for _, s := range l {
			items = append(items, s)
		}
	case string:
		for _, s := range strings.Split(l, ",") {
			items = append(items, strings.TrimSpace(s))
		}
	default:
		return false
	}

	for _, item := range items {
		if Equal(actual, item) {
			return true
		}

		if s, ok := item.(string); ok {
			if _, isString := actual.(string); !isString && stringify(actual) == s {
				return true
			}
		}
	}

	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// toFloat is number plus numeric strings, used by ordering operators.
func toFloat(v any) (float64, bool) {
	if f, ok := number(v); ok {
		return f, true
	}

	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)

		return f, err == nil
	}

	return 0, false
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
