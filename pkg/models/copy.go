package models

// CopyMap deep-copies nested maps and slices found in JSON-like data.
// Other values are copied by assignment.
func CopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}

	return dst
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}

		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)

		return out
	default:
		return val
	}
}
