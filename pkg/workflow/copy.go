package workflow

// copyMap deep-copies nested maps and slices so snapshots never alias caller data.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

// CopyOutput deep-copies a node output mapping.
func CopyOutput(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return copyMap(m)
}

// CopyValue deep-copies a value read from a node output.
func CopyValue(v any) any {
	return copyValue(v)
}
