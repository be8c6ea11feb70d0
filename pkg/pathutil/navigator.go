// Package pathutil resolves connection source keys against node output mappings.
package pathutil

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Navigate extracts a value from a node's output mapping.
// Supports:
// - Exact keys: "value" (checked first, so keys containing dots still resolve)
// - Nested paths: "user.email" or "/user/email"
// - Array iteration: "items//name" (extracts name from each element of items)
// - Any gjson query syntax on the remainder, e.g. "items.#" or "items.0.id"
// Values found by direct map traversal keep their Go types; values found via
// gjson are JSON-decoded (numbers become float64).
func Navigate(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if path == "" || path == "/" {
		return data, true
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	normalized := path
	if !strings.Contains(path, "//") {
		normalized = strings.TrimPrefix(path, "/")
	}
	if v, ok := data[normalized]; ok {
		return v, true
	}

	if !strings.Contains(normalized, "//") && isPlainPath(normalized) {
		if v, ok := walk(data, splitPath(normalized)); ok {
			return v, true
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return NavigateJSON(raw, normalized)
}

// NavigateJSON extracts a value from a raw JSON document using the same path syntax as Navigate.
func NavigateJSON(raw []byte, path string) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	if strings.Contains(path, "//") {
		parts := strings.SplitN(path, "//", 2)
		collectionPath := strings.TrimPrefix(parts[0], "/")
		fieldPath := toGJSON(strings.TrimPrefix(parts[1], "/"))

		var collection gjson.Result
		if collectionPath == "" {
			collection = gjson.ParseBytes(raw)
		} else {
			collection = gjson.GetBytes(raw, toGJSON(collectionPath))
		}
		if !collection.Exists() || !collection.IsArray() {
			return nil, false
		}

		items := collection.Array()
		result := make([]any, 0, len(items))
		for _, item := range items {
			fieldValue := gjson.Get(item.Raw, fieldPath)
			if fieldValue.Exists() {
				result = append(result, fieldValue.Value())
			}
		}
		return result, len(result) > 0
	}

	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		var whole any
		if err := json.Unmarshal(raw, &whole); err != nil {
			return nil, false
		}
		return whole, true
	}
	result := gjson.GetBytes(raw, toGJSON(trimmed))
	return result.Value(), result.Exists()
}

// Exists reports whether path resolves inside data.
func Exists(data map[string]any, path string) bool {
	_, ok := Navigate(data, path)
	return ok
}

// String is a convenience wrapper that returns the string value
func String(data map[string]any, path string) string {
	value, exists := Navigate(data, path)
	if !exists {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return ""
}

func toGJSON(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

// isPlainPath reports whether path is made only of key segments (no gjson modifiers).
func isPlainPath(path string) bool {
	return !strings.ContainsAny(path, "#|@*?()\\")
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '.' || r == '/' })
}

func walk(current any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}
