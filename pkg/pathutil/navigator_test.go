package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNavigate(t *testing.T) {
	data := map[string]any{
		"value":      3,
		"dotted.key": "kept",
		"user": map[string]any{
			"email": "john@example.com",
			"age":   30,
		},
		"items": []any{
			map[string]any{"id": 1, "name": "a"},
			map[string]any{"id": 2, "name": "b"},
		},
	}

	tests := []struct {
		name     string
		path     string
		expected any
		exists   bool
	}{
		{name: "exact key keeps go type", path: "value", expected: 3, exists: true},
		{name: "exact key containing a dot", path: "dotted.key", expected: "kept", exists: true},
		{name: "nested dot path", path: "user.email", expected: "john@example.com", exists: true},
		{name: "nested slash path", path: "/user/age", expected: 30, exists: true},
		{name: "array index via gjson", path: "items.1.name", expected: "b", exists: true},
		{name: "array length via gjson", path: "items.#", expected: float64(2), exists: true},
		{name: "array iteration", path: "items//name", expected: []any{"a", "b"}, exists: true},
		{name: "missing key", path: "nope", expected: nil, exists: false},
		{name: "missing nested key", path: "user.phone", expected: nil, exists: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, exists := Navigate(data, tt.path)
			assert.Equal(t, tt.exists, exists)
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestNavigate_WholeOutput(t *testing.T) {
	data := map[string]any{"a": 1}

	value, ok := Navigate(data, "")
	assert.True(t, ok)
	assert.Equal(t, data, value)

	_, ok = Navigate(nil, "a")
	assert.False(t, ok)
}

func TestNavigateJSON(t *testing.T) {
	raw := []byte(`[{"name":"x"},{"name":"y"},{"other":1}]`)

	value, ok := NavigateJSON(raw, "//name")
	assert.True(t, ok)
	assert.Equal(t, []any{"x", "y"}, value)

	whole, ok := NavigateJSON([]byte(`{"k":"v"}`), "/")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"k": "v"}, whole)
}

func TestString(t *testing.T) {
	data := map[string]any{"user": map[string]any{"name": "ann", "age": 4}}
	assert.Equal(t, "ann", String(data, "user.name"))
	assert.Equal(t, "", String(data, "user.age"))
	assert.True(t, Exists(data, "user.age"))
}
