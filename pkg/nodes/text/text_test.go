package text

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

func process(t *testing.T, params map[string]any) node.Output {
	t.Helper()
	reg := node.NewRegistry()
	require.NoError(t, Register(reg))
	desc, err := reg.Resolve(TypeText)
	require.NoError(t, err)

	merged := node.Params(desc.Defaults())
	for k, v := range params {
		merged[k] = v
	}
	return desc.Executor.Process(context.Background(), node.Input{NodeID: "text", NodeType: TypeText, Params: merged})
}

func TestTextNode(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   any
	}{
		{"upper", map[string]any{"operation": "upper", "text": "straße"}, "STRASSE"},
		{"upper turkish", map[string]any{"operation": "upper", "text": "istanbul", "language": "tr"}, "İSTANBUL"},
		{"lower", map[string]any{"operation": "lower", "text": "HeLLo"}, "hello"},
		{"title", map[string]any{"operation": "title", "text": "hello wide world"}, "Hello Wide World"},
		{"capitalize", map[string]any{"operation": "capitalize", "text": "élan vital"}, "Élan vital"},
		{"fold", map[string]any{"operation": "fold", "text": "Straße"}, "strasse"},
		{"normalize", map[string]any{"operation": "normalize", "text": "Crème Brûlée Ørsted"}, "Creme Brulee Orsted"},
		{"trim", map[string]any{"operation": "trim", "text": "  pad  "}, "pad"},
		{"trim cutset", map[string]any{"operation": "trim", "text": "--x--", "cutset": "-"}, "x"},
		{"replace", map[string]any{"operation": "replace", "text": "a-b-c", "old": "-", "new": "+", "count": 1}, "a+b-c"},
		{"replace regex", map[string]any{"operation": "replace", "text": "a1b22c", "old": `\d+`, "new": "#", "regex": true}, "a#b#c"},
		{"substring", map[string]any{"operation": "substring", "text": "héllo", "start": 1, "end": 3}, "él"},
		{"substring negative", map[string]any{"operation": "substring", "text": "hello", "start": -3}, "llo"},
		{"split", map[string]any{"operation": "split", "text": "a,b", "separator": ","}, []any{"a", "b"}},
		{"join", map[string]any{"operation": "join", "items": []any{"a", 1, true}, "separator": "/"}, "a/1/true"},
		{"length", map[string]any{"operation": "length", "text": "héllo"}, 5},
		{"format", map[string]any{"operation": "format", "text": "Hi {name}, ${name}", "data": map[string]any{"name": "Ada"}}, "Hi Ada, Ada"},
		{"base64", map[string]any{"operation": "base64_encode", "text": "flow"}, "Zmxvdw=="},
		{"base64 decode", map[string]any{"operation": "base64_decode", "text": "Zmxvdw=="}, "flow"},
		{"url", map[string]any{"operation": "url_encode", "text": "a b&c"}, "a+b%26c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := process(t, tt.params)
			require.NoError(t, out.Error)
			assert.Equal(t, tt.want, out.Data["result"])
		})
	}
}

func TestTextNode_Errors(t *testing.T) {
	for _, params := range []map[string]any{
		{"operation": "reverse", "text": "x"},
		{"operation": "upper", "text": "x", "language": "not a tag!"},
		{"operation": "base64_decode", "text": "%%%"},
		{"operation": "replace", "text": "x", "old": "(", "regex": true},
	} {
		out := process(t, params)
		assert.Error(t, out.Error, "operation %v", params["operation"])
	}
}
