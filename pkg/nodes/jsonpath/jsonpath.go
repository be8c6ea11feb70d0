// Package jsonpath provides node types that read and edit JSON documents
// with gjson/sjson path syntax.
package jsonpath

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

// Registered type names.
const (
	TypeQuery     = "json_query"
	TypeSet       = "json_set"
	TypeParse     = "json_parse"
	TypeStringify = "json_stringify"
)

// Register installs the JSON node types into reg.
func Register(reg *node.Registry) error {
	if err := reg.Register(TypeQuery, []node.ParameterDeclaration{
		node.Required("document", node.TypeAny),
		node.Optional("path", node.TypeString, ""),
		node.Optional("paths", node.TypeList, nil),
	}, node.Func(query),
		node.WithDescription("Extracts values from a JSON document"),
		node.WithOutputs(node.Out("result", node.TypeAny), node.Out("found", node.TypeBoolean)),
	); err != nil {
		return err
	}

	if err := reg.Register(TypeSet, []node.ParameterDeclaration{
		node.Required("document", node.TypeAny),
		node.Required("path", node.TypeString),
		node.Optional("value", node.TypeAny, nil),
		node.Optional("delete", node.TypeBoolean, false),
	}, node.Func(set),
		node.WithDescription("Sets or deletes a value in a JSON document"),
		node.WithOutputs(node.Out("result", node.TypeAny)),
	); err != nil {
		return err
	}

	if err := reg.Register(TypeParse, []node.ParameterDeclaration{
		node.Required("text", node.TypeString),
	}, node.Func(parse),
		node.WithDescription("Decodes a JSON string"),
		node.WithOutputs(node.Out("result", node.TypeAny)),
	); err != nil {
		return err
	}

	return reg.Register(TypeStringify, []node.ParameterDeclaration{
		node.Optional("value", node.TypeAny, nil),
		node.Optional("indent", node.TypeBoolean, false),
	}, node.Func(stringify),
		node.WithDescription("Encodes a value as a JSON string"),
		node.WithOutputs(node.Out("result", node.TypeString)),
	)
}

// PathError reports a failed query or edit.
type PathError struct {
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *PathError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Message)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func query(_ context.Context, p node.Params) (map[string]any, error) {
	raw, err := document(p.Get("document"))
	if err != nil {
		return nil, &PathError{Op: "query", Path: p.String("path"), Message: "invalid document", Err: err}
	}

	if paths := p.StringSlice("paths"); len(paths) > 0 {
		results := make(map[string]any, len(paths))
		found := true
		for _, path := range paths {
			v, ok := lookup(raw, path)
			results[path] = v
			found = found && ok
		}
		return map[string]any{"result": results, "found": found}, nil
	}

	path := p.String("path")
	if path == "" {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &PathError{Op: "query", Message: "invalid document", Err: err}
		}
		return map[string]any{"result": v, "found": true}, nil
	}
	v, ok := lookup(raw, path)
	return map[string]any{"result": v, "found": ok}, nil
}

func set(_ context.Context, p node.Params) (map[string]any, error) {
	path := p.String("path")
	raw, err := document(p.Get("document"))
	if err != nil {
		return nil, &PathError{Op: "set", Path: path, Message: "invalid document", Err: err}
	}

	var edited []byte
	if p.Bool("delete") {
		edited, err = sjson.DeleteBytes(raw, normalizePath(path))
	} else {
		edited, err = sjson.SetBytes(raw, normalizePath(path), p.Get("value"))
	}
	if err != nil {
		return nil, &PathError{Op: "set", Path: path, Message: "edit failed", Err: err}
	}

	var result any
	if err := json.Unmarshal(edited, &result); err != nil {
		return nil, &PathError{Op: "set", Path: path, Message: "edited document is not valid JSON", Err: err}
	}
	return map[string]any{"result": result}, nil
}

func parse(_ context.Context, p node.Params) (map[string]any, error) {
	text := p.String("text")
	if !gjson.Valid(text) {
		return nil, &PathError{Op: "parse", Message: "input is not valid JSON"}
	}
	return map[string]any{"result": gjson.Parse(text).Value()}, nil
}

func stringify(_ context.Context, p node.Params) (map[string]any, error) {
	var (
		b   []byte
		err error
	)
	if p.Bool("indent") {
		b, err = json.MarshalIndent(p.Get("value"), "", "  ")
	} else {
		b, err = json.Marshal(p.Get("value"))
	}
	if err != nil {
		return nil, &PathError{Op: "stringify", Message: "value is not JSON-serializable", Err: err}
	}
	return map[string]any{"result": string(b)}, nil
}

// document returns raw JSON for v. Strings are taken as JSON text.
func document(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		if !gjson.Valid(s) {
			return nil, fmt.Errorf("string is not valid JSON")
		}
		return []byte(s), nil
	}
	if b, ok := v.([]byte); ok {
		if !gjson.ValidBytes(b) {
			return nil, fmt.Errorf("bytes are not valid JSON")
		}
		return b, nil
	}
	return json.Marshal(v)
}

// lookup resolves path. Wildcard paths always yield a list.
func lookup(raw []byte, path string) (any, bool) {
	normalized := normalizePath(path)
	result := gjson.GetBytes(raw, normalized)
	if isWildcard(normalized) {
		switch {
		case result.IsArray():
			return result.Value(), true
		case result.Exists():
			return []any{result.Value()}, true
		}
		return []any{}, false
	}
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// normalizePath accepts slash-separated paths and * wildcards.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		path = strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", ".")
	}
	return strings.ReplaceAll(path, "*", "#")
}

// isWildcard reports paths that iterate an array. A trailing # is a count.
func isWildcard(path string) bool {
	return strings.Contains(path, "#.") || strings.HasSuffix(path, ")#")
}
