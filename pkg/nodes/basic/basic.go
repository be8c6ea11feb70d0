// Package basic provides the elementary node types: constants, pass-through,
// arithmetic, counters and mapping merges.
package basic

import (
	"context"
	"fmt"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

// Registered type names.
const (
	TypeConstant    = "constant"
	TypePassthrough = "passthrough"
	TypeAdd         = "add"
	TypeIncrement   = "increment"
	TypeMerge       = "merge"
)

// Register installs the basic node types into reg.
func Register(reg *node.Registry) error {
	registrations := []struct {
		name   string
		params []node.ParameterDeclaration
		exec   node.Executor
		opts   []node.RegisterOption
	}{
		{
			name: TypeConstant,
			params: []node.ParameterDeclaration{
				node.Optional("value", node.TypeAny, nil),
				node.Optional("fields", node.TypeMapping, nil),
			},
			exec: node.ExecutorFunc(constant),
			opts: []node.RegisterOption{
				node.WithDescription("Emits its configured value and fields"),
				node.WithOutputs(node.Out("value", node.TypeAny)),
				node.WithDynamicOutputs(),
			},
		},
		{
			name:   TypePassthrough,
			params: []node.ParameterDeclaration{node.Required("input", node.TypeAny)},
			exec:   node.ExecutorFunc(passthrough),
			opts: []node.RegisterOption{
				node.WithDescription("Forwards its input unchanged"),
				node.WithOutputs(node.Out("value", node.TypeAny)),
			},
		},
		{
			name: TypeAdd,
			params: []node.ParameterDeclaration{
				node.Required("a", node.TypeFloat),
				node.Required("b", node.TypeFloat),
			},
			exec: node.Func(add),
			opts: []node.RegisterOption{
				node.WithDescription("Adds two numbers"),
				node.WithOutputs(node.Out("result", node.TypeFloat)),
			},
		},
		{
			name: TypeIncrement,
			params: []node.ParameterDeclaration{
				node.Optional("counter", node.TypeInteger, 0),
				node.Optional("step", node.TypeInteger, 1),
				node.Optional("limit", node.TypeInteger, nil),
			},
			exec: node.Func(increment),
			opts: []node.RegisterOption{
				node.WithDescription("Advances a counter and reports whether it is below its limit"),
				node.WithOutputs(
					node.Out("counter", node.TypeInteger),
					node.Out("continue", node.TypeBoolean),
				),
			},
		},
		{
			name: TypeMerge,
			params: []node.ParameterDeclaration{
				node.Optional("left", node.TypeMapping, nil),
				node.Optional("right", node.TypeMapping, nil),
			},
			exec: node.Func(merge),
			opts: []node.RegisterOption{
				node.WithDescription("Merges two mappings, right side winning"),
				node.WithOutputs(node.Out("result", node.TypeMapping)),
			},
		},
	}

	for _, r := range registrations {
		if err := reg.Register(r.name, r.params, r.exec, r.opts...); err != nil {
			return err
		}
	}
	return nil
}

func constant(_ context.Context, in node.Input) node.Output {
	out := make(map[string]any)
	for k, v := range in.Params.Map("fields") {
		out[k] = v
	}
	if in.Params.Has("value") {
		out["value"] = in.Params.Get("value")
	}
	return node.Success(out)
}

func passthrough(_ context.Context, in node.Input) node.Output {
	return node.Success(map[string]any{"value": in.Params.Get("input")})
}

func add(_ context.Context, params node.Params) (map[string]any, error) {
	a, b := params.Get("a"), params.Get("b")
	if !isNumber(a) || !isNumber(b) {
		return nil, fmt.Errorf("add expects numbers, got %T and %T", a, b)
	}
	if node.TypeOf(a) == node.TypeInteger && node.TypeOf(b) == node.TypeInteger {
		return map[string]any{"result": params.Int("a") + params.Int("b")}, nil
	}
	return map[string]any{"result": params.Float("a") + params.Float("b")}, nil
}

func increment(_ context.Context, params node.Params) (map[string]any, error) {
	next := params.Int("counter") + params.IntDefault("step", 1)
	more := true
	if params.Get("limit") != nil {
		more = next < params.Int("limit")
	}
	return map[string]any{"counter": next, "continue": more}, nil
}

func merge(_ context.Context, params node.Params) (map[string]any, error) {
	result := make(map[string]any)
	for k, v := range params.Map("left") {
		result[k] = v
	}
	for k, v := range params.Map("right") {
		result[k] = v
	}
	return map[string]any{"result": result}, nil
}

func isNumber(v any) bool {
	t := node.TypeOf(v)
	return v != nil && (t == node.TypeInteger || t == node.TypeFloat)
}
