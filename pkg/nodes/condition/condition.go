// Package condition provides the switch node: it evaluates a comparison on its
// input and routes the input to a true or false branch.
package condition

import (
	"context"
	"fmt"

	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/pathutil"
)

// TypeSwitch is the registered type name.
const TypeSwitch = "switch"

// Output keys. Only the key of the taken branch is present, so trigger
// connections from the other branch are inactive.
const (
	OutputResult = "result"
	OutputTrue   = "true_output"
	OutputFalse  = "false_output"
)

// Register installs the switch node type into reg.
func Register(reg *node.Registry) error {
	return reg.Register(TypeSwitch, []node.ParameterDeclaration{
		node.Optional("input", node.TypeAny, nil),
		{Name: "field", Type: node.TypeString, Description: "path of the value inside input; empty tests input itself"},
		node.Optional("operator", node.TypeString, string(OpEquals)),
		node.Optional("value", node.TypeAny, nil),
		node.Optional("case_insensitive", node.TypeBoolean, false),
	}, node.ExecutorFunc(evaluate),
		node.WithDescription("Routes its input to true_output or false_output"),
		node.WithOutputs(
			node.Out(OutputResult, node.TypeBoolean),
			node.Out(OutputTrue, node.TypeAny),
			node.Out(OutputFalse, node.TypeAny),
		),
	)
}

func evaluate(_ context.Context, in node.Input) node.Output {
	operator := Operator(in.Params.StringDefault("operator", string(OpEquals)))
	if !operator.Valid() {
		return node.Failure(&ConfigError{NodeID: in.NodeID, Field: "operator", Message: fmt.Sprintf("unsupported operator %q", operator)})
	}

	input := in.Params.Get("input")
	field := in.Params.String("field")
	actual, exists := lookup(input, field)

	var met bool
	switch {
	case !exists && operator == OpIsEmpty:
		met = true
	case !exists && operator == OpIsNotEmpty:
		met = false
	case !exists:
		return node.Failure(&EvaluationError{
			NodeID:  in.NodeID,
			Field:   field,
			Message: fmt.Sprintf("field %q not found in input", field),
		})
	default:
		var err error
		met, err = Compare(actual, in.Params.Get("value"), operator, in.Params.Bool("case_insensitive"))
		if err != nil {
			return node.Failure(fmt.Errorf("node %s: %w", in.NodeID, err))
		}
	}

	out := map[string]any{OutputResult: met}
	if met {
		out[OutputTrue] = input
	} else {
		out[OutputFalse] = input
	}
	return node.Success(out)
}

// lookup resolves field inside input. An empty field selects input itself.
func lookup(input any, field string) (any, bool) {
	if field == "" {
		return input, true
	}
	m, ok := input.(map[string]any)
	if !ok {
		return nil, false
	}
	return pathutil.Navigate(m, field)
}
