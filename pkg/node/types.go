// Package node provides the node registry and the contract every node executor implements.
package node

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
)

// SemanticType is the declared type of a parameter or output value.
type SemanticType string

const (
	TypeString  SemanticType = "string"
	TypeInteger SemanticType = "integer"
	TypeFloat   SemanticType = "float"
	TypeBoolean SemanticType = "boolean"
	TypeList    SemanticType = "list"
	TypeMapping SemanticType = "mapping"
	TypeAny     SemanticType = "any"
)

// Valid reports whether t is one of the known semantic types.
func (t SemanticType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeList, TypeMapping, TypeAny:
		return true
	}
	return false
}

// ParameterDeclaration describes one input parameter of a node type.
type ParameterDeclaration struct {
	// Name is the parameter key used in configuration and connections
	Name string `json:"name" yaml:"name"`
	// Type is the semantic type accepted by the parameter
	Type SemanticType `json:"type" yaml:"type"`
	// Required marks parameters that must be supplied by config, override, connection or default
	Required bool `json:"required" yaml:"required"`
	// Default is used when nothing else supplies a value
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
	// Description is free-form documentation
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasDefault reports whether the declaration carries a default value.
func (p ParameterDeclaration) HasDefault() bool {
	return p.Default != nil
}

// Required declares a required parameter.
func Required(name string, t SemanticType) ParameterDeclaration {
	return ParameterDeclaration{Name: name, Type: t, Required: true}
}

// Optional declares an optional parameter with a default (nil for none).
func Optional(name string, t SemanticType, def any) ParameterDeclaration {
	return ParameterDeclaration{Name: name, Type: t, Default: def}
}

// OutputDeclaration documents one key of a node type's output mapping.
type OutputDeclaration struct {
	Name        string       `json:"name" yaml:"name"`
	Type        SemanticType `json:"type" yaml:"type"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// Out declares an output key.
func Out(name string, t SemanticType) OutputDeclaration {
	return OutputDeclaration{Name: name, Type: t}
}

// Input contains everything an executor receives for one invocation.
type Input struct {
	// RunID identifies the run this invocation belongs to
	RunID string
	// NodeID is the id of the node instance being executed
	NodeID string
	// NodeType is the registered type name
	NodeType string
	// Params holds the merged parameters: defaults, config, overrides, connections
	Params Params
	// Iteration is the 1-based iteration inside a cyclic region (0 outside cycles)
	Iteration int
	// Attempt is the 1-based attempt number when a retry policy is active
	Attempt int
}

// Output is the result of one executor invocation.
// Exactly one of Data, Error or Skipped is meaningful.
type Output struct {
	// Data is the output mapping stored in the execution context
	Data map[string]any
	// Error is set if processing failed
	Error error
	// Skipped indicates the node decided not to produce output
	Skipped bool
	// SkipReason provides context for why the node was skipped
	SkipReason string
}

// Success creates a successful Output with the given data.
func Success(data map[string]any) Output {
	if data == nil {
		data = map[string]any{}
	}
	return Output{Data: data}
}

// Failure creates a failed Output with the given error.
func Failure(err error) Output {
	return Output{Error: err}
}

// Skip creates a skipped Output with the given reason.
func Skip(reason string) Output {
	return Output{Skipped: true, SkipReason: reason}
}

// Executor is implemented by every node type.
type Executor interface {
	// Process runs the node once. It must honour ctx cancellation where it blocks.
	Process(ctx context.Context, input Input) Output
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, input Input) Output

// Process implements Executor.
func (f ExecutorFunc) Process(ctx context.Context, input Input) Output {
	return f(ctx, input)
}

// Func adapts a function returning (data, error) into an Executor.
func Func(fn func(ctx context.Context, params Params) (map[string]any, error)) Executor {
	return ExecutorFunc(func(ctx context.Context, input Input) Output {
		data, err := fn(ctx, input.Params)
		if err != nil {
			return Failure(err)
		}
		return Success(data)
	})
}

// TypeOf infers the semantic type of a Go value.
func TypeOf(v any) SemanticType {
	switch x := v.(type) {
	case nil:
		return TypeAny
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32:
		if isIntegral(float64(x)) {
			return TypeInteger
		}
		return TypeFloat
	case float64:
		if isIntegral(x) {
			return TypeInteger
		}
		return TypeFloat
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInteger
		}
		return TypeFloat
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return TypeList
	case reflect.Map:
		return TypeMapping
	}
	return TypeAny
}

// Matches reports whether v is acceptable for a parameter of type t.
// A nil value matches every type.
func Matches(t SemanticType, v any) bool {
	if v == nil || t == TypeAny || t == "" {
		return true
	}
	actual := TypeOf(v)
	if actual == t {
		return true
	}
	return t == TypeFloat && actual == TypeInteger
}

// Compatible reports whether a value declared as src may feed a parameter declared as dst.
func Compatible(src, dst SemanticType) bool {
	if src == dst || src == TypeAny || dst == TypeAny || src == "" || dst == "" {
		return true
	}
	return src == TypeInteger && dst == TypeFloat
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}
