package node

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

func echo() Executor {
	return Func(func(_ context.Context, p Params) (map[string]any, error) {
		return map[string]any(p), nil
	})
}

func TestRegistry_RegisterResolve(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("echo", []ParameterDeclaration{
		Required("a", TypeInteger),
		Optional("b", TypeString, "x"),
	}, echo(), WithOutputs(Out("a", TypeInteger)), WithDescription("echoes"))
	require.NoError(t, err)

	desc, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "echoes", desc.Description)
	assert.Equal(t, map[string]any{"b": "x"}, desc.Defaults())
	assert.True(t, desc.HasStaticOutputs())

	p, ok := desc.Parameter("a")
	require.True(t, ok)
	assert.True(t, p.Required)
	_, ok = desc.Parameter("zzz")
	assert.False(t, ok)
	_, ok = desc.Output("a")
	assert.True(t, ok)

	out := desc.Executor.Process(context.Background(), Input{Params: Params{"a": 1}})
	require.NoError(t, out.Error)
	assert.Equal(t, 1, out.Data["a"])
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := NewRegistry().Resolve("nope")
	assert.ErrorIs(t, err, flowerrors.ErrUnknownNodeType)
	assert.True(t, flowerrors.IsConfigurationError(err))
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("echo", nil, echo()))

	err := reg.Register("echo", nil, echo())
	assert.ErrorIs(t, err, flowerrors.ErrDuplicateRegistration)

	require.NoError(t, reg.Register("echo", nil, echo(), WithDescription("v2"), WithOverride()))
	desc, _ := reg.Resolve("echo")
	assert.Equal(t, "v2", desc.Description)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_InvalidDeclarations(t *testing.T) {
	tests := map[string]struct {
		name   string
		params []ParameterDeclaration
		exec   Executor
		opts   []RegisterOption
	}{
		"empty name":       {name: "", exec: echo()},
		"nil executor":     {name: "x"},
		"unnamed param":    {name: "x", exec: echo(), params: []ParameterDeclaration{{Type: TypeString}}},
		"duplicate param":  {name: "x", exec: echo(), params: []ParameterDeclaration{Required("a", TypeAny), Required("a", TypeAny)}},
		"unknown type":     {name: "x", exec: echo(), params: []ParameterDeclaration{Required("a", "decimal")}},
		"bad default":      {name: "x", exec: echo(), params: []ParameterDeclaration{Optional("a", TypeInteger, "one")}},
		"duplicate output": {name: "x", exec: echo(), opts: []RegisterOption{WithOutputs(Out("o", TypeAny), Out("o", TypeAny))}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := NewRegistry().Register(tt.name, tt.params, tt.exec, tt.opts...)
			assert.ErrorIs(t, err, flowerrors.ErrInvalidDeclaration)
		})
	}
}

func TestRegistry_TypesAndUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("b", nil, echo())
	reg.MustRegister("a", nil, echo())
	assert.Equal(t, []string{"a", "b"}, reg.Types())

	assert.True(t, reg.Unregister("a"))
	assert.False(t, reg.Unregister("a"))
	assert.False(t, reg.Has("a"))
	assert.Panics(t, func() { reg.MustRegister("b", nil, echo()) })
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = reg.Register("t", nil, echo(), WithOverride())
			_, _ = reg.Resolve("t")
			_ = reg.Types()
		}(i)
	}
	wg.Wait()
	assert.True(t, reg.Has("t"))
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		value any
		want  SemanticType
	}{
		{"s", TypeString},
		{true, TypeBoolean},
		{3, TypeInteger},
		{3.0, TypeInteger},
		{3.5, TypeFloat},
		{json.Number("7"), TypeInteger},
		{json.Number("7.5"), TypeFloat},
		{[]any{1}, TypeList},
		{[]string{"a"}, TypeList},
		{map[string]any{}, TypeMapping},
		{nil, TypeAny},
		{struct{}{}, TypeAny},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeOf(tt.value), "%#v", tt.value)
	}
}

func TestMatchesAndCompatible(t *testing.T) {
	assert.True(t, Matches(TypeFloat, 2))
	assert.False(t, Matches(TypeInteger, 2.5))
	assert.True(t, Matches(TypeString, nil))
	assert.False(t, Matches(TypeString, 1))

	assert.True(t, Compatible(TypeInteger, TypeFloat))
	assert.False(t, Compatible(TypeFloat, TypeInteger))
	assert.True(t, Compatible(TypeAny, TypeMapping))
	assert.False(t, Compatible(TypeList, TypeMapping))
}

func TestParams(t *testing.T) {
	p := Params{
		"s":     "v",
		"i":     int64(4),
		"f":     2,
		"b":     true,
		"m":     map[string]any{"k": 1},
		"items": []any{"a", 1, "b"},
	}
	assert.Equal(t, "v", p.String("s"))
	assert.Equal(t, "d", p.StringDefault("missing", "d"))
	assert.Equal(t, 4, p.Int("i"))
	assert.Equal(t, 9, p.IntDefault("missing", 9))
	assert.Equal(t, 2.0, p.Float("f"))
	assert.True(t, p.Bool("b"))
	assert.Equal(t, 1, p.Map("m")["k"])
	assert.Equal(t, []string{"a", "b"}, p.StringSlice("items"))
	assert.Nil(t, p.Slice("s"))

	clone := p.Clone()
	clone["s"] = "changed"
	assert.Equal(t, "v", p.String("s"))
}

func TestOutputVariants(t *testing.T) {
	assert.NotNil(t, Success(nil).Data)
	assert.True(t, Skip("inactive").Skipped)
	assert.Error(t, Failure(assert.AnError).Error)
}
