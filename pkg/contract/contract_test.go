package contract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

func testRegistry(t *testing.T) *node.Registry {
	t.Helper()
	reg := node.NewRegistry()
	noop := node.ExecutorFunc(func(ctx context.Context, in node.Input) node.Output {
		return node.Success(nil)
	})
	require.NoError(t, reg.Register("numbers", nil, noop,
		node.WithOutputs(node.Out("value", node.TypeInteger), node.Out("items", node.TypeList), node.Out("name", node.TypeString))))
	require.NoError(t, reg.Register("dynamic", nil, noop))
	require.NoError(t, reg.Register("adder", []node.ParameterDeclaration{
		node.Required("x", node.TypeInteger),
		node.Optional("step", node.TypeFloat, 1.0),
	}, noop))
	require.NoError(t, reg.Register("lister", []node.ParameterDeclaration{
		node.Required("items", node.TypeList),
	}, noop))
	require.NoError(t, reg.Register("anything", []node.ParameterDeclaration{
		node.Required("in", node.TypeAny),
	}, noop))
	return reg
}

func build(t *testing.T, g *workflow.Graph) *workflow.ExecutableGraph {
	t.Helper()
	eg, err := g.Build()
	require.NoError(t, err)
	return eg
}

func TestValidateDeclarations_Valid(t *testing.T) {
	g := workflow.New(testRegistry(t))
	require.NoError(t, g.AddNode("numbers", "A", nil))
	require.NoError(t, g.AddNode("adder", "B", nil))
	require.NoError(t, g.AddConnection("A", "value", "B", "x"))

	issues := ValidateDeclarations(build(t, g), nil)
	assert.Empty(t, issues)
	assert.False(t, HasErrors(issues))
}

func TestValidateDeclarations_MissingRequired(t *testing.T) {
	g := workflow.New(testRegistry(t))
	require.NoError(t, g.AddNode("adder", "B", nil))

	issues := ValidateDeclarations(build(t, g), nil)
	require.True(t, HasErrors(issues))

	errs := Errors(issues)
	require.Len(t, errs, 1)
	assert.Equal(t, "B", errs[0].NodeID)
	assert.Equal(t, "x", errs[0].Parameter)
	assert.Equal(t, CodeMissingRequired, errs[0].Code)
}

func TestValidateDeclarations_SuppliedByOverride(t *testing.T) {
	g := workflow.New(testRegistry(t))
	require.NoError(t, g.AddNode("adder", "B", nil))
	eg := build(t, g)

	issues := ValidateDeclarations(eg, map[string]map[string]any{"B": {"x": 4}})
	assert.Empty(t, issues)

	issues = ValidateDeclarations(eg, map[string]map[string]any{"B": {"x": 4}, "ghost": {"x": 1}})
	require.Len(t, issues, 1)
	assert.Equal(t, CodeUnknownOverride, issues[0].Code)
	assert.Equal(t, workflow.SeverityWarning, issues[0].Severity)
}

func TestValidateDeclarations_TypeProblems(t *testing.T) {
	g := workflow.New(testRegistry(t))
	require.NoError(t, g.AddNode("numbers", "A", nil))
	require.NoError(t, g.AddNode("adder", "B", map[string]any{"step": "fast", "color": "red"}))
	require.NoError(t, g.AddNode("lister", "L", nil))
	require.NoError(t, g.AddConnection("A", "name", "B", "x"))
	require.NoError(t, g.AddConnection("A", "items", "L", "items"))
	require.NoError(t, g.AddConnection("A", "value", "L", "bogus"))

	issues := ValidateDeclarations(build(t, g), nil)

	byCode := make(map[string][]ValidationIssue)
	for _, i := range issues {
		byCode[i.Code] = append(byCode[i.Code], i)
	}

	require.Len(t, byCode[CodeTypeMismatch], 1)
	assert.Equal(t, workflow.SeverityWarning, byCode[CodeTypeMismatch][0].Severity)
	assert.Equal(t, "x", byCode[CodeTypeMismatch][0].Parameter)

	require.Len(t, byCode[CodeInvalidType], 1)
	assert.Equal(t, "step", byCode[CodeInvalidType][0].Parameter)
	assert.Equal(t, workflow.SeverityError, byCode[CodeInvalidType][0].Severity)

	require.Len(t, byCode[CodeUnknownParameter], 1)
	assert.Equal(t, "color", byCode[CodeUnknownParameter][0].Parameter)

	require.Len(t, byCode[CodeUndeclaredParameter], 1)
	assert.Equal(t, "L", byCode[CodeUndeclaredParameter][0].NodeID)
}

func TestValidateDeclarations_CycleWithoutPolicy(t *testing.T) {
	g := workflow.New(testRegistry(t))
	require.NoError(t, g.AddNode("adder", "C", map[string]any{"x": 0}))
	require.NoError(t, g.AddConnection("C", "x", "C", "x"))

	issues := ValidateDeclarations(build(t, g), nil)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeCycleWithoutPolicy, issues[0].Code)
	assert.False(t, HasErrors(issues))
}

func TestValidateContracts(t *testing.T) {
	t.Run("compatible", func(t *testing.T) {
		g := workflow.New(testRegistry(t))
		require.NoError(t, g.AddNode("numbers", "A", nil))
		require.NoError(t, g.AddNode("lister", "L", nil))
		require.NoError(t, g.AddNode("anything", "Z", nil))
		require.NoError(t, g.AddConnection("A", "items", "L", "items"))
		require.NoError(t, g.AddConnection("A", "", "Z", "in"))

		ok, issues := ValidateContracts(build(t, g))
		assert.True(t, ok)
		assert.Empty(t, issues)
	})

	t.Run("list input from scalar output", func(t *testing.T) {
		g := workflow.New(testRegistry(t))
		require.NoError(t, g.AddNode("numbers", "A", nil))
		require.NoError(t, g.AddNode("lister", "L", nil))
		require.NoError(t, g.AddConnection("A", "value", "L", "items"))

		ok, issues := ValidateContracts(build(t, g))
		assert.False(t, ok)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0], "integer output cannot feed list parameter")
	})

	t.Run("undocumented output", func(t *testing.T) {
		g := workflow.New(testRegistry(t))
		require.NoError(t, g.AddNode("dynamic", "D", nil))
		require.NoError(t, g.AddNode("numbers", "A", nil))
		require.NoError(t, g.AddNode("lister", "L", nil))
		require.NoError(t, g.AddNode("anything", "Z", nil))
		require.NoError(t, g.AddConnection("D", "rows", "L", "items"))
		require.NoError(t, g.AddConnection("A", "missing", "Z", "in"))

		ok, issues := ValidateContracts(build(t, g))
		assert.False(t, ok)
		assert.Len(t, issues, 2)
	})

	t.Run("integer widens to float", func(t *testing.T) {
		g := workflow.New(testRegistry(t))
		require.NoError(t, g.AddNode("numbers", "A", nil))
		require.NoError(t, g.AddNode("adder", "B", nil))
		require.NoError(t, g.AddConnection("A", "value", "B", "x"))
		require.NoError(t, g.AddConnection("A", "value", "B", "step"))

		ok, _ := ValidateContracts(build(t, g))
		assert.True(t, ok)
	})
}

func TestParameterValidationError(t *testing.T) {
	err := &ParameterValidationError{Issues: []ValidationIssue{
		{Severity: workflow.SeverityError, NodeID: "B", Parameter: "x", Code: CodeMissingRequired, Message: "missing"},
		{Severity: workflow.SeverityWarning, NodeID: "B", Code: CodeUnknownParameter, Message: "ignored"},
	}}

	assert.True(t, errors.Is(err, flowerrors.ErrParameterValidation))
	assert.True(t, flowerrors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "B.x")
	assert.NotContains(t, err.Error(), "ignored")
}

func TestSchemaValidator(t *testing.T) {
	reg := testRegistry(t)
	desc, err := reg.Resolve("adder")
	require.NoError(t, err)

	schema := InputSchema(desc)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"x"}, schema["required"])

	v := NewSchemaValidator()
	assert.NoError(t, v.Validate(desc, map[string]any{"x": 3, "step": 1.5}))

	err = v.Validate(desc, map[string]any{"x": "three"})
	require.Error(t, err)
	var inputErr *InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "adder", inputErr.NodeType)
	assert.NotEmpty(t, inputErr.Details)

	err = v.Validate(desc, map[string]any{})
	assert.Error(t, err)
}
