package all

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/flowgraph/pkg/nodes/script"
)

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.True(t, reg.Has("constant"))
	assert.True(t, reg.Has("switch"))
	assert.True(t, reg.Has("json_query"))
	assert.True(t, reg.Has("text"))
	assert.True(t, reg.Has("date_format"))
	assert.False(t, reg.Has(script.TypeScript))

	engine, err := script.NewEngine()
	require.NoError(t, err)
	defer engine.Close()

	reg, err = NewRegistry(engine)
	require.NoError(t, err)
	assert.True(t, reg.Has(script.TypeScript))
	assert.True(t, reg.Has(script.TypeScriptMap))
	assert.Equal(t, 14, reg.Count())
}
