package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

func TestMemoryStore_SaveLatestList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Latest(ctx, "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerrors.ErrCheckpointNotFound))

	for seq := 1; seq <= 3; seq++ {
		c := New("run-1", "wf", seq)
		c.NodeID = "n"
		c.Outputs["A"] = map[string]any{"value": seq}
		require.NoError(t, store.Save(ctx, c))
	}

	latest, err := store.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Sequence)
	assert.Equal(t, 3, latest.Outputs["A"]["value"])

	all, err := store.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Sequence)

	require.NoError(t, store.Delete(ctx, "run-1"))
	all, err = store.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore_CopiesOnSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	c := New("run-1", "wf", 1)
	c.Outputs["A"] = map[string]any{"nested": map[string]any{"k": "v"}}
	require.NoError(t, store.Save(ctx, c))
	c.Outputs["A"]["nested"].(map[string]any)["k"] = "changed"

	latest, err := store.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "v", latest.Outputs["A"]["nested"].(map[string]any)["k"])
}

func TestMemoryStore_MaxPerRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithMaxPerRun(2))
	for seq := 1; seq <= 5; seq++ {
		require.NoError(t, store.Save(ctx, New("run-1", "wf", seq)))
	}

	all, err := store.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 4, all[0].Sequence)
	assert.Equal(t, 5, all[1].Sequence)
}

func TestEncodeDecode(t *testing.T) {
	c := New("run-1", "wf", 7)
	c.Completed = []string{"A", "cycle:C"}
	c.Iterations["cycle:C"] = 4
	c.Outputs["A"] = map[string]any{"value": 1}

	data, err := Encode(c)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, c.ID, decoded.ID)
	assert.True(t, decoded.IsCompleted("cycle:C"))
	assert.False(t, decoded.IsCompleted("B"))
	assert.Equal(t, 4, decoded.Iterations["cycle:C"])
	assert.Equal(t, 1, decoded.Outputs["A"]["value"])

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

func TestDecode_PreservesNumbers(t *testing.T) {
	c := New("run-1", "wf", 1)
	c.Outputs["B"] = map[string]any{
		"result": 2,
		"big":    int64(9007199254740993),
		"ratio":  0.5,
		"nested": map[string]any{"items": []any{1, 2.5, "x"}},
	}

	data, err := Encode(c)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	out := decoded.Outputs["B"]
	assert.Equal(t, 2, out["result"])
	assert.Equal(t, 9007199254740993, out["big"])
	assert.Equal(t, 0.5, out["ratio"])
	assert.Equal(t, map[string]any{"items": []any{1, 2.5, "x"}}, out["nested"])
}

func TestSave_RequiresRunID(t *testing.T) {
	err := NewMemoryStore().Save(context.Background(), &Checkpoint{})
	assert.Error(t, err)
}
