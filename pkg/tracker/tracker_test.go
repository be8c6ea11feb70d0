package tracker

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestFinalize_PrunesInternalKeys(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")

	results, err := tr.Finalize("r1", map[string]map[string]any{
		"A":        {"value": 1, "__iteration": 3},
		"__region": {"count": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, Results{"A": {"value": 1}}, results)

	rec, err := tr.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "wf", rec.Workflow)
	assert.False(t, rec.FinishedAt.IsZero())
}

func TestFail_KeepsPartialResults(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")
	boom := errors.New("boom")

	results, err := tr.Fail("r1", "B", boom, map[string]map[string]any{"A": {"value": 1}})
	require.NoError(t, err)
	assert.Equal(t, Results{"A": {"value": 1}}, results)

	rec, err := tr.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "B", rec.FailedNode)
	assert.Same(t, boom, rec.Err)
}

func TestGetNodeResult(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")
	tr.MarkSkipped("r1", "S", "trigger inactive")
	_, err := tr.Finalize("r1", map[string]map[string]any{"A": {"value": 1}})
	require.NoError(t, err)

	out, err := tr.GetNodeResult("r1", "A")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 1}, out)

	_, err = tr.GetNodeResult("nope", "A")
	assert.True(t, errors.Is(err, flowerrors.ErrRunNotFound))

	_, err = tr.GetNodeResult("r1", "S")
	assert.True(t, errors.Is(err, flowerrors.ErrNodeNotExecuted))

	rec, _ := tr.Get("r1")
	assert.Equal(t, "trigger inactive", rec.Skipped["S"])
}

func TestGet_ReturnsCopy(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")
	tr.SetIterations("r1", "cycle:C", 5)
	_, err := tr.Finalize("r1", map[string]map[string]any{"A": {"value": 1}})
	require.NoError(t, err)

	rec, _ := tr.Get("r1")
	rec.Results["A"]["value"] = 42
	rec.Iterations["cycle:C"] = 0

	again, _ := tr.Get("r1")
	assert.Equal(t, 1, again.Results["A"]["value"])
	assert.Equal(t, 5, again.Iterations["cycle:C"])
}

func TestResults_NestedValuesAreNotShared(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")
	snapshot := map[string]map[string]any{
		"A": {"value": []any{1, 2}, "meta": map[string]any{"k": "v"}},
	}
	res, err := tr.Finalize("r1", snapshot)
	require.NoError(t, err)

	res["A"]["value"].([]any)[0] = "mutated"
	snapshot["A"]["meta"].(map[string]any)["k"] = "changed"

	out, err := tr.GetNodeResult("r1", "A")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, out["value"])
	assert.Equal(t, map[string]any{"k": "v"}, out["meta"])

	out["value"].([]any)[1] = "again"
	rec, err := tr.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, rec.Results["A"]["value"])
}

func TestRetentionEvictsOldestFinished(t *testing.T) {
	tr := New(WithMaxRuns(2))
	for _, id := range []string{"r1", "r2", "r3"} {
		tr.Start(id, "wf")
		_, err := tr.Finalize(id, nil)
		require.NoError(t, err)
	}
	tr.Start("r4", "wf")

	_, err := tr.Get("r1")
	assert.True(t, errors.Is(err, flowerrors.ErrRunNotFound))
	assert.Equal(t, []string{"r2", "r3", "r4"}, tr.Runs())
}

func TestStart_ResumedRun(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")
	_, err := tr.Fail("r1", "B", errors.New("x"), nil)
	require.NoError(t, err)
	first, _ := tr.Get("r1")

	tr.Start("r1", "wf")
	rec, _ := tr.Get("r1")
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Empty(t, rec.FailedNode)
	assert.Equal(t, first.StartedAt, rec.StartedAt)
}

func TestFinalize_UnknownRun(t *testing.T) {
	tr := New()
	results, err := tr.Finalize("ghost", map[string]map[string]any{"A": {"v": 1}})
	assert.True(t, errors.Is(err, flowerrors.ErrRunNotFound))
	assert.Equal(t, Results{"A": {"v": 1}}, results)
}

func TestRecordRecovered(t *testing.T) {
	tr := New()
	tr.Start("r1", "wf")
	tr.RecordRecovered("r1", "C", errors.New("flaky"))
	tr.RecordRecovered("r1", "D", nil)
	tr.RecordRecovered("missing", "C", errors.New("ignored"))

	rec, err := tr.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C": "flaky"}, rec.Recovered)
}
