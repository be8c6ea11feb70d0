package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_TableOutput(t *testing.T) {
	out, err := execute(t, "run", "-f", "testdata/countdown.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "finished at 5")
	assert.Contains(t, out, "cycle:step")
	assert.Contains(t, out, "success")
}

func TestRun_JSONOutput(t *testing.T) {
	out, err := execute(t, "run", "-f", "testdata/routing.yaml", "-o", "json")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "routing", report.Workflow)
	assert.Equal(t, "success", string(report.Status))
	assert.InDelta(t, 108.0, report.Results["discount"]["total"], 0.001)
	assert.Contains(t, report.Skipped, "regular")
}

func TestRun_Params(t *testing.T) {
	params := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(params, []byte("step:\n  limit: 3\n"), 0o600))

	out, err := execute(t, "run", "-f", "testdata/countdown.yaml", "--params", params, "-o", "json")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, float64(3), report.Results["step"]["counter"])
	assert.Equal(t, 3, report.Iterations["cycle:step"])
}

func TestRun_Stats(t *testing.T) {
	out, err := execute(t, "run", "-f", "testdata/countdown.yaml", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "increment")
	assert.Contains(t, out, "Cycle iterations: 5")
}

func TestRun_ParallelMode(t *testing.T) {
	_, err := execute(t, "run", "-f", "testdata/routing.yaml", "--mode", "parallel")
	require.NoError(t, err)
}

func TestRun_Failure(t *testing.T) {
	_, err := execute(t, "run", "-f", "testdata/failing.yaml")
	assert.Error(t, err)
}

func TestRun_SQLiteCheckpoints(t *testing.T) {
	db := filepath.Join(t.TempDir(), "checkpoints.db")
	out, err := execute(t, "run", "-f", "testdata/countdown.yaml", "--checkpoint-db", db, "-o", "json")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	// a finished run resumes to the same results without re-executing anything
	out, err = execute(t, "run", "-f", "testdata/countdown.yaml", "--checkpoint-db", db, "--resume", report.RunID, "-o", "json")
	require.NoError(t, err)
	var resumed runReport
	require.NoError(t, json.Unmarshal([]byte(out), &resumed))
	assert.Equal(t, report.Results, resumed.Results)
}

func TestRun_ResumeNeedsStore(t *testing.T) {
	_, err := execute(t, "run", "-f", "testdata/countdown.yaml", "--resume", "abc")
	assert.ErrorContains(t, err, "checkpoint store")
}

func TestRun_BadOutput(t *testing.T) {
	_, err := execute(t, "run", "-f", "testdata/countdown.yaml", "-o", "xml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", "-f", "testdata/routing.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	_, err = execute(t, "validate", "-f", "testdata/failing.yaml")
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	out, err := execute(t, "plan", "-f", "testdata/countdown.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "cycle:step")
	assert.Contains(t, out, "step->step")
	assert.Contains(t, out, "label")
}

func TestTypes(t *testing.T) {
	out, err := execute(t, "types")
	require.NoError(t, err)
	for _, name := range []string{"constant", "switch", "script", "json_query", "text"} {
		assert.Contains(t, out, name)
	}
}

func TestMissingFile(t *testing.T) {
	_, err := execute(t, "run", "-f", "testdata/nope.yaml")
	assert.Error(t, err)
}
