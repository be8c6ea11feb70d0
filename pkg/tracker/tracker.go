// Package tracker assigns run identifiers and keeps run records with their
// final results, failure attribution and per-node queries.
package tracker

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// InternalPrefix marks bookkeeping keys that are pruned from public results.
const InternalPrefix = "__"

// DefaultMaxRuns bounds the number of finished runs kept in memory.
const DefaultMaxRuns = 1000

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Results maps node id to that node's output mapping.
type Results map[string]map[string]any

// RunRecord describes one invocation of a workflow.
type RunRecord struct {
	RunID      string
	Workflow   string
	Status     Status
	Results    Results
	FailedNode string
	Err        error
	// Skipped maps skipped node ids to the reason
	Skipped map[string]string
	// Iterations maps cyclic region ids to completed iteration counts
	Iterations map[string]int
	// Recovered maps node ids to errors a cycle policy absorbed
	Recovered  map[string]string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took (so far, if still running).
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxRuns bounds retained finished runs (<= 0 keeps DefaultMaxRuns).
func WithMaxRuns(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxRuns = n
		}
	}
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tracker stores run records. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	runs     map[string]*RunRecord
	finished []string
	maxRuns  int
	logger   *zap.Logger
}

// New creates a tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		runs:    make(map[string]*RunRecord),
		maxRuns: DefaultMaxRuns,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewRunID generates a globally unique run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Start registers a running run. Starting an existing run id (a resumed run)
// puts it back into the running state and keeps its original start time.
func (t *Tracker) Start(runID, workflow string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.runs[runID]; ok {
		rec.Status = StatusRunning
		rec.FailedNode = ""
		rec.Err = nil
		rec.FinishedAt = time.Time{}
		t.removeFinished(runID)
		return
	}
	t.runs[runID] = &RunRecord{
		RunID:      runID,
		Workflow:   workflow,
		Status:     StatusRunning,
		Skipped:    make(map[string]string),
		Iterations: make(map[string]int),
		Recovered:  make(map[string]string),
		StartedAt:  time.Now(),
	}
	t.logger.Debug("Run started", zap.String("run_id", runID), zap.String("workflow", workflow))
}

// Finalize marks the run successful and returns the public results built from snapshot.
func (t *Tracker) Finalize(runID string, snapshot map[string]map[string]any) (Results, error) {
	return t.finish(runID, StatusSuccess, "", nil, snapshot)
}

// Fail marks the run failed, attributing err to nodeID, and returns the partial results.
func (t *Tracker) Fail(runID, nodeID string, err error, snapshot map[string]map[string]any) (Results, error) {
	return t.finish(runID, StatusFailed, nodeID, err, snapshot)
}

func (t *Tracker) finish(runID string, status Status, nodeID string, err error, snapshot map[string]map[string]any) (Results, error) {
	results := Prune(snapshot)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.runs[runID]
	if !ok {
		return results, flowerrors.RunNotFound(runID)
	}
	rec.Status = status
	rec.Results = results
	rec.FailedNode = nodeID
	rec.Err = err
	rec.FinishedAt = time.Now()

	t.finished = append(t.finished, runID)
	for len(t.finished) > t.maxRuns {
		oldest := t.finished[0]
		t.finished = t.finished[1:]
		delete(t.runs, oldest)
	}

	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Duration("duration", rec.FinishedAt.Sub(rec.StartedAt)),
		zap.Int("nodes", len(results)),
	}
	if err != nil {
		fields = append(fields, zap.String("node_id", nodeID), zap.Error(err))
	}
	t.logger.Debug("Run finished", fields...)
	return results.clone(), nil
}

// MarkSkipped records that nodeID was skipped in the run.
func (t *Tracker) MarkSkipped(runID, nodeID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.runs[runID]; ok {
		rec.Skipped[nodeID] = reason
	}
}

// SetIterations records the number of completed iterations of a cyclic region.
func (t *Tracker) SetIterations(runID, regionID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.runs[runID]; ok {
		rec.Iterations[regionID] = n
	}
}

// RecordRecovered notes an error that a recovery policy absorbed without failing the run.
func (t *Tracker) RecordRecovered(runID, nodeID string, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.runs[runID]; ok {
		rec.Recovered[nodeID] = err.Error()
	}
}

// Get returns a copy of the run record.
func (t *Tracker) Get(runID string) (RunRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.runs[runID]
	if !ok {
		return RunRecord{}, flowerrors.RunNotFound(runID)
	}
	cp := *rec
	cp.Results = rec.Results.clone()
	cp.Skipped = make(map[string]string, len(rec.Skipped))
	for k, v := range rec.Skipped {
		cp.Skipped[k] = v
	}
	cp.Iterations = make(map[string]int, len(rec.Iterations))
	for k, v := range rec.Iterations {
		cp.Iterations[k] = v
	}
	cp.Recovered = make(map[string]string, len(rec.Recovered))
	for k, v := range rec.Recovered {
		cp.Recovered[k] = v
	}
	return cp, nil
}

// GetNodeResult returns the output a node produced in a run.
// Fails with ErrRunNotFound or ErrNodeNotExecuted.
func (t *Tracker) GetNodeResult(runID, nodeID string) (map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.runs[runID]
	if !ok {
		return nil, flowerrors.RunNotFound(runID)
	}
	out, ok := rec.Results[nodeID]
	if !ok {
		return nil, flowerrors.NodeNotExecuted(runID, nodeID)
	}
	return copyOutput(out), nil
}

// Runs returns the ids of all retained runs, oldest finished first, then running ones.
func (t *Tracker) Runs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := append([]string(nil), t.finished...)
	for id, rec := range t.runs {
		if rec.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Tracker) removeFinished(runID string) {
	for i, id := range t.finished {
		if id == runID {
			t.finished = append(t.finished[:i], t.finished[i+1:]...)
			return
		}
	}
}

// Prune converts an execution context snapshot into public results, dropping
// internal node ids and output keys that start with InternalPrefix. Values
// are deep-copied.
func Prune(snapshot map[string]map[string]any) Results {
	results := make(Results, len(snapshot))
	for nodeID, out := range snapshot {
		if strings.HasPrefix(nodeID, InternalPrefix) {
			continue
		}
		clean := make(map[string]any, len(out))
		for k, v := range out {
			if strings.HasPrefix(k, InternalPrefix) {
				continue
			}
			clean[k] = workflow.CopyValue(v)
		}
		results[nodeID] = clean
	}
	return results
}

func (r Results) clone() Results {
	if r == nil {
		return nil
	}
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = copyOutput(v)
	}
	return out
}

func copyOutput(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return workflow.CopyOutput(m)
}
