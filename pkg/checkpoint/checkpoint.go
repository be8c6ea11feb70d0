// Package checkpoint defines the checkpoint-save/resume hook the runtime calls
// after every completed node, and an in-memory Store.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

// Checkpoint is a snapshot of a run's execution context taken after a node completed.
type Checkpoint struct {
	ID       string `json:"id"`
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	// Sequence increases by one with every checkpoint of a run
	Sequence int `json:"sequence"`
	// NodeID is the node or cyclic region whose completion triggered the checkpoint
	NodeID string `json:"node_id"`
	// Outputs is the execution context: node id -> latest output
	Outputs map[string]map[string]any `json:"outputs"`
	// Completed lists plan steps (node ids or region ids) that finished entirely
	Completed []string `json:"completed"`
	// Skipped maps skipped node ids to the reason
	Skipped map[string]string `json:"skipped,omitempty"`
	// Iterations maps region ids to finished iteration counts
	Iterations map[string]int `json:"iterations,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// New creates a checkpoint with a fresh id.
func New(runID, workflow string, sequence int) *Checkpoint {
	return &Checkpoint{
		ID:         uuid.New().String(),
		RunID:      runID,
		Workflow:   workflow,
		Sequence:   sequence,
		Outputs:    make(map[string]map[string]any),
		Skipped:    make(map[string]string),
		Iterations: make(map[string]int),
		CreatedAt:  time.Now().UTC(),
	}
}

// IsCompleted reports whether a plan step finished before the checkpoint.
func (c *Checkpoint) IsCompleted(stepID string) bool {
	for _, id := range c.Completed {
		if id == stepID {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Outputs = make(map[string]map[string]any, len(c.Outputs))
	for id, out := range c.Outputs {
		cp.Outputs[id] = copyMap(out)
	}
	cp.Completed = append([]string(nil), c.Completed...)
	cp.Skipped = make(map[string]string, len(c.Skipped))
	for k, v := range c.Skipped {
		cp.Skipped[k] = v
	}
	cp.Iterations = make(map[string]int, len(c.Iterations))
	for k, v := range c.Iterations {
		cp.Iterations[k] = v
	}
	return &cp
}

// Encode serialises the checkpoint as JSON.
func Encode(c *Checkpoint) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint %s: %w", c.ID, err)
	}
	return data, nil
}

// Decode parses a JSON checkpoint. Integral numbers in outputs come back as
// int, every other number as float64.
func Decode(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if c.Outputs == nil {
		c.Outputs = make(map[string]map[string]any)
	}
	for id, out := range c.Outputs {
		for k, v := range out {
			out[k] = fromJSON(v)
		}
		c.Outputs[id] = out
	}
	if c.Skipped == nil {
		c.Skipped = make(map[string]string)
	}
	if c.Iterations == nil {
		c.Iterations = make(map[string]int)
	}
	return &c, nil
}

// Store persists checkpoints. Implementations must be safe for concurrent use.
type Store interface {
	// Save persists a checkpoint
	Save(ctx context.Context, c *Checkpoint) error
	// Latest returns the checkpoint with the highest sequence, or ErrCheckpointNotFound
	Latest(ctx context.Context, runID string) (*Checkpoint, error)
	// List returns a run's checkpoints ordered by sequence
	List(ctx context.Context, runID string) ([]*Checkpoint, error)
	// Delete removes every checkpoint of a run
	Delete(ctx context.Context, runID string) error
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string][]*Checkpoint
	maxPerRun int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxPerRun keeps only the newest n checkpoints of each run (0 keeps all).
func WithMaxPerRun(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxPerRun = n
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{runs: make(map[string][]*Checkpoint)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, c *Checkpoint) error {
	if c == nil || c.RunID == "" {
		return fmt.Errorf("checkpoint requires a run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.runs[c.RunID], c.Copy())
	sort.SliceStable(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	if s.maxPerRun > 0 && len(list) > s.maxPerRun {
		list = list[len(list)-s.maxPerRun:]
	}
	s.runs[c.RunID] = list
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(ctx context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.runs[runID]
	if len(list) == 0 {
		return nil, flowerrors.CheckpointNotFound(runID)
	}
	return list[len(list)-1].Copy(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, runID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.runs[runID]
	out := make([]*Checkpoint, len(list))
	for i, c := range list {
		out[i] = c.Copy()
	}
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

var _ Store = (*MemoryStore)(nil)

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// fromJSON replaces json.Number values decoded with UseNumber.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil && i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = fromJSON(e)
		}
	case []any:
		for i, e := range x {
			x[i] = fromJSON(e)
		}
	}
	return v
}
