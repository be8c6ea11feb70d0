package runtime

import (
	"sync"

	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// entry is one node's slot in the execution context. Each slot has its own
// lock so that concurrent writers of different nodes never contend.
type entry struct {
	mu         sync.RWMutex
	output     map[string]any
	executed   bool
	skipped    bool
	skipReason string
}

// execContext is the run-scoped store of node outputs. The slot map is fixed
// at construction and only read afterwards.
type execContext struct {
	order   []string
	entries map[string]*entry
}

func newExecContext(nodeIDs []string) *execContext {
	c := &execContext{
		order:   append([]string(nil), nodeIDs...),
		entries: make(map[string]*entry, len(nodeIDs)),
	}
	for _, id := range nodeIDs {
		c.entries[id] = &entry{}
	}
	return c
}

// store replaces the node's output and clears any skip mark.
func (c *execContext) store(nodeID string, output map[string]any) {
	e := c.entries[nodeID]
	e.mu.Lock()
	e.output = output
	e.executed = true
	e.skipped = false
	e.skipReason = ""
	e.mu.Unlock()
}

// skip marks the node skipped. An output from an earlier iteration is kept.
func (c *execContext) skip(nodeID, reason string) {
	e := c.entries[nodeID]
	e.mu.Lock()
	e.skipped = true
	e.skipReason = reason
	e.mu.Unlock()
}

// output returns the node's latest output; ok is false if it never produced one.
func (c *execContext) output(nodeID string) (map[string]any, bool) {
	e, ok := c.entries[nodeID]
	if !ok {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.output, e.executed
}

func (c *execContext) isSkipped(nodeID string) bool {
	e, ok := c.entries[nodeID]
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.skipped
}

// snapshot deep-copies every produced output, keyed by node id.
func (c *execContext) snapshot() map[string]map[string]any {
	out := make(map[string]map[string]any, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		e.mu.RLock()
		if e.executed {
			out[id] = workflow.CopyOutput(e.output)
		}
		e.mu.RUnlock()
	}
	return out
}

// skipped returns the skipped node ids with their reasons.
func (c *execContext) skipped() map[string]string {
	out := make(map[string]string)
	for _, id := range c.order {
		e := c.entries[id]
		e.mu.RLock()
		if e.skipped {
			out[id] = e.skipReason
		}
		e.mu.RUnlock()
	}
	return out
}

// seed loads outputs and skip marks from a checkpoint.
func (c *execContext) seed(outputs map[string]map[string]any, skipped map[string]string) {
	for id, out := range outputs {
		if _, ok := c.entries[id]; ok {
			c.store(id, workflow.CopyOutput(out))
		}
	}
	for id, reason := range skipped {
		if _, ok := c.entries[id]; ok {
			c.skip(id, reason)
		}
	}
}
