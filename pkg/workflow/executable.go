package workflow

import (
	"github.com/wehubfusion/flowgraph/pkg/resolver"
)

// ExecutableGraph is an immutable snapshot of a Graph with its resolved plan.
type ExecutableGraph struct {
	name        string
	nodes       []*Node
	index       map[string]*Node
	connections []Connection
	incoming    map[string][]Connection
	outgoing    map[string][]Connection
	plan        *resolver.Plan
	policies    map[string]CyclePolicy
	explicit    map[string]bool
	entries     []string
}

// Name returns the workflow name.
func (g *ExecutableGraph) Name() string {
	return g.name
}

// Nodes returns the node instances in insertion order.
// The returned nodes must not be modified.
func (g *ExecutableGraph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Node looks up a node by id.
func (g *ExecutableGraph) Node(nodeID string) (*Node, bool) {
	n, ok := g.index[nodeID]
	return n, ok
}

// Connections returns all connections in insertion order.
func (g *ExecutableGraph) Connections() []Connection {
	return append([]Connection(nil), g.connections...)
}

// Incoming returns the connections targeting nodeID in insertion order.
func (g *ExecutableGraph) Incoming(nodeID string) []Connection {
	return g.incoming[nodeID]
}

// Outgoing returns the connections leaving nodeID in insertion order.
func (g *ExecutableGraph) Outgoing(nodeID string) []Connection {
	return g.outgoing[nodeID]
}

// Plan returns the resolved execution plan.
func (g *ExecutableGraph) Plan() *resolver.Plan {
	return g.plan
}

// Order returns the flattened node execution order.
func (g *ExecutableGraph) Order() []string {
	return g.plan.Order()
}

// Policy returns the cycle policy of a region, defaults applied.
func (g *ExecutableGraph) Policy(regionID string) CyclePolicy {
	if p, ok := g.policies[regionID]; ok {
		return p
	}
	return CyclePolicy{}.WithDefaults()
}

// HasExplicitPolicy reports whether a region's policy was set with SetCyclePolicy.
func (g *ExecutableGraph) HasExplicitPolicy(regionID string) bool {
	return g.explicit[regionID]
}

// EntryNodes returns the designated entry nodes, or the default entries:
// the first node of every plan step that has no incoming connection from
// outside itself.
func (g *ExecutableGraph) EntryNodes() []string {
	if len(g.entries) > 0 {
		return append([]string(nil), g.entries...)
	}
	var entries []string
	for _, step := range g.plan.Steps {
		members := step.Nodes()
		external := false
		for _, id := range members {
			for _, c := range g.incoming[id] {
				if g.plan.StepIndex(c.SourceID) != g.plan.StepIndex(id) {
					external = true
				}
			}
		}
		if !external {
			entries = append(entries, members[0])
		}
	}
	return entries
}
