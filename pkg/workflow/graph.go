// Package workflow builds directed graphs of node instances wired by connections.
//
// A Graph is mutable and not safe for concurrent use. Build produces an
// immutable ExecutableGraph which the runtime executes and which may be shared
// between goroutines.
package workflow

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/resolver"
)

type policyBinding struct {
	anchor string
	policy CyclePolicy
}

// Graph is a workflow under construction.
type Graph struct {
	name        string
	registry    *node.Registry
	logger      *zap.Logger
	nodes       []*Node
	index       map[string]*Node
	connections []Connection
	policies    []policyBinding
	entries     []string
}

// Option configures a Graph.
type Option func(*Graph)

// WithName names the workflow; the name appears in logs, spans and run records.
func WithName(name string) Option {
	return func(g *Graph) {
		g.name = name
	}
}

// WithLogger sets the graph's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates an empty graph whose node types are resolved against registry.
func New(registry *node.Registry, opts ...Option) *Graph {
	g := &Graph{
		name:     "workflow",
		registry: registry,
		logger:   zap.NewNop(),
		index:    make(map[string]*Node),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the workflow name.
func (g *Graph) Name() string {
	return g.name
}

// AddNode adds a node instance of typeName under nodeID.
// Fails with ErrDuplicateNodeID or ErrUnknownNodeType.
func (g *Graph) AddNode(typeName, nodeID string, config map[string]any, opts ...NodeOption) error {
	if nodeID == "" {
		return flowerrors.NewError(flowerrors.CodeUnknownNode, "node id cannot be empty", flowerrors.ErrUnknownNode)
	}
	if _, exists := g.index[nodeID]; exists {
		return flowerrors.DuplicateNodeID(nodeID)
	}
	desc, err := g.registry.Resolve(typeName)
	if err != nil {
		return err
	}

	n := &Node{
		ID:         nodeID,
		Type:       typeName,
		Config:     copyMap(config),
		Descriptor: desc,
		Index:      len(g.nodes),
	}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes = append(g.nodes, n)
	g.index[nodeID] = n

	g.logger.Debug("Added node",
		zap.String("workflow", g.name),
		zap.String("node_id", nodeID),
		zap.String("node_type", typeName))
	return nil
}

// AddConnection routes sourceKey of sourceID into targetKey of targetID.
// Fails with ErrUnknownNode naming the missing endpoint, source first.
func (g *Graph) AddConnection(sourceID, sourceKey, targetID, targetKey string, opts ...ConnectionOption) error {
	if _, ok := g.index[sourceID]; !ok {
		return flowerrors.UnknownNode(sourceID)
	}
	if _, ok := g.index[targetID]; !ok {
		return flowerrors.UnknownNode(targetID)
	}

	c := Connection{
		SourceID:  sourceID,
		SourceKey: sourceKey,
		TargetID:  targetID,
		TargetKey: targetKey,
	}
	for _, opt := range opts {
		opt(&c)
	}
	g.connections = append(g.connections, c)

	g.logger.Debug("Added connection",
		zap.String("workflow", g.name),
		zap.String("connection", c.String()))
	return nil
}

// SetCyclePolicy attaches policy to the cyclic region containing anchorNodeID.
// Region membership is checked by Build.
func (g *Graph) SetCyclePolicy(anchorNodeID string, policy CyclePolicy) error {
	if _, ok := g.index[anchorNodeID]; !ok {
		return flowerrors.UnknownNode(anchorNodeID)
	}
	if policy.MaxIterations < 0 {
		return flowerrors.InvalidCyclePolicy(anchorNodeID, "max iterations cannot be negative")
	}
	if policy.Exit != nil {
		if policy.Exit.Predicate == nil {
			return flowerrors.InvalidCyclePolicy(anchorNodeID, "exit condition has no predicate")
		}
		if _, ok := g.index[policy.Exit.NodeID]; !ok {
			return flowerrors.UnknownNode(policy.Exit.NodeID)
		}
	}
	g.policies = append(g.policies, policyBinding{anchor: anchorNodeID, policy: policy})
	return nil
}

// SetEntryNodes designates the nodes reachability is checked from.
func (g *Graph) SetEntryNodes(nodeIDs ...string) error {
	for _, id := range nodeIDs {
		if _, ok := g.index[id]; !ok {
			return flowerrors.UnknownNode(id)
		}
	}
	g.entries = append([]string(nil), nodeIDs...)
	return nil
}

// Node returns a copy of the node instance.
func (g *Graph) Node(nodeID string) (Node, bool) {
	n, ok := g.index[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Connections returns a copy of the connections in insertion order.
func (g *Graph) Connections() []Connection {
	return append([]Connection(nil), g.connections...)
}

// Build snapshots the graph into an ExecutableGraph and resolves its plan.
// Cycles are allowed; dangling connections and misplaced cycle policies are not.
func (g *Graph) Build() (*ExecutableGraph, error) {
	eg := &ExecutableGraph{
		name:     g.name,
		nodes:    make([]*Node, len(g.nodes)),
		index:    make(map[string]*Node, len(g.nodes)),
		incoming: make(map[string][]Connection),
		outgoing: make(map[string][]Connection),
		policies: make(map[string]CyclePolicy),
		explicit: make(map[string]bool),
		entries:  append([]string(nil), g.entries...),
	}

	ids := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		cp := *n
		cp.Config = copyMap(n.Config)
		if n.Retry != nil {
			r := *n.Retry
			cp.Retry = &r
		}
		eg.nodes[i] = &cp
		eg.index[cp.ID] = &cp
		ids[i] = cp.ID
	}

	edges := make([]resolver.Edge, 0, len(g.connections))
	for _, c := range g.connections {
		if _, ok := eg.index[c.SourceID]; !ok {
			return nil, danglingConnection(c, c.SourceID)
		}
		if _, ok := eg.index[c.TargetID]; !ok {
			return nil, danglingConnection(c, c.TargetID)
		}
		eg.connections = append(eg.connections, c)
		eg.incoming[c.TargetID] = append(eg.incoming[c.TargetID], c)
		eg.outgoing[c.SourceID] = append(eg.outgoing[c.SourceID], c)
		edges = append(edges, resolver.Edge{From: c.SourceID, To: c.TargetID})
	}

	plan, err := resolver.Resolve(ids, edges)
	if err != nil {
		return nil, err
	}
	eg.plan = plan

	for _, b := range g.policies {
		region, ok := plan.RegionOf(b.anchor)
		if !ok {
			return nil, flowerrors.InvalidCyclePolicy(b.anchor, "node is not part of a cycle")
		}
		if eg.explicit[region.ID] {
			return nil, flowerrors.InvalidCyclePolicy(b.anchor, fmt.Sprintf("region %s already has a policy", region.ID))
		}
		if b.policy.Exit != nil && !region.Contains(b.policy.Exit.NodeID) {
			return nil, flowerrors.InvalidCyclePolicy(b.anchor,
				fmt.Sprintf("exit node %q is outside region %s", b.policy.Exit.NodeID, region.ID))
		}
		eg.policies[region.ID] = b.policy.WithDefaults()
		eg.explicit[region.ID] = true
	}
	for _, region := range plan.Regions {
		if _, ok := eg.policies[region.ID]; !ok {
			eg.policies[region.ID] = CyclePolicy{}.WithDefaults()
		}
	}

	g.logger.Debug("Built workflow",
		zap.String("workflow", g.name),
		zap.Int("nodes", len(eg.nodes)),
		zap.Int("connections", len(eg.connections)),
		zap.Int("regions", len(plan.Regions)))
	return eg, nil
}

// Validate runs structural checks and returns pass/fail with diagnostics.
func (g *Graph) Validate() ValidationResult {
	eg, err := g.Build()
	if err != nil {
		code := flowerrors.CodeInvalidDeclaration
		var fe *flowerrors.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		return ValidationResult{
			Valid:       false,
			Diagnostics: []Diagnostic{{Severity: SeverityError, Code: code, Message: err.Error()}},
		}
	}
	return eg.Validate()
}

func danglingConnection(c Connection, missing string) error {
	return flowerrors.NewError(flowerrors.CodeDanglingConnection,
		fmt.Sprintf("connection %s references missing node %q", c, missing),
		flowerrors.ErrUnknownNode)
}
