// Package resolver computes the execution plan of a workflow graph: a
// deterministic topological order of acyclic nodes interleaved with cyclic
// regions that must be executed iteratively.
package resolver

import (
	"fmt"
	"strings"
)

// Edge is a dependency between two nodes: To reads output produced by From.
type Edge struct {
	From string
	To   string
}

// String renders the edge as "From->To".
func (e Edge) String() string {
	return e.From + "->" + e.To
}

// StepKind tags a plan step.
type StepKind int

const (
	// StepNode executes a single acyclic node once.
	StepNode StepKind = iota
	// StepCycle executes a cyclic region repeatedly.
	StepCycle
)

// String returns the step kind name.
func (k StepKind) String() string {
	switch k {
	case StepNode:
		return "node"
	case StepCycle:
		return "cycle"
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Region is a strongly connected set of nodes executed iteratively.
type Region struct {
	// ID is stable across builds of the same graph: "cycle:" + Entry
	ID string
	// Entry is the node the iteration starts from
	Entry string
	// Members lists the region's nodes in per-iteration execution order
	Members []string
	// BackEdges carry values from one iteration into the next
	BackEdges []Edge

	members map[string]int
}

// Contains reports whether nodeID belongs to the region.
func (r *Region) Contains(nodeID string) bool {
	_, ok := r.members[nodeID]
	return ok
}

// Position returns the member's index in the region order, or -1.
func (r *Region) Position(nodeID string) int {
	if i, ok := r.members[nodeID]; ok {
		return i
	}
	return -1
}

// IsBackEdge reports whether from->to is a back edge of the region.
func (r *Region) IsBackEdge(from, to string) bool {
	for _, e := range r.BackEdges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// Step is one unit of the plan: either a single node or a cyclic region.
type Step struct {
	Kind   StepKind
	NodeID string
	Region *Region
	// Depth is the longest dependency chain from a source step (0 for sources).
	Depth int
}

// ID identifies the step: the node id or the region id.
func (s Step) ID() string {
	if s.Kind == StepCycle {
		return s.Region.ID
	}
	return s.NodeID
}

// Nodes returns the node ids covered by the step, in execution order.
func (s Step) Nodes() []string {
	if s.Kind == StepCycle {
		return append([]string(nil), s.Region.Members...)
	}
	return []string{s.NodeID}
}

// String renders the step for logs and the CLI.
func (s Step) String() string {
	if s.Kind == StepCycle {
		return fmt.Sprintf("cycle[%s]", strings.Join(s.Region.Members, ","))
	}
	return s.NodeID
}

// Plan is the resolved execution order of a graph.
type Plan struct {
	// Steps in sequential execution order
	Steps []Step
	// Waves groups step indices by depth; steps in one wave are independent
	Waves [][]int
	// Regions lists the cyclic regions in plan order
	Regions []*Region

	regionOf map[string]*Region
	stepOf   map[string]int
}

// RegionOf returns the cyclic region containing nodeID.
func (p *Plan) RegionOf(nodeID string) (*Region, bool) {
	r, ok := p.regionOf[nodeID]
	return r, ok
}

// Region looks up a region by id.
func (p *Plan) Region(regionID string) (*Region, bool) {
	for _, r := range p.Regions {
		if r.ID == regionID {
			return r, true
		}
	}
	return nil, false
}

// StepIndex returns the index of the step covering nodeID, or -1.
func (p *Plan) StepIndex(nodeID string) int {
	if i, ok := p.stepOf[nodeID]; ok {
		return i
	}
	return -1
}

// Order flattens the plan into a single node order (one pass through each region).
func (p *Plan) Order() []string {
	order := make([]string, 0, len(p.stepOf))
	for _, s := range p.Steps {
		order = append(order, s.Nodes()...)
	}
	return order
}

// HasCycles reports whether the plan contains any cyclic region.
func (p *Plan) HasCycles() bool {
	return len(p.Regions) > 0
}
