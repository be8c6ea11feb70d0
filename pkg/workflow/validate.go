package workflow

import (
	"fmt"
	"strings"
)

// Diagnostic codes reported by Validate.
const (
	CodeUnreachableNode       = "UNREACHABLE_NODE"
	CodeIsolatedRequiredInput = "ISOLATED_REQUIRED_INPUT"
	CodeCycleWithoutPolicy    = "CYCLE_WITHOUT_POLICY"
	CodeSelfFeedback          = "SELF_FEEDBACK"
)

// Validate runs structural checks on the snapshot: every node must be
// reachable from the entry nodes and isolated nodes must not depend on inputs
// nobody supplies. Cyclic regions without an explicit policy and nodes feeding
// a key back into itself are reported as warnings.
func (g *ExecutableGraph) Validate() ValidationResult {
	var diags []Diagnostic

	reached := make(map[string]bool, len(g.nodes))
	queue := g.EntryNodes()
	for _, id := range queue {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range g.outgoing[id] {
			if !reached[c.TargetID] {
				reached[c.TargetID] = true
				queue = append(queue, c.TargetID)
			}
		}
	}
	for _, n := range g.nodes {
		if !reached[n.ID] {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Code:     CodeUnreachableNode,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("node is not reachable from entry nodes %v", g.EntryNodes()),
			})
		}
	}

	for _, n := range g.nodes {
		if len(g.incoming[n.ID]) > 0 || len(g.outgoing[n.ID]) > 0 || n.Descriptor == nil {
			continue
		}
		var missing []string
		for _, p := range n.Descriptor.Parameters {
			if !p.Required || p.HasDefault() {
				continue
			}
			if _, ok := n.Config[p.Name]; !ok {
				missing = append(missing, p.Name)
			}
		}
		if len(missing) > 0 {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Code:     CodeIsolatedRequiredInput,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("isolated node has no source for required parameters: %s", strings.Join(missing, ", ")),
			})
		}
	}

	for _, region := range g.plan.Regions {
		if g.explicit[region.ID] {
			continue
		}
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Code:     CodeCycleWithoutPolicy,
			NodeID:   region.Entry,
			Message: fmt.Sprintf("cyclic region %v has no explicit policy; bounded by %d iterations",
				region.Members, DefaultMaxIterations),
		})
	}

	for _, c := range g.connections {
		if c.SourceID != c.TargetID || c.SourceKey != c.TargetKey {
			continue
		}
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Code:     CodeSelfFeedback,
			NodeID:   c.SourceID,
			Message:  fmt.Sprintf("connection %s feeds a key back into itself", c),
		})
	}

	result := ValidationResult{Valid: true, Diagnostics: diags}
	for _, d := range diags {
		if d.Severity == SeverityError {
			result.Valid = false
			break
		}
	}
	return result
}
