package contract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// ValidateDeclarations checks every node instance against its type's parameter
// declarations. A required parameter must be supplied by static config, an
// override, an incoming connection or a default; otherwise an error-severity
// issue is reported. Returns nil when the graph is valid.
func ValidateDeclarations(g *workflow.ExecutableGraph, overrides map[string]map[string]any) []ValidationIssue {
	var issues []ValidationIssue

	for _, n := range g.Nodes() {
		desc := n.Descriptor
		connected := make(map[string]bool)

		for _, c := range g.Incoming(n.ID) {
			param, ok := desc.Parameter(c.TargetKey)
			if !ok {
				issues = append(issues, ValidationIssue{
					Severity:  workflow.SeverityError,
					NodeID:    n.ID,
					Parameter: c.TargetKey,
					Code:      CodeUndeclaredParameter,
					Message:   fmt.Sprintf("connection %s targets a parameter %s does not declare", c, n.Type),
				})
				continue
			}
			connected[c.TargetKey] = true

			src, known := sourceType(g, c)
			if known && !node.Compatible(src, param.Type) {
				issues = append(issues, ValidationIssue{
					Severity:  workflow.SeverityWarning,
					NodeID:    n.ID,
					Parameter: c.TargetKey,
					Code:      CodeTypeMismatch,
					Message:   fmt.Sprintf("connection %s delivers %s into a %s parameter", c, src, param.Type),
				})
			}
		}

		issues = append(issues, checkLiterals(n, n.Config, "config")...)
		override := overrides[n.ID]
		issues = append(issues, checkLiterals(n, override, "override")...)

		for _, p := range desc.Parameters {
			if !p.Required {
				continue
			}
			if _, ok := n.Config[p.Name]; ok {
				continue
			}
			if _, ok := override[p.Name]; ok {
				continue
			}
			if connected[p.Name] || p.HasDefault() {
				continue
			}
			issues = append(issues, ValidationIssue{
				Severity:  workflow.SeverityError,
				NodeID:    n.ID,
				Parameter: p.Name,
				Code:      CodeMissingRequired,
				Message:   fmt.Sprintf("required %s parameter %q has no config, override, connection or default", p.Type, p.Name),
			})
		}
	}

	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		if _, ok := g.Node(id); !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		issues = append(issues, ValidationIssue{
			Severity: workflow.SeverityWarning,
			NodeID:   id,
			Code:     CodeUnknownOverride,
			Message:  "parameter override targets a node that is not in the graph",
		})
	}

	for _, region := range g.Plan().Regions {
		if g.HasExplicitPolicy(region.ID) {
			continue
		}
		issues = append(issues, ValidationIssue{
			Severity: workflow.SeverityWarning,
			NodeID:   region.Entry,
			Code:     CodeCycleWithoutPolicy,
			Message: fmt.Sprintf("cyclic region [%s] has no explicit policy and is bounded by %d iterations",
				strings.Join(region.Members, ","), g.Policy(region.ID).MaxIterations),
		})
	}
	return issues
}

func checkLiterals(n *workflow.Node, values map[string]any, origin string) []ValidationIssue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []ValidationIssue
	for _, k := range keys {
		param, ok := n.Descriptor.Parameter(k)
		if !ok {
			issues = append(issues, ValidationIssue{
				Severity:  workflow.SeverityWarning,
				NodeID:    n.ID,
				Parameter: k,
				Code:      CodeUnknownParameter,
				Message:   fmt.Sprintf("%s key is not declared by %s", origin, n.Type),
			})
			continue
		}
		if !node.Matches(param.Type, values[k]) {
			issues = append(issues, ValidationIssue{
				Severity:  workflow.SeverityError,
				NodeID:    n.ID,
				Parameter: k,
				Code:      CodeInvalidType,
				Message:   fmt.Sprintf("%s value %v (%s) is not a %s", origin, values[k], node.TypeOf(values[k]), param.Type),
			})
		}
	}
	return issues
}

// sourceType returns the documented type of the value a connection delivers.
// known is false when the source output is not documented.
func sourceType(g *workflow.ExecutableGraph, c workflow.Connection) (t node.SemanticType, known bool) {
	if c.WholeSource() {
		return node.TypeMapping, true
	}
	src, ok := g.Node(c.SourceID)
	if !ok {
		return node.TypeAny, false
	}
	if out, ok := src.Descriptor.Output(c.SourceKey); ok {
		return out.Type, true
	}
	// nested paths into a documented mapping/list output are unconstrained
	head := c.SourceKey
	if i := strings.IndexAny(head, "./"); i > 0 {
		head = head[:i]
	}
	if out, ok := src.Descriptor.Output(head); ok && head != c.SourceKey {
		if out.Type == node.TypeMapping || out.Type == node.TypeList || out.Type == node.TypeAny {
			return node.TypeAny, true
		}
	}
	return node.TypeAny, false
}
