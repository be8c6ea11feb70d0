package contract

import (
	"fmt"

	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// ValidateContracts verifies that every connection carries a value whose
// documented type is compatible with the target parameter. Unlike
// ValidateDeclarations it treats an undocumented source output feeding a typed
// parameter as incompatible.
func ValidateContracts(g *workflow.ExecutableGraph) (bool, []string) {
	var issues []string

	for _, c := range g.Connections() {
		target, _ := g.Node(c.TargetID)
		param, ok := target.Descriptor.Parameter(c.TargetKey)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: %s does not declare parameter %q", c, target.Type, c.TargetKey))
			continue
		}

		src, known := sourceType(g, c)
		if !known {
			source, _ := g.Node(c.SourceID)
			if source.Descriptor.HasStaticOutputs() {
				issues = append(issues, fmt.Sprintf("%s: %s does not declare output %q", c, source.Type, c.SourceKey))
				continue
			}
			if param.Type != node.TypeAny {
				issues = append(issues, fmt.Sprintf("%s: output %q of %s is not documented as %s", c, c.SourceKey, source.Type, param.Type))
			}
			continue
		}
		if !node.Compatible(src, param.Type) {
			issues = append(issues, fmt.Sprintf("%s: %s output cannot feed %s parameter", c, src, param.Type))
		}
	}
	return len(issues) == 0, issues
}
