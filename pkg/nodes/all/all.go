// Package all registers every built-in node type.
package all

import (
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/nodes/basic"
	"github.com/wehubfusion/flowgraph/pkg/nodes/condition"
	"github.com/wehubfusion/flowgraph/pkg/nodes/date"
	"github.com/wehubfusion/flowgraph/pkg/nodes/jsonpath"
	"github.com/wehubfusion/flowgraph/pkg/nodes/script"
	"github.com/wehubfusion/flowgraph/pkg/nodes/text"
)

// Register installs all built-in node types into reg. The script node types
// are installed only when engine is non-nil.
func Register(reg *node.Registry, engine *script.Engine) error {
	for _, register := range []func(*node.Registry) error{
		basic.Register,
		condition.Register,
		date.Register,
		jsonpath.Register,
		text.Register,
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	if engine != nil {
		return script.Register(reg, engine)
	}
	return nil
}

// NewRegistry creates a registry holding every built-in node type.
func NewRegistry(engine *script.Engine) (*node.Registry, error) {
	reg := node.NewRegistry()
	if err := Register(reg, engine); err != nil {
		return nil, err
	}
	return reg, nil
}
