package script

import (
	"context"
	"fmt"
	"time"

	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// TypeScript is the registered type name.
const TypeScript = "script"

// Register installs the script node types into reg, backed by engine.
// The script is a function body; it sees its input as `input` and its
// return value becomes the node output. A returned object is used as the
// output mapping, anything else is stored under "result".
func Register(reg *node.Registry, engine *Engine) error {
	if engine == nil {
		return fmt.Errorf("script engine is required")
	}
	if err := reg.Register(TypeScript, []node.ParameterDeclaration{
		node.Required("script", node.TypeString),
		node.Optional("input", node.TypeAny, nil),
		node.Optional("timeout_ms", node.TypeInteger, nil),
	}, &executor{engine: engine},
		node.WithDescription("Runs a JavaScript function body against its input"),
		node.WithOutputs(node.Out("result", node.TypeAny)),
		node.WithDynamicOutputs(),
	); err != nil {
		return err
	}
	return registerMap(reg, engine)
}

type executor struct {
	engine *Engine
}

func (x *executor) Process(ctx context.Context, in node.Input) node.Output {
	if ms := in.Params.Int("timeout_ms"); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	result, err := x.engine.Call(ctx, in.Params.String("script"), "input", in.Params.Get("input"))
	if err != nil {
		return node.Failure(err)
	}
	if m, ok := result.(map[string]any); ok {
		return node.Success(m)
	}
	if result == nil {
		return node.Success(nil)
	}
	return node.Success(map[string]any{"result": result})
}

// Predicate compiles expr into a cycle exit predicate. The expression sees the
// exit node's latest output as `output`; the region stops when it is truthy.
func Predicate(engine *Engine, expr string) (workflow.ExitPredicate, error) {
	body := fmt.Sprintf("return !!(%s);", expr)
	if err := engine.Compile(body, "output"); err != nil {
		return nil, err
	}
	return func(output map[string]any) (bool, error) {
		v, err := engine.Call(context.Background(), body, "output", output)
		if err != nil {
			return false, err
		}
		b, _ := v.(bool)
		return b, nil
	}, nil
}
