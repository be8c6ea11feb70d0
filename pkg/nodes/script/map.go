package script

import (
	"context"
	"fmt"

	"github.com/wehubfusion/flowgraph/pkg/iteration"
	"github.com/wehubfusion/flowgraph/pkg/node"
)

// TypeScriptMap is the registered type name of the per-item script node.
const TypeScriptMap = "script_map"

func registerMap(reg *node.Registry, engine *Engine) error {
	return reg.Register(TypeScriptMap, []node.ParameterDeclaration{
		node.Required("script", node.TypeString),
		node.Required("items", node.TypeList),
		node.Optional("strategy", node.TypeString, string(iteration.StrategySequential)),
		node.Optional("max_concurrent", node.TypeInteger, 0),
	}, &mapExecutor{engine: engine},
		node.WithDescription("Runs a JavaScript function body once per list item"),
		node.WithOutputs(
			node.Out("results", node.TypeList),
			node.Out("count", node.TypeInteger),
		),
	)
}

// mapExecutor calls the script with `item` bound to each element. The
// engine's VM pool bounds how many calls actually run at once.
type mapExecutor struct {
	engine *Engine
}

func (x *mapExecutor) Process(ctx context.Context, in node.Input) node.Output {
	strategy := iteration.Strategy(in.Params.StringDefault("strategy", string(iteration.StrategySequential)))
	if !strategy.Valid() {
		return node.Failure(fmt.Errorf("unknown strategy %q", strategy))
	}
	body := in.Params.String("script")
	if err := x.engine.Compile(body, "item"); err != nil {
		return node.Failure(err)
	}

	cfg := iteration.Config{Strategy: strategy, MaxConcurrent: in.Params.Int("max_concurrent")}
	results, err := iteration.Map(ctx, cfg, in.Params.Slice("items"), func(ctx context.Context, item any, _ int) (any, error) {
		return x.engine.Call(ctx, body, "item", item)
	})
	if err != nil {
		return node.Failure(err)
	}
	return node.Success(map[string]any{"results": results, "count": len(results)})
}
