package definition

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/nodes/script"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// BuildOption configures Build.
type BuildOption func(*buildSettings)

type buildSettings struct {
	engine *script.Engine
	logger *zap.Logger
}

// WithScriptEngine enables script exit conditions.
func WithScriptEngine(engine *script.Engine) BuildOption {
	return func(s *buildSettings) {
		s.engine = engine
	}
}

// WithLogger sets the logger of the built graph.
func WithLogger(logger *zap.Logger) BuildOption {
	return func(s *buildSettings) {
		s.logger = logger
	}
}

// Build assembles a workflow graph from the definition. Node types are
// resolved against reg; graph validation is left to the caller.
func (def *Definition) Build(reg *node.Registry, opts ...BuildOption) (*workflow.Graph, error) {
	settings := buildSettings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&settings)
	}

	g := workflow.New(reg, workflow.WithName(def.Name), workflow.WithLogger(settings.logger))

	for _, n := range def.Nodes {
		var nodeOpts []workflow.NodeOption
		if n.Timeout > 0 {
			nodeOpts = append(nodeOpts, workflow.WithTimeout(time.Duration(n.Timeout)))
		}
		if n.Retry != nil {
			nodeOpts = append(nodeOpts, workflow.WithRetry(n.Retry.policy()))
		}
		if err := g.AddNode(n.Type, n.ID, n.Config, nodeOpts...); err != nil {
			return nil, err
		}
	}

	for _, c := range def.Connections {
		sourceID, sourceKey, err := c.source()
		if err != nil {
			return nil, err
		}
		targetID, targetKey, err := c.target()
		if err != nil {
			return nil, err
		}
		var connOpts []workflow.ConnectionOption
		if c.Trigger {
			connOpts = append(connOpts, workflow.AsTrigger())
		}
		if err := g.AddConnection(sourceID, sourceKey, targetID, targetKey, connOpts...); err != nil {
			return nil, err
		}
	}

	for _, c := range def.Cycles {
		policy, err := c.policy(settings.engine)
		if err != nil {
			return nil, fmt.Errorf("cycle %q: %w", c.Anchor, err)
		}
		if err := g.SetCyclePolicy(c.Anchor, policy); err != nil {
			return nil, err
		}
	}

	if len(def.Entry) > 0 {
		if err := g.SetEntryNodes(def.Entry...); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (r *RetryDef) policy() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: time.Duration(r.InitialInterval),
		MaxInterval:     time.Duration(r.MaxInterval),
		Multiplier:      r.Multiplier,
	}
}

func (c CycleDef) policy(engine *script.Engine) (workflow.CyclePolicy, error) {
	policy := workflow.CyclePolicy{
		MaxIterations:   c.MaxIterations,
		ContinueOnError: c.ContinueOnError,
	}
	if c.OnLimit == "stop" {
		policy.OnLimit = workflow.LimitStop
	}
	if c.Retry != nil {
		retry := c.Retry.policy()
		policy.Retry = &retry
	}
	if c.Exit == nil {
		return policy, nil
	}

	var predicate workflow.ExitPredicate
	switch {
	case c.Exit.Script != "":
		if engine == nil {
			return policy, fmt.Errorf("script exit condition requires a script engine")
		}
		var err error
		predicate, err = script.Predicate(engine, c.Exit.Script)
		if err != nil {
			return policy, err
		}
	case c.Exit.Is != nil && *c.Exit.Is:
		predicate = workflow.StopWhenTrue(c.Exit.Field)
	case c.Exit.Is != nil:
		predicate = workflow.StopWhenFalse(c.Exit.Field)
	default:
		predicate = workflow.StopWhenEquals(c.Exit.Field, c.Exit.Equals)
	}
	policy.Exit = workflow.ExitWhen(c.Exit.Node, predicate)
	return policy, nil
}

// ParseParams decodes a YAML or JSON mapping of per-node parameter overrides,
// keyed by node id.
func ParseParams(data []byte) (map[string]map[string]any, error) {
	params := make(map[string]map[string]any)
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse parameters: %w", err)
	}
	return params, nil
}

// LoadParams reads a parameter override file.
func LoadParams(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	return ParseParams(data)
}
