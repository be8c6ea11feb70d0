package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/flowgraph/pkg/definition"
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/nodes/all"
	"github.com/wehubfusion/flowgraph/pkg/nodes/script"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

func newLogger(flags *rootFlags) (*zap.Logger, error) {
	var cfg zap.Config
	if flags.jsonLog {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if flags.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// workspace bundles what every command needs to turn a definition file into
// an executable graph.
type workspace struct {
	logger   *zap.Logger
	engine   *script.Engine
	registry *node.Registry
	def      *definition.Definition
	graph    *workflow.ExecutableGraph
}

func openWorkspace(flags *rootFlags, path string) (*workspace, error) {
	if path == "" {
		return nil, fmt.Errorf("workflow file is required (-f)")
	}
	logger, err := newLogger(flags)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	engine, err := script.NewEngine(script.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ws := &workspace{logger: logger, engine: engine}

	ws.registry, err = all.NewRegistry(engine)
	if err != nil {
		ws.close()
		return nil, fmt.Errorf("register node types: %w", err)
	}
	ws.def, err = definition.LoadFile(path)
	if err != nil {
		ws.close()
		return nil, err
	}
	g, err := ws.def.Build(ws.registry, definition.WithScriptEngine(engine), definition.WithLogger(logger))
	if err != nil {
		ws.close()
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	ws.graph, err = g.Build()
	if err != nil {
		ws.close()
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	return ws, nil
}

func (ws *workspace) close() {
	_ = ws.engine.Close()
	_ = ws.logger.Sync()
}

func loadParams(path string) (map[string]map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	return definition.LoadParams(path)
}

func envOr(flag, key string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(key)
}
