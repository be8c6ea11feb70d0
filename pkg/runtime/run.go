package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/flowgraph/pkg/checkpoint"
	"github.com/wehubfusion/flowgraph/pkg/concurrency"
	"github.com/wehubfusion/flowgraph/pkg/contract"
	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/events"
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/reporting"
	"github.com/wehubfusion/flowgraph/pkg/resolver"
	"github.com/wehubfusion/flowgraph/pkg/tracker"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// run holds the state of one invocation of a graph.
type run struct {
	rt          *Runtime
	graph       *workflow.ExecutableGraph
	plan        *resolver.Plan
	runID       string
	overrides   map[string]map[string]any
	async       bool
	state       *execContext
	descriptors map[string]*node.Descriptor
	logger      *zap.Logger

	// mu guards completed, done and iterations
	mu         sync.Mutex
	completed  []string
	done       map[string]bool
	iterations map[string]int

	// cpMu serialises checkpoint saves so sequences reach the store in order
	cpMu sync.Mutex
	seq  int
}

func (r *Runtime) newRun(g *workflow.ExecutableGraph, runID string, params map[string]map[string]any, async bool) *run {
	nodes := g.Nodes()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return &run{
		rt:          r,
		graph:       g,
		plan:        g.Plan(),
		runID:       runID,
		overrides:   params,
		async:       async,
		state:       newExecContext(ids),
		descriptors: make(map[string]*node.Descriptor, len(nodes)),
		logger:      r.logger.With(zap.String("run_id", runID), zap.String("workflow", g.Name())),
		done:        make(map[string]bool),
		iterations:  make(map[string]int),
	}
}

func (r *run) execute(ctx context.Context, resume *checkpoint.Checkpoint) (tracker.Results, error) {
	start := time.Now()
	ctx, span := r.rt.tracer.Start(ctx, "flowgraph.run", trace.WithAttributes(
		attribute.String("flowgraph.run_id", r.runID),
		attribute.String("flowgraph.workflow", r.graph.Name()),
		attribute.Int("flowgraph.steps", len(r.plan.Steps)),
		attribute.String("flowgraph.mode", string(r.rt.config.ExecutionMode)),
		attribute.Bool("flowgraph.resumed", resume != nil),
	))
	defer span.End()

	r.rt.tracker.Start(r.runID, r.graph.Name())
	if resume != nil {
		r.restore(resume)
	}
	r.publish(ctx, events.Event{Type: events.RunStarted})
	r.logger.Info("Run started",
		zap.Int("steps", len(r.plan.Steps)),
		zap.Bool("resumed", resume != nil))

	err := r.prepare()
	if err == nil {
		runCtx := ctx
		if timeout := r.rt.config.RunTimeout; timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if r.rt.config.ExecutionMode == concurrency.ModeParallel || r.async {
			err = r.runWaves(runCtx)
		} else {
			err = r.runSteps(runCtx)
		}
	}

	for id, reason := range r.state.skipped() {
		r.rt.tracker.MarkSkipped(r.runID, id, reason)
	}
	if err != nil {
		return r.fail(ctx, span, err, start)
	}

	results, ferr := r.rt.tracker.Finalize(r.runID, r.state.snapshot())
	if ferr != nil {
		r.logger.Warn("Run record missing at finalize", zap.Error(ferr))
	}
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("flowgraph.duration_ms", elapsed.Milliseconds()))
	span.SetStatus(codes.Ok, "")
	r.rt.metrics.RunFinished(true)
	r.publish(ctx, events.Event{Type: events.RunCompleted, Duration: durationMs(elapsed)})
	r.logger.Info("Run completed",
		zap.Duration("duration", elapsed),
		zap.Int("nodes", len(results)))
	return results, nil
}

// prepare resolves executors from the runtime's registry and runs declaration
// validation with the run's overrides. Error issues block the run.
func (r *run) prepare() error {
	for _, n := range r.graph.Nodes() {
		desc, err := r.rt.registry.Resolve(n.Type)
		if err != nil {
			return err
		}
		r.descriptors[n.ID] = desc
	}

	issues := contract.ValidateDeclarations(r.graph, r.overrides)
	for _, issue := range contract.Warnings(issues) {
		r.logger.Warn("Parameter validation warning",
			zap.String("node_id", issue.NodeID),
			zap.String("parameter", issue.Parameter),
			zap.String("code", issue.Code),
			zap.String("message", issue.Message))
	}
	if contract.HasErrors(issues) {
		return &contract.ParameterValidationError{Issues: issues}
	}
	return nil
}

// runSteps executes the plan one step at a time in plan order.
func (r *run) runSteps(ctx context.Context) error {
	for _, step := range r.plan.Steps {
		if r.isDone(step.ID()) {
			continue
		}
		if err := r.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// runWaves executes the plan wave by wave. Steps of one wave are independent;
// concurrent ones are dispatched through the limiter, the rest run in order
// on a single goroutine. A wave must finish before the next one starts.
func (r *run) runWaves(ctx context.Context) error {
	for _, wave := range r.plan.Waves {
		eg, egCtx := errgroup.WithContext(ctx)
		var inline []resolver.Step
		for _, idx := range wave {
			step := r.plan.Steps[idx]
			if r.isDone(step.ID()) {
				continue
			}
			if !r.concurrent(step) {
				inline = append(inline, step)
				continue
			}
			eg.Go(func() error {
				return r.dispatch(egCtx, step)
			})
		}
		if len(inline) > 0 {
			eg.Go(func() error {
				for _, step := range inline {
					if err := r.runStep(egCtx, step); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) concurrent(step resolver.Step) bool {
	if r.rt.config.ExecutionMode == concurrency.ModeParallel {
		return true
	}
	return step.Kind == resolver.StepNode && r.descriptors[step.NodeID].Async
}

// dispatch runs a step while holding a limiter slot.
func (r *run) dispatch(ctx context.Context, step resolver.Step) error {
	var stepErr error
	err := r.rt.limiter.GoSync(ctx, func() error {
		stepErr = r.runStep(ctx, step)
		return stepErr
	})
	if err == nil || stepErr != nil {
		return err
	}
	// the limiter refused the slot
	nodeID := step.Nodes()[0]
	if ctx.Err() != nil {
		return r.interrupted(ctx, nodeID, 0, 0)
	}
	return &flowerrors.NodeExecutionError{
		RunID:    r.runID,
		NodeID:   nodeID,
		NodeType: r.descriptors[nodeID].TypeName,
		Err:      err,
	}
}

func (r *run) runStep(ctx context.Context, step resolver.Step) error {
	if step.Kind == resolver.StepCycle {
		if err := r.runRegion(ctx, step.Region); err != nil {
			return err
		}
	} else if err := r.runNode(ctx, step.NodeID, 0, nil, nil); err != nil {
		return err
	}
	r.markDone(step.ID())
	r.checkpoint(ctx, step.ID())
	return nil
}

func (r *run) isDone(stepID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done[stepID]
}

func (r *run) markDone(stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[stepID] = true
	r.completed = append(r.completed, stepID)
}

func (r *run) setIterations(regionID string, n int) {
	r.mu.Lock()
	r.iterations[regionID] = n
	r.mu.Unlock()
	r.rt.tracker.SetIterations(r.runID, regionID, n)
}

// restore seeds the run from a checkpoint.
func (r *run) restore(cp *checkpoint.Checkpoint) {
	r.state.seed(cp.Outputs, cp.Skipped)
	r.mu.Lock()
	for _, id := range cp.Completed {
		if !r.done[id] {
			r.done[id] = true
			r.completed = append(r.completed, id)
		}
	}
	r.mu.Unlock()
	for regionID, n := range cp.Iterations {
		r.setIterations(regionID, n)
	}
	r.cpMu.Lock()
	r.seq = cp.Sequence
	r.cpMu.Unlock()
}

// checkpoint saves the execution context if a store is configured.
// A failed save is logged and does not fail the run.
func (r *run) checkpoint(ctx context.Context, trigger string) {
	if r.rt.store == nil {
		return
	}
	r.cpMu.Lock()
	defer r.cpMu.Unlock()

	r.seq++
	cp := checkpoint.New(r.runID, r.graph.Name(), r.seq)
	cp.NodeID = trigger
	cp.Outputs = r.state.snapshot()
	cp.Skipped = r.state.skipped()
	r.mu.Lock()
	cp.Completed = append([]string(nil), r.completed...)
	for id, n := range r.iterations {
		cp.Iterations[id] = n
	}
	r.mu.Unlock()

	if err := r.rt.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		r.logger.Error("Failed to save checkpoint",
			zap.Int("sequence", cp.Sequence),
			zap.String("node_id", trigger),
			zap.Error(err))
	}
}

func (r *run) fail(ctx context.Context, span trace.Span, err error, start time.Time) (tracker.Results, error) {
	failed := failedNode(err)
	results, terr := r.rt.tracker.Fail(r.runID, failed, err, r.state.snapshot())
	if terr != nil {
		r.logger.Warn("Run record missing at failure", zap.Error(terr))
	}

	var nodeErr *flowerrors.NodeExecutionError
	if errors.As(err, &nodeErr) {
		nodeErr.Partial = results
	}

	elapsed := time.Since(start)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String("flowgraph.failed_node", failed),
		attribute.Int64("flowgraph.duration_ms", elapsed.Milliseconds()),
	)
	r.rt.metrics.RunFinished(false)
	r.publish(ctx, events.Event{
		Type:     events.RunFailed,
		NodeID:   failed,
		Error:    err.Error(),
		Duration: durationMs(elapsed),
	})

	failure := reporting.Failure{
		RunID:    r.runID,
		Workflow: r.graph.Name(),
		NodeID:   failed,
		Err:      err,
	}
	if desc, ok := r.descriptors[failed]; ok {
		failure.NodeType = desc.TypeName
	}
	if nodeErr != nil {
		failure.Iteration = nodeErr.Iteration
		failure.Attempts = nodeErr.Attempts
	}
	r.rt.reporter.ReportFailure(context.WithoutCancel(ctx), failure)

	r.logger.Error("Run failed",
		zap.String("node_id", failed),
		zap.Duration("duration", elapsed),
		zap.Int("partial_nodes", len(results)),
		zap.Error(err))
	return results, err
}

func (r *run) publish(ctx context.Context, e events.Event) {
	e.RunID = r.runID
	e.Workflow = r.graph.Name()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := r.rt.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn("Failed to publish event",
			zap.String("event", string(e.Type)),
			zap.String("node_id", e.NodeID),
			zap.Error(err))
	}
}

// failedNode returns the node (or region) a run failure is attributed to.
func failedNode(err error) string {
	var nodeErr *flowerrors.NodeExecutionError
	var timeoutErr *flowerrors.TimeoutError
	var limitErr *flowerrors.CycleIterationLimitError
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &timeoutErr):
		return timeoutErr.NodeID
	case errors.As(err, &limitErr):
		return limitErr.Region
	}
	return ""
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
