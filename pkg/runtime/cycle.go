package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/events"
	"github.com/wehubfusion/flowgraph/pkg/resolver"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// runRegion iterates a cyclic region. Every iteration runs each member once in
// region order; the exit predicate is evaluated after the whole iteration.
func (r *run) runRegion(ctx context.Context, region *resolver.Region) error {
	policy := r.graph.Policy(region.ID)
	bound := policy.Bound(r.rt.config.SafetyCeiling)

	ctx, span := r.rt.tracer.Start(ctx, "flowgraph.cycle", trace.WithAttributes(
		attribute.String("flowgraph.region", region.ID),
		attribute.StringSlice("flowgraph.members", region.Members),
		attribute.Int("flowgraph.max_iterations", bound),
	))
	defer span.End()

	logger := r.logger.With(zap.String("region", region.ID))
	logger.Debug("Cyclic region started",
		zap.Strings("members", region.Members),
		zap.Int("bound", bound),
		zap.Stringer("on_limit", policy.OnLimit))

	for iteration := 1; iteration <= bound; iteration++ {
		for _, id := range region.Members {
			err := r.runNode(ctx, id, iteration, region, policy.Retry)
			if err != nil {
				if policy.ContinueOnError && ctx.Err() == nil {
					r.absorb(ctx, span, region, id, iteration, err)
					return nil
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			r.checkpoint(ctx, id)
		}

		r.setIterations(region.ID, iteration)
		r.rt.metrics.IterationCompleted()
		r.publish(ctx, events.Event{
			Type:      events.CycleIteration,
			Region:    region.ID,
			Iteration: iteration,
		})

		exit, err := r.exitFired(policy, region, iteration)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if exit {
			r.exited(ctx, span, region, iteration, "exit condition met")
			return nil
		}
	}

	if policy.OnLimit == workflow.LimitStop {
		r.exited(ctx, span, region, bound, "iteration limit reached")
		return nil
	}
	err := &flowerrors.CycleIterationLimitError{
		Region:     region.ID,
		Members:    append([]string(nil), region.Members...),
		Iterations: bound,
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("Cyclic region exceeded its iteration limit", zap.Int("iterations", bound))
	return err
}

// exitFired evaluates the exit predicate on the exit node's latest output.
// A skipped exit node never fires.
func (r *run) exitFired(policy workflow.CyclePolicy, region *resolver.Region, iteration int) (bool, error) {
	if policy.Exit == nil || policy.Exit.Predicate == nil {
		return false, nil
	}
	exitID := policy.Exit.NodeID
	if r.state.isSkipped(exitID) {
		return false, nil
	}
	out, ok := r.state.output(exitID)
	if !ok {
		return false, nil
	}
	stop, err := policy.Exit.Predicate(workflow.CopyOutput(out))
	if err != nil {
		nodeType := ""
		if desc, found := r.descriptors[exitID]; found {
			nodeType = desc.TypeName
		}
		return false, &flowerrors.NodeExecutionError{
			RunID:     r.runID,
			NodeID:    exitID,
			NodeType:  nodeType,
			Iteration: iteration,
			Err:       fmt.Errorf("exit condition of %s: %w", region.ID, err),
		}
	}
	return stop, nil
}

// absorb handles a member failure under ContinueOnError: the region exits
// and the error stays recorded against the member.
func (r *run) absorb(ctx context.Context, span trace.Span, region *resolver.Region, nodeID string, iteration int, err error) {
	r.rt.tracker.RecordRecovered(r.runID, nodeID, err)
	span.RecordError(err)
	span.SetAttributes(attribute.String("flowgraph.recovered_node", nodeID))
	r.logger.Warn("Cyclic region stopped after member failure",
		zap.String("region", region.ID),
		zap.String("node_id", nodeID),
		zap.Int("iteration", iteration),
		zap.Error(err))
	r.exited(ctx, span, region, iteration-1, fmt.Sprintf("member %s failed", nodeID))
}

func (r *run) exited(ctx context.Context, span trace.Span, region *resolver.Region, iterations int, reason string) {
	span.SetAttributes(attribute.Int("flowgraph.iterations", iterations))
	r.publish(ctx, events.Event{
		Type:      events.CycleExited,
		Region:    region.ID,
		Iteration: iterations,
		Reason:    reason,
	})
	r.logger.Debug("Cyclic region exited",
		zap.String("region", region.ID),
		zap.Int("iterations", iterations),
		zap.String("reason", reason))
}
