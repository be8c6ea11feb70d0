package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
	"github.com/wehubfusion/flowgraph/pkg/events"
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/pathutil"
	"github.com/wehubfusion/flowgraph/pkg/resolver"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// runNode executes one node once: it merges inputs, invokes the executor
// (with retries when a policy applies) and stores the output. iteration is 0
// outside cyclic regions.
func (r *run) runNode(ctx context.Context, id string, iteration int, region *resolver.Region, regionRetry *workflow.RetryPolicy) error {
	if ctx.Err() != nil {
		return r.interrupted(ctx, id, iteration, 0)
	}
	n, ok := r.graph.Node(id)
	if !ok {
		return flowerrors.UnknownNode(id)
	}
	desc := r.descriptors[id]

	params, skipReason := r.inputs(n, iteration, region)
	if skipReason != "" {
		r.markSkipped(ctx, n, iteration, region, skipReason)
		return nil
	}

	if r.rt.config.ValidateInputs {
		if err := r.rt.schemas.Validate(desc, params); err != nil {
			return &flowerrors.NodeExecutionError{
				RunID:     r.runID,
				NodeID:    id,
				NodeType:  n.Type,
				Iteration: iteration,
				Err:       err,
			}
		}
	}

	attrs := []attribute.KeyValue{
		attribute.String("flowgraph.node_id", id),
		attribute.String("flowgraph.node_type", n.Type),
	}
	if region != nil {
		attrs = append(attrs,
			attribute.String("flowgraph.region", region.ID),
			attribute.Int("flowgraph.iteration", iteration))
	}
	ctx, span := r.rt.tracer.Start(ctx, "flowgraph.node", trace.WithAttributes(attrs...))
	defer span.End()

	logger := r.nodeLogger(n, iteration, region)
	r.publish(ctx, events.Event{
		Type:      events.NodeStarted,
		NodeID:    id,
		NodeType:  n.Type,
		Region:    regionID(region),
		Iteration: iteration,
	})
	logger.Debug("Node started")

	start := time.Now()
	out, attempts, err := r.invoke(ctx, n, desc, params, iteration, region, r.retryPolicy(n, regionRetry))
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("flowgraph.attempts", attempts))

	if err != nil {
		r.rt.metrics.NodeFinished(n.Type, NodeFailed, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.publish(ctx, events.Event{
			Type:      events.NodeFailed,
			NodeID:    id,
			NodeType:  n.Type,
			Region:    regionID(region),
			Iteration: iteration,
			Attempt:   attempts,
			Error:     err.Error(),
			Duration:  durationMs(elapsed),
		})
		logger.Error("Node failed",
			zap.Int("attempts", attempts),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return err
	}

	if out.Skipped {
		span.SetAttributes(attribute.Bool("flowgraph.skipped", true))
		r.markSkipped(ctx, n, iteration, region, out.SkipReason)
		return nil
	}

	data := workflow.CopyOutput(out.Data)
	if data == nil {
		data = map[string]any{}
	}
	r.state.store(id, data)

	r.rt.metrics.NodeFinished(n.Type, NodeSucceeded, elapsed)
	span.SetStatus(codes.Ok, "")
	r.publish(ctx, events.Event{
		Type:      events.NodeCompleted,
		NodeID:    id,
		NodeType:  n.Type,
		Region:    regionID(region),
		Iteration: iteration,
		Attempt:   attempts,
		Duration:  durationMs(elapsed),
	})
	logger.Debug("Node completed",
		zap.Int("attempts", attempts),
		zap.Duration("duration", elapsed),
		zap.Int("output_keys", len(data)))
	return nil
}

// inputs merges defaults < static config < overrides < connection values.
// A non-empty skip reason means the node must not run: a trigger is inactive
// or every source feeding it was skipped.
func (r *run) inputs(n *workflow.Node, iteration int, region *resolver.Region) (node.Params, string) {
	desc := r.descriptors[n.ID]
	params := make(node.Params)
	for k, v := range desc.Defaults() {
		params[k] = workflow.CopyValue(v)
	}
	for k, v := range n.Config {
		params[k] = workflow.CopyValue(v)
	}
	for k, v := range r.overrides[n.ID] {
		params[k] = workflow.CopyValue(v)
	}

	var sources, skippedSources int
	for _, c := range r.graph.Incoming(n.ID) {
		// back-edge values only exist from the second iteration on
		if region != nil && iteration <= 1 && region.IsBackEdge(c.SourceID, n.ID) {
			continue
		}
		sources++
		if r.state.isSkipped(c.SourceID) {
			skippedSources++
			if c.Trigger {
				return nil, fmt.Sprintf("trigger source %s was skipped", c.SourceID)
			}
			continue
		}

		out, produced := r.state.output(c.SourceID)
		var value any
		found := false
		if produced {
			if c.WholeSource() {
				value, found = workflow.CopyOutput(out), true
			} else if v, ok := pathutil.Navigate(out, c.SourceKey); ok {
				value, found = workflow.CopyValue(v), true
			}
		}
		if c.Trigger && (!found || value == nil) {
			return nil, fmt.Sprintf("trigger %s is inactive", c)
		}
		if found && c.TargetKey != "" {
			params[c.TargetKey] = value
		}
	}
	if sources > 0 && skippedSources == sources {
		return nil, "all sources were skipped"
	}
	return params, ""
}

// retryPolicy picks the node's own policy, then the region's, then the runtime default.
func (r *run) retryPolicy(n *workflow.Node, regionRetry *workflow.RetryPolicy) workflow.RetryPolicy {
	switch {
	case n.Retry != nil:
		return *n.Retry
	case regionRetry != nil:
		return *regionRetry
	case r.rt.config.DefaultRetry != nil:
		return *r.rt.config.DefaultRetry
	}
	return workflow.RetryPolicy{MaxAttempts: 1}
}

// invoke calls the executor until it succeeds or the policy gives up.
// Only this node is re-run between attempts.
func (r *run) invoke(ctx context.Context, n *workflow.Node, desc *node.Descriptor, params node.Params, iteration int, region *resolver.Region, policy workflow.RetryPolicy) (node.Output, int, error) {
	var (
		attempts int
		last     error
	)
	operation := func() (node.Output, error) {
		attempts++
		input := node.Input{
			RunID:     r.runID,
			NodeID:    n.ID,
			NodeType:  n.Type,
			Params:    params.Clone(),
			Iteration: iteration,
			Attempt:   attempts,
		}
		out, err := r.attempt(ctx, n, desc, input)
		last = err
		if err != nil && !retryable(ctx, err, policy) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, next time.Duration) {
		r.rt.metrics.NodeRetried(n.Type)
		r.publish(ctx, events.Event{
			Type:      events.NodeRetrying,
			NodeID:    n.ID,
			NodeType:  n.Type,
			Region:    regionID(region),
			Iteration: iteration,
			Attempt:   attempts,
			Error:     err.Error(),
		})
		r.nodeLogger(n, iteration, region).Warn("Retrying node",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", policy.Attempts()),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff(policy)),
		backoff.WithMaxTries(uint(policy.Attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return out, attempts, nil
	}
	if ctx.Err() != nil {
		return node.Output{}, attempts, r.interrupted(ctx, n.ID, iteration, attempts)
	}
	if last == nil {
		last = err
	}
	var timeoutErr *flowerrors.TimeoutError
	if errors.As(last, &timeoutErr) {
		return node.Output{}, attempts, last
	}
	return node.Output{}, attempts, &flowerrors.NodeExecutionError{
		RunID:     r.runID,
		NodeID:    n.ID,
		NodeType:  n.Type,
		Iteration: iteration,
		Attempts:  attempts,
		Err:       last,
	}
}

// attempt runs the executor once under the node's deadline.
func (r *run) attempt(ctx context.Context, n *workflow.Node, desc *node.Descriptor, input node.Input) (node.Output, error) {
	timeout := n.Timeout
	if timeout == 0 {
		timeout = r.rt.config.NodeTimeout
	}
	nodeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var out node.Output
	if desc.Async {
		out = r.awaitAsync(nodeCtx, desc, input)
	} else {
		out = process(nodeCtx, desc, input)
	}
	if out.Error == nil {
		return out, nil
	}
	if ctx.Err() == nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
		return out, &flowerrors.TimeoutError{NodeID: n.ID, Timeout: timeout, Err: nodeCtx.Err()}
	}
	return out, out.Error
}

// awaitAsync runs an asynchronous executor in its own goroutine and waits at
// the node boundary. On cancellation the executor is abandoned and its late
// output discarded.
func (r *run) awaitAsync(ctx context.Context, desc *node.Descriptor, input node.Input) node.Output {
	result := make(chan node.Output, 1)
	go func() {
		result <- process(ctx, desc, input)
	}()
	select {
	case out := <-result:
		return out
	case <-ctx.Done():
		select {
		case out := <-result:
			return out
		default:
		}
		r.logger.Debug("Abandoning asynchronous node",
			zap.String("node_id", input.NodeID),
			zap.Error(ctx.Err()))
		return node.Failure(ctx.Err())
	}
}

func process(ctx context.Context, desc *node.Descriptor, input node.Input) (out node.Output) {
	defer func() {
		if rec := recover(); rec != nil {
			out = node.Failure(fmt.Errorf("executor %s panicked: %v", desc.TypeName, rec))
		}
	}()
	return desc.Executor.Process(ctx, input)
}

// interrupted converts a done run context into the error reported for nodeID.
func (r *run) interrupted(ctx context.Context, nodeID string, iteration, attempts int) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return &flowerrors.TimeoutError{NodeID: nodeID, Timeout: r.rt.config.RunTimeout, Err: err}
	}
	nodeType := ""
	if desc, ok := r.descriptors[nodeID]; ok {
		nodeType = desc.TypeName
	}
	return &flowerrors.NodeExecutionError{
		RunID:     r.runID,
		NodeID:    nodeID,
		NodeType:  nodeType,
		Iteration: iteration,
		Attempts:  attempts,
		Err:       err,
	}
}

func (r *run) markSkipped(ctx context.Context, n *workflow.Node, iteration int, region *resolver.Region, reason string) {
	r.state.skip(n.ID, reason)
	r.rt.metrics.NodeFinished(n.Type, NodeSkipped, 0)
	r.publish(ctx, events.Event{
		Type:      events.NodeSkipped,
		NodeID:    n.ID,
		NodeType:  n.Type,
		Region:    regionID(region),
		Iteration: iteration,
		Reason:    reason,
	})
	r.nodeLogger(n, iteration, region).Debug("Node skipped", zap.String("reason", reason))
}

func (r *run) nodeLogger(n *workflow.Node, iteration int, region *resolver.Region) *zap.Logger {
	fields := []zap.Field{
		zap.String("node_id", n.ID),
		zap.String("node_type", n.Type),
	}
	if region != nil {
		fields = append(fields,
			zap.String("region", region.ID),
			zap.Int("iteration", iteration))
	}
	return r.logger.With(fields...)
}

// retryable reports whether another attempt may follow err.
func retryable(ctx context.Context, err error, policy workflow.RetryPolicy) bool {
	if ctx.Err() != nil || flowerrors.IsConfigurationError(err) {
		return false
	}
	if policy.RetryIf != nil {
		return policy.RetryIf(err)
	}
	return true
}

func newBackOff(policy workflow.RetryPolicy) backoff.BackOff {
	if policy.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if policy.Multiplier < 1 {
		return backoff.NewConstantBackOff(policy.InitialInterval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = 0
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	return b
}

func regionID(region *resolver.Region) string {
	if region == nil {
		return ""
	}
	return region.ID
}
