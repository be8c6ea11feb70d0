// Package runtime executes built workflow graphs: it walks the resolved plan,
// merges node parameters, invokes executors and iterates cyclic regions.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/flowgraph/pkg/checkpoint"
	"github.com/wehubfusion/flowgraph/pkg/concurrency"
	"github.com/wehubfusion/flowgraph/pkg/contract"
	"github.com/wehubfusion/flowgraph/pkg/events"
	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/reporting"
	"github.com/wehubfusion/flowgraph/pkg/tracker"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

const tracerName = "flowgraph/runtime"

// Runtime executes workflow graphs. A Runtime is safe for concurrent use;
// every run gets its own execution context.
type Runtime struct {
	registry  *node.Registry
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
	tracker   *tracker.Tracker
	store     checkpoint.Store
	publisher events.Publisher
	reporter  reporting.Reporter
	metrics   MetricsCollector
	limiter   *concurrency.Limiter
	schemas   *contract.SchemaValidator
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for run and node spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runtime) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithTracker sets the run tracker.
func WithTracker(t *tracker.Tracker) Option {
	return func(r *Runtime) {
		if t != nil {
			r.tracker = t
		}
	}
}

// WithCheckpointStore enables the checkpoint hook.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(r *Runtime) {
		r.store = store
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(r *Runtime) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithReporter sets the failure reporter.
func WithReporter(rep reporting.Reporter) Option {
	return func(r *Runtime) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(r *Runtime) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLimiter sets the limiter bounding concurrent node execution.
func WithLimiter(l *concurrency.Limiter) Option {
	return func(r *Runtime) {
		r.limiter = l
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) {
		r.config = cfg
	}
}

// WithExecutionMode selects sequential or parallel-safe scheduling.
func WithExecutionMode(mode concurrency.ExecutionMode) Option {
	return func(r *Runtime) {
		r.config.ExecutionMode = mode
	}
}

// WithRunTimeout sets the run deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.config.RunTimeout = d
	}
}

// WithNodeTimeout sets the default per-node deadline.
func WithNodeTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.config.NodeTimeout = d
	}
}

// WithSafetyCeiling sets the hard iteration ceiling for cyclic regions.
func WithSafetyCeiling(n int) Option {
	return func(r *Runtime) {
		r.config.SafetyCeiling = n
	}
}

// WithInputValidation enables JSON-schema validation of merged node inputs.
func WithInputValidation(enabled bool) Option {
	return func(r *Runtime) {
		r.config.ValidateInputs = enabled
	}
}

// WithDefaultRetry sets the retry policy for nodes that configure none.
func WithDefaultRetry(policy workflow.RetryPolicy) Option {
	return func(r *Runtime) {
		p := policy
		r.config.DefaultRetry = &p
	}
}

// New creates a runtime that resolves executors from registry.
func New(registry *node.Registry, opts ...Option) (*Runtime, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	r := &Runtime{
		registry:  registry,
		config:    DefaultConfig(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		publisher: events.Nop{},
		reporter:  reporting.Nop{},
		metrics:   nopMetrics{},
		schemas:   contract.NewSchemaValidator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}
	if r.tracker == nil {
		r.tracker = tracker.New(tracker.WithLogger(r.logger))
	}
	if r.limiter == nil {
		cc := r.config.Concurrency
		if cc == nil {
			cc = concurrency.DefaultConfig()
		}
		r.limiter = cc.NewLimiter()
	}
	return r, nil
}

// Tracker returns the run tracker.
func (r *Runtime) Tracker() *tracker.Tracker {
	return r.tracker
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config {
	return r.config
}

// Execute runs the graph synchronously. params maps node ids to parameter
// overrides. On failure the returned results hold every output computed before
// the failure and the error identifies the failing node.
func (r *Runtime) Execute(ctx context.Context, g *workflow.ExecutableGraph, params map[string]map[string]any) (tracker.Results, string, error) {
	runID := tracker.NewRunID()
	results, err := r.newRun(g, runID, params, false).execute(ctx, nil)
	return results, runID, err
}

// ExecuteAsync starts the run in the background and returns immediately.
// Nodes whose type is asynchronous run in their own goroutines and are
// awaited at the node boundary before their dependents start.
func (r *Runtime) ExecuteAsync(ctx context.Context, g *workflow.ExecutableGraph, params map[string]map[string]any) *AsyncRun {
	runID := tracker.NewRunID()
	ctx, cancel := context.WithCancel(ctx)
	a := &AsyncRun{
		RunID:  runID,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(a.done)
		defer cancel()
		a.results, a.err = r.newRun(g, runID, params, true).execute(ctx, nil)
	}()
	return a
}

// Resume continues a run from its latest checkpoint under the same run id.
// Completed steps are skipped; a cyclic region that had not finished restarts
// from its first iteration.
func (r *Runtime) Resume(ctx context.Context, g *workflow.ExecutableGraph, runID string, params map[string]map[string]any) (tracker.Results, error) {
	if r.store == nil {
		return nil, errors.New("resume requires a checkpoint store")
	}
	cp, err := r.store.Latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp.Workflow != "" && cp.Workflow != g.Name() {
		return nil, fmt.Errorf("checkpoint of run %s belongs to workflow %q, not %q", runID, cp.Workflow, g.Name())
	}
	r.logger.Info("Resuming run",
		zap.String("run_id", runID),
		zap.String("workflow", g.Name()),
		zap.Int("sequence", cp.Sequence),
		zap.Strings("completed", cp.Completed))
	return r.newRun(g, runID, params, false).execute(ctx, cp)
}

// AsyncRun is a run started by ExecuteAsync.
type AsyncRun struct {
	RunID string

	done    chan struct{}
	cancel  context.CancelFunc
	results tracker.Results
	err     error
}

// Done is closed when the run finishes.
func (a *AsyncRun) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the run finishes and returns its results.
func (a *AsyncRun) Wait() (tracker.Results, error) {
	<-a.done
	return a.results, a.err
}

// Cancel cancels the run. In-flight executors receive the cancellation signal.
func (a *AsyncRun) Cancel() {
	a.cancel()
}
