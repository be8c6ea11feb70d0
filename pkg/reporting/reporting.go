// Package reporting forwards run failures to an error tracker.
package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

// Failure describes a failed run.
type Failure struct {
	RunID     string
	Workflow  string
	NodeID    string
	NodeType  string
	Iteration int
	Attempts  int
	Err       error
}

// Reporter receives run failures.
type Reporter interface {
	ReportFailure(ctx context.Context, failure Failure)
}

// Nop ignores every failure.
type Nop struct{}

// ReportFailure implements Reporter.
func (Nop) ReportFailure(context.Context, Failure) {}

// SentryReporter sends failures to Sentry through its own hub.
type SentryReporter struct {
	hub          *sentry.Hub
	logger       *zap.Logger
	flushTimeout time.Duration
}

// NewSentryReporter creates a reporter with a dedicated Sentry client.
// An empty DSN yields a client that processes events without sending them.
func NewSentryReporter(options sentry.ClientOptions, logger *zap.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, err
	}
	return NewSentryReporterWithHub(sentry.NewHub(client, sentry.NewScope()), logger), nil
}

// NewSentryReporterWithHub reports through an existing hub.
func NewSentryReporterWithHub(hub *sentry.Hub, logger *zap.Logger) *SentryReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SentryReporter{
		hub:          hub,
		logger:       logger,
		flushTimeout: 2 * time.Second,
	}
}

// ReportFailure implements Reporter. Configuration errors are not reported.
func (r *SentryReporter) ReportFailure(ctx context.Context, failure Failure) {
	if failure.Err == nil || flowerrors.IsConfigurationError(failure.Err) {
		return
	}

	var eventID *sentry.EventID
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", failure.RunID)
		scope.SetTag("workflow", failure.Workflow)
		if failure.NodeID != "" {
			scope.SetTag("node_id", failure.NodeID)
			scope.SetTag("node_type", failure.NodeType)
		}
		scope.SetTag("error_kind", errorKind(failure.Err))
		scope.SetContext("flowgraph", sentry.Context{
			"run_id":    failure.RunID,
			"workflow":  failure.Workflow,
			"node_id":   failure.NodeID,
			"node_type": failure.NodeType,
			"iteration": failure.Iteration,
			"attempts":  failure.Attempts,
		})
		eventID = r.hub.CaptureException(failure.Err)
	})

	if eventID != nil {
		r.logger.Debug("Reported run failure",
			zap.String("run_id", failure.RunID),
			zap.String("event_id", string(*eventID)))
	}
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush() bool {
	return r.hub.Flush(r.flushTimeout)
}

func errorKind(err error) string {
	var limitErr *flowerrors.CycleIterationLimitError
	switch {
	case flowerrors.IsTimeout(err):
		return "timeout"
	case errors.As(err, &limitErr):
		return "cycle_limit"
	case errors.Is(err, flowerrors.ErrNodeExecution):
		return "node_execution"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "unknown"
}

var _ Reporter = (*SentryReporter)(nil)
