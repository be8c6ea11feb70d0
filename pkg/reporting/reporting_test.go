package reporting

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

type capture struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *capture) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func newTestReporter(t *testing.T) (*SentryReporter, *capture) {
	t.Helper()
	c := &capture{}
	r, err := NewSentryReporter(sentry.ClientOptions{BeforeSend: c.beforeSend}, nil)
	require.NoError(t, err)
	return r, c
}

func TestSentryReporter_TagsNodeFailure(t *testing.T) {
	r, c := newTestReporter(t)

	err := &flowerrors.NodeExecutionError{RunID: "run-1", NodeID: "B", NodeType: "add", Err: errors.New("boom")}
	r.ReportFailure(context.Background(), Failure{
		RunID:    "run-1",
		Workflow: "wf",
		NodeID:   "B",
		NodeType: "add",
		Attempts: 1,
		Err:      err,
	})

	require.Len(t, c.events, 1)
	ev := c.events[0]
	assert.Equal(t, "run-1", ev.Tags["run_id"])
	assert.Equal(t, "B", ev.Tags["node_id"])
	assert.Equal(t, "node_execution", ev.Tags["error_kind"])
	assert.Equal(t, "wf", ev.Contexts["flowgraph"]["workflow"])
}

func TestSentryReporter_SkipsConfigurationErrors(t *testing.T) {
	r, c := newTestReporter(t)

	r.ReportFailure(context.Background(), Failure{RunID: "r", Err: flowerrors.UnknownNodeType("x")})
	r.ReportFailure(context.Background(), Failure{RunID: "r"})
	assert.Empty(t, c.events)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "timeout", errorKind(&flowerrors.TimeoutError{NodeID: "A"}))
	assert.Equal(t, "cycle_limit", errorKind(&flowerrors.CycleIterationLimitError{Region: "cycle:P"}))
	assert.Equal(t, "cancelled", errorKind(context.Canceled))
	assert.Equal(t, "unknown", errorKind(errors.New("x")))
}
