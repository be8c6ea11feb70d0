package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	assert.NoError(t, r.Publish(ctx, Event{Type: RunStarted, RunID: "r"}))
	assert.NoError(t, r.Publish(ctx, Event{Type: NodeCompleted, RunID: "r", NodeID: "A"}))
	assert.NoError(t, r.Publish(ctx, Event{Type: RunCompleted, RunID: "r"}))

	assert.Equal(t, []Type{RunStarted, NodeCompleted, RunCompleted}, r.Types())
	assert.Len(t, r.Filter(NodeCompleted), 1)
	assert.Equal(t, "A", r.Filter(NodeCompleted)[0].NodeID)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	boom := errors.New("boom")
	p := Multi(a, nil, failingPublisher{err: boom}, b)

	err := p.Publish(context.Background(), Event{Type: RunStarted})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)

	assert.NoError(t, Multi(Nop{}).Publish(context.Background(), Event{}))
}
