// Package events publishes run lifecycle events.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	RunStarted     Type = "run.started"
	RunCompleted   Type = "run.completed"
	RunFailed      Type = "run.failed"
	NodeStarted    Type = "node.started"
	NodeCompleted  Type = "node.completed"
	NodeFailed     Type = "node.failed"
	NodeSkipped    Type = "node.skipped"
	NodeRetrying   Type = "node.retrying"
	CycleIteration Type = "cycle.iteration"
	CycleExited    Type = "cycle.exited"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	NodeType  string    `json:"node_type,omitempty"`
	Region    string    `json:"region,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events. Publish must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Filter returns the recorded events of type t.
func (r *Recorder) Filter(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type multi []Publisher

// Multi fans an event out to every publisher and joins their errors.
func Multi(publishers ...Publisher) Publisher {
	out := make(multi, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
