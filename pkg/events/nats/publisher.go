// Package nats publishes lifecycle events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	natsconn "github.com/wehubfusion/flowgraph/internal/nats"
	"github.com/wehubfusion/flowgraph/pkg/events"
)

// Conn is the publishing side of a NATS connection. *nats.Conn satisfies it.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends every event as JSON to <prefix>.<event type>.
type Publisher struct {
	conn       Conn
	prefix     string
	maxRetries int
	retryWait  time.Duration
	logger     *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = strings.Trim(prefix, ".")
	}
}

// WithRetries sets how often a failed publish is retried and the wait between tries.
func WithRetries(maxRetries int, wait time.Duration) Option {
	return func(p *Publisher) {
		p.maxRetries = maxRetries
		p.retryWait = wait
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher on an established connection.
func NewPublisher(conn Conn, opts ...Option) *Publisher {
	defaults := natsconn.DefaultConnectionConfig("")
	p := &Publisher{
		conn:       conn,
		prefix:     defaults.SubjectPrefix,
		maxRetries: defaults.PublishMaxRetries,
		retryWait:  defaults.PublishRetryWait,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewPublisherFromConfig uses the subject and retry settings of cfg.
func NewPublisherFromConfig(conn Conn, cfg *natsconn.ConnectionConfig, logger *zap.Logger) *Publisher {
	return NewPublisher(conn,
		WithSubjectPrefix(cfg.SubjectPrefix),
		WithRetries(cfg.PublishMaxRetries, cfg.PublishRetryWait),
		WithLogger(logger),
	)
}

// Subject returns the subject an event of type t is published on.
func (p *Publisher) Subject(t events.Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(event.Type)

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish %s cancelled: %w", subject, ctx.Err())
			case <-time.After(p.retryWait):
			}
		}
		if lastErr = p.conn.Publish(subject, data); lastErr == nil {
			return nil
		}
		p.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("run_id", event.RunID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("publish %s failed after %d attempts: %w", subject, p.maxRetries+1, lastErr)
}

var _ events.Publisher = (*Publisher)(nil)
