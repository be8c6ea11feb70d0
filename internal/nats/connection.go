// Package nats manages NATS connections for event publishing.
package nats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvURL           = "FLOWGRAPH_NATS_URL"
	EnvToken         = "FLOWGRAPH_NATS_TOKEN"
	EnvUser          = "FLOWGRAPH_NATS_USER"
	EnvPassword      = "FLOWGRAPH_NATS_PASSWORD"
	EnvSubjectPrefix = "FLOWGRAPH_NATS_SUBJECT_PREFIX"
	EnvMaxReconnects = "FLOWGRAPH_NATS_MAX_RECONNECTS"
)

// ConnectionConfig holds the connection and publishing settings for event delivery.
type ConnectionConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name identifies this client to the server
	Name string

	// MaxReconnects bounds reconnection attempts; -1 retries forever
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration

	// Token takes precedence over Username/Password
	Token    string
	Username string
	Password string

	// PublishMaxRetries is how often a failed event publish is retried.
	PublishMaxRetries int
	PublishRetryWait  time.Duration

	// SubjectPrefix is prepended to every event subject (e.g., flowgraph.events.prod).
	SubjectPrefix string
}

// DefaultConnectionConfig returns the defaults for url.
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return &ConnectionConfig{
		URL:               url,
		Name:              "flowgraph",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		Timeout:           5 * time.Second,
		PublishMaxRetries: 3,
		PublishRetryWait:  time.Second,
		SubjectPrefix:     "flowgraph.events",
	}
}

// ConfigFromEnv starts from DefaultConnectionConfig and applies the FLOWGRAPH_NATS_* variables.
func ConfigFromEnv() *ConnectionConfig {
	cfg := DefaultConnectionConfig(os.Getenv(EnvURL))
	cfg.Token = os.Getenv(EnvToken)
	cfg.Username = os.Getenv(EnvUser)
	cfg.Password = os.Getenv(EnvPassword)
	if prefix := os.Getenv(EnvSubjectPrefix); prefix != "" {
		cfg.SubjectPrefix = prefix
	}
	if v := os.Getenv(EnvMaxReconnects); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReconnects = n
		}
	}
	return cfg
}

// Validate checks the settings Connect depends on.
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return errors.New("connection config cannot be nil")
	}
	if c.URL == "" {
		return errors.New("NATS URL cannot be empty")
	}
	if c.PublishMaxRetries < 0 {
		return fmt.Errorf("publish max retries cannot be negative: %d", c.PublishMaxRetries)
	}
	return nil
}

func (c *ConnectionConfig) options(logger *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS async error", zap.Error(err))
		}),
	}
	switch {
	case c.Token != "":
		opts = append(opts, nats.Token(c.Token))
	case c.Username != "":
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return opts
}

// Connect dials the server. If ctx ends first the dial is abandoned and a
// connection that completes afterwards is closed.
func Connect(ctx context.Context, config *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	type dialed struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialed, 1)
	abandoned := make(chan struct{})

	go func() {
		conn, err := nats.Connect(config.URL, config.options(logger)...)
		select {
		case done <- dialed{conn: conn, err: err}:
		case <-abandoned:
			if conn != nil {
				conn.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, res.err)
		}
		logger.Info("Connected to NATS",
			zap.String("url", res.conn.ConnectedUrl()),
			zap.String("name", config.Name))
		return res.conn, nil
	}
}

// Close drains pending publishes and closes conn.
func Close(conn *nats.Conn) error {
	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// IsConnected checks if the connection is active
func IsConnected(conn *nats.Conn) bool {
	return conn != nil && conn.IsConnected()
}
