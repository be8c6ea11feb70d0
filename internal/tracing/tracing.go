// Package tracing wires an OTLP/HTTP span exporter for the flowgraph CLI.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvOTLPEndpoint = "FLOWGRAPH_OTLP_ENDPOINT"
	EnvOTLPInsecure = "FLOWGRAPH_OTLP_INSECURE"
	EnvEnvironment  = "FLOWGRAPH_ENVIRONMENT"
	EnvSampleRatio  = "FLOWGRAPH_TRACE_SAMPLE_RATIO"
)

// Config describes where spans go and how they are sampled.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is host:port; the exporter appends /v1/traces
	Endpoint string
	// Insecure sends spans over plain HTTP
	Insecure    bool
	SampleRatio float64
	// ShutdownTimeout bounds the final flush in Provider.Close
	ShutdownTimeout time.Duration
}

// DefaultConfig targets a local collector and samples everything.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:     serviceName,
		ServiceVersion:  "dev",
		Environment:     "development",
		Endpoint:        "127.0.0.1:4318",
		Insecure:        true,
		SampleRatio:     1,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ConfigFromEnv overlays the FLOWGRAPH_* tracing variables on DefaultConfig.
// Unparseable values are ignored.
func ConfigFromEnv(serviceName string) Config {
	cfg := DefaultConfig(serviceName)
	if v, ok := os.LookupEnv(EnvOTLPEndpoint); ok && v != "" {
		cfg.Endpoint = v
	}
	if v, ok := os.LookupEnv(EnvEnvironment); ok && v != "" {
		cfg.Environment = v
	}
	if b, err := strconv.ParseBool(os.Getenv(EnvOTLPInsecure)); err == nil {
		cfg.Insecure = b
	}
	if r, err := strconv.ParseFloat(os.Getenv(EnvSampleRatio), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg
}

// Validate checks the fields Setup depends on.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("tracing: service name is required")
	}
	if c.Endpoint == "" {
		return errors.New("tracing: OTLP endpoint is required")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample ratio %v outside [0,1]", c.SampleRatio)
	}
	return nil
}

func (c Config) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case c.SampleRatio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c Config) resource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(c.ServiceVersion),
			semconv.DeploymentEnvironment(c.Environment),
		),
	)
}

// Provider is the installed tracer provider. Close flushes pending spans.
type Provider struct {
	*sdktrace.TracerProvider

	timeout time.Duration
	logger  *zap.Logger
}

// Setup builds the exporter and provider and installs them as the otel
// globals together with W3C trace-context and baggage propagation.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: creating exporter: %w", err)
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing enabled",
		zap.String("service_name", cfg.ServiceName),
		zap.String("otlp_endpoint", cfg.Endpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio))

	return &Provider{TracerProvider: tp, timeout: cfg.ShutdownTimeout, logger: logger}, nil
}

// Close flushes and stops the provider within the configured timeout.
// It is safe on a nil Provider.
func (p *Provider) Close() error {
	if p == nil || p.TracerProvider == nil {
		return nil
	}
	timeout := p.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.Shutdown(ctx); err != nil {
		p.logger.Warn("Tracing shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
