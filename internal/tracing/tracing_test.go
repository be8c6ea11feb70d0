package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvOTLPEndpoint, "collector:4318")
	t.Setenv(EnvEnvironment, "prod")
	t.Setenv(EnvSampleRatio, "0.25")
	t.Setenv(EnvOTLPInsecure, "false")

	cfg := ConfigFromEnv("flowgraph")
	assert.Equal(t, "flowgraph", cfg.ServiceName)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.False(t, cfg.Insecure)
}

func TestConfigFromEnv_IgnoresBadValues(t *testing.T) {
	t.Setenv(EnvSampleRatio, "2")
	t.Setenv(EnvOTLPInsecure, "maybe")

	cfg := ConfigFromEnv("svc")
	assert.Equal(t, 1.0, cfg.SampleRatio)
	assert.True(t, cfg.Insecure)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig("svc").Validate())

	cfg := DefaultConfig("")
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("svc")
	cfg.Endpoint = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("svc")
	cfg.SampleRatio = -0.1
	assert.Error(t, cfg.Validate())
}

func TestConfig_Sampler(t *testing.T) {
	cfg := DefaultConfig("svc")
	assert.Contains(t, cfg.sampler().Description(), "AlwaysOnSampler")

	cfg.SampleRatio = 0
	assert.Contains(t, cfg.sampler().Description(), "AlwaysOffSampler")

	cfg.SampleRatio = 0.5
	assert.Contains(t, cfg.sampler().Description(), "TraceIDRatioBased")
}

func TestConfig_Resource(t *testing.T) {
	res, err := DefaultConfig("flowgraph").resource(context.Background())
	require.NoError(t, err)

	v, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "flowgraph", v.AsString())
}

func TestSetup_InvalidConfig(t *testing.T) {
	_, err := Setup(context.Background(), DefaultConfig(""), nil)
	assert.Error(t, err)
}

func TestProvider_Close(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Close())

	p = &Provider{TracerProvider: sdktrace.NewTracerProvider()}
	assert.NoError(t, p.Close())
}
