// Package concurrency provides the environment-driven concurrency settings of
// the engine and the limiter that bounds parallel node execution.
package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ExecutionMode selects how independent plan steps are scheduled.
type ExecutionMode string

const (
	// ModeSequential runs one node at a time in plan order
	ModeSequential ExecutionMode = "sequential"
	// ModeParallel dispatches independent steps of a wave concurrently
	ModeParallel ExecutionMode = "parallel"
)

// Valid reports whether m is a known mode.
func (m ExecutionMode) Valid() bool {
	return m == ModeSequential || m == ModeParallel
}

// ParseExecutionMode accepts a mode name in any case.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	m := ExecutionMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
	return m, nil
}

// SizingSource records how MaxConcurrent was chosen.
type SizingSource string

const (
	SizedByDefault     SizingSource = "default"
	SizedByCPU         SizingSource = "auto_detect"
	SizedByEnvironment SizingSource = "environment_variable"
)

// Environment variables read by LoadConfig.
const (
	EnvMaxConcurrent         = "FLOWGRAPH_MAX_CONCURRENT"
	EnvConcurrencyMultiplier = "FLOWGRAPH_CONCURRENCY_MULTIPLIER"
	EnvExecutionMode         = "FLOWGRAPH_EXECUTION_MODE"
	EnvBreakerThreshold      = "FLOWGRAPH_BREAKER_THRESHOLD"
	EnvBreakerReset          = "FLOWGRAPH_BREAKER_RESET"
)

// Config sizes the limiter and its breaker.
type Config struct {
	MaxConcurrent int
	ExecutionMode ExecutionMode

	// BreakerThreshold is the consecutive failure count that opens the breaker.
	// Zero leaves the limiter without a breaker.
	BreakerThreshold int64
	BreakerReset     time.Duration

	Sizing SizingSource
	CPUs   int
}

// DefaultConfig returns sequential execution sized for the current machine.
func DefaultConfig() *Config {
	cpus := runtime.GOMAXPROCS(0)
	return &Config{
		MaxConcurrent: cpus * cpuFactor(),
		ExecutionMode: ModeSequential,
		BreakerReset:  30 * time.Second,
		Sizing:        SizedByDefault,
		CPUs:          cpus,
	}
}

// LoadConfig applies the FLOWGRAPH_* concurrency variables on top of
// DefaultConfig. An explicit FLOWGRAPH_MAX_CONCURRENT wins over
// FLOWGRAPH_CONCURRENCY_MULTIPLIER. Unknown modes fall back to sequential.
func LoadConfig() *Config {
	c := DefaultConfig()

	switch {
	case envPositive(EnvMaxConcurrent) > 0:
		c.MaxConcurrent = envPositive(EnvMaxConcurrent)
		c.Sizing = SizedByEnvironment
	case envPositive(EnvConcurrencyMultiplier) > 0:
		c.MaxConcurrent = c.CPUs * envPositive(EnvConcurrencyMultiplier)
		c.Sizing = SizedByEnvironment
	default:
		c.Sizing = SizedByCPU
	}
	c.MaxConcurrent = max(c.MaxConcurrent, 1)

	if v := os.Getenv(EnvExecutionMode); v != "" {
		if m, err := ParseExecutionMode(v); err == nil {
			c.ExecutionMode = m
		}
	}

	if n := envPositive(EnvBreakerThreshold); n > 0 {
		c.BreakerThreshold = int64(n)
	}
	if d, err := time.ParseDuration(os.Getenv(EnvBreakerReset)); err == nil && d > 0 {
		c.BreakerReset = d
	}
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if !c.ExecutionMode.Valid() {
		return fmt.Errorf("unknown execution mode %q", c.ExecutionMode)
	}
	if c.BreakerThreshold < 0 {
		return fmt.Errorf("breaker threshold cannot be negative")
	}
	return nil
}

// NewLimiter builds a limiter sized according to the configuration. A
// breaker is attached only when BreakerThreshold is set.
func (c *Config) NewLimiter() *Limiter {
	if c.BreakerThreshold <= 0 {
		return NewLimiter(c.MaxConcurrent)
	}
	return NewLimiterWithCircuitBreaker(c.MaxConcurrent, NewCircuitBreaker(c.BreakerThreshold, c.BreakerReset))
}

func (c *Config) String() string {
	return fmt.Sprintf("mode=%s max_concurrent=%d (%s, %d cpus) breaker=%d/%s",
		c.ExecutionMode, c.MaxConcurrent, c.Sizing, c.CPUs, c.BreakerThreshold, c.BreakerReset)
}

// cpuFactor is the default number of slots per CPU, halved inside Kubernetes.
func cpuFactor() int {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return 2
	}
	return 4
}

// envPositive returns the integer value of key, or 0 when unset or not positive.
func envPositive(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
