package runtime

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wehubfusion/flowgraph/pkg/concurrency"
	"github.com/wehubfusion/flowgraph/pkg/workflow"
)

// DefaultSafetyCeiling is the hard upper bound on iterations of any cyclic region.
const DefaultSafetyCeiling = 1000

// Environment variables read by ConfigFromEnv, in addition to those of concurrency.LoadConfig.
const (
	EnvRunTimeout     = "FLOWGRAPH_RUN_TIMEOUT"
	EnvNodeTimeout    = "FLOWGRAPH_NODE_TIMEOUT"
	EnvSafetyCeiling  = "FLOWGRAPH_SAFETY_CEILING"
	EnvValidateInputs = "FLOWGRAPH_VALIDATE_INPUTS"
)

// Config controls scheduling, deadlines and validation of runs.
type Config struct {
	// ExecutionMode selects sequential or parallel-safe scheduling
	ExecutionMode concurrency.ExecutionMode

	// RunTimeout bounds a whole run (0 for no deadline)
	RunTimeout time.Duration

	// NodeTimeout bounds each node invocation unless the node sets its own (0 for none)
	NodeTimeout time.Duration

	// SafetyCeiling clamps the iteration bound of every cyclic region
	SafetyCeiling int

	// ValidateInputs checks merged node inputs against the type's JSON schema before invocation
	ValidateInputs bool

	// DefaultRetry applies to nodes without a node or region retry policy (nil for no retries)
	DefaultRetry *workflow.RetryPolicy

	// Concurrency sizes the limiter used by parallel and async dispatch
	Concurrency *concurrency.Config
}

// DefaultConfig returns sequential execution without deadlines.
func DefaultConfig() Config {
	return Config{
		ExecutionMode: concurrency.ModeSequential,
		SafetyCeiling: DefaultSafetyCeiling,
		Concurrency:   concurrency.DefaultConfig(),
	}
}

// ConfigFromEnv loads the concurrency settings with concurrency.LoadConfig and
// applies FLOWGRAPH_RUN_TIMEOUT, FLOWGRAPH_NODE_TIMEOUT, FLOWGRAPH_SAFETY_CEILING
// and FLOWGRAPH_VALIDATE_INPUTS. Invalid values are ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = concurrency.LoadConfig()
	cfg.ExecutionMode = cfg.Concurrency.ExecutionMode

	if d, ok := envDuration(EnvRunTimeout); ok {
		cfg.RunTimeout = d
	}
	if d, ok := envDuration(EnvNodeTimeout); ok {
		cfg.NodeTimeout = d
	}
	if v := os.Getenv(EnvSafetyCeiling); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SafetyCeiling = n
		}
	}
	if v := os.Getenv(EnvValidateInputs); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ValidateInputs = b
		}
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ExecutionMode != concurrency.ModeSequential && c.ExecutionMode != concurrency.ModeParallel {
		return fmt.Errorf("unknown execution mode %q", c.ExecutionMode)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run timeout cannot be negative")
	}
	if c.NodeTimeout < 0 {
		return fmt.Errorf("node timeout cannot be negative")
	}
	if c.SafetyCeiling < 1 {
		return fmt.Errorf("safety ceiling must be at least 1, got %d", c.SafetyCeiling)
	}
	if c.Concurrency != nil {
		return c.Concurrency.Validate()
	}
	return nil
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
