package concurrency_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wehubfusion/flowgraph/pkg/concurrency"
)

func TestLoadConfigRespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv(concurrency.EnvMaxConcurrent, "42")
	t.Setenv(concurrency.EnvExecutionMode, "PARALLEL")
	t.Setenv(concurrency.EnvBreakerThreshold, "3")
	t.Setenv(concurrency.EnvBreakerReset, "5s")

	cfg := concurrency.LoadConfig()

	if cfg.MaxConcurrent != 42 {
		t.Fatalf("expected MaxConcurrent 42, got %d", cfg.MaxConcurrent)
	}
	if cfg.ExecutionMode != concurrency.ModeParallel {
		t.Fatalf("expected parallel mode, got %s", cfg.ExecutionMode)
	}
	if cfg.BreakerThreshold != 3 || cfg.BreakerReset != 5*time.Second {
		t.Fatalf("unexpected breaker settings %d/%s", cfg.BreakerThreshold, cfg.BreakerReset)
	}
	if cfg.Sizing != concurrency.SizedByEnvironment {
		t.Fatalf("expected env var source, got %s", cfg.Sizing)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfigMultiplier(t *testing.T) {
	t.Setenv(concurrency.EnvConcurrencyMultiplier, "3")

	cfg := concurrency.LoadConfig()
	if cfg.MaxConcurrent != cfg.CPUs*3 {
		t.Fatalf("expected %d, got %d", cfg.CPUs*3, cfg.MaxConcurrent)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv(concurrency.EnvExecutionMode, "bogus")

	cfg := concurrency.LoadConfig()
	if cfg.MaxConcurrent < 1 {
		t.Fatalf("expected positive MaxConcurrent, got %d", cfg.MaxConcurrent)
	}
	if cfg.ExecutionMode != concurrency.ModeSequential {
		t.Fatalf("expected sequential fallback, got %s", cfg.ExecutionMode)
	}
	if cfg.Sizing != concurrency.SizedByCPU {
		t.Fatalf("expected auto-detect source, got %s", cfg.Sizing)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := concurrency.DefaultConfig()
	cfg.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero MaxConcurrent")
	}
	cfg.MaxConcurrent = 1
	cfg.ExecutionMode = "sideways"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLimiterAcquireReleaseTracksMetrics(t *testing.T) {
	limiter := concurrency.NewLimiter(2)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if limiter.CurrentActive() != 1 {
		t.Fatalf("expected 1 active slot, got %d", limiter.CurrentActive())
	}
	limiter.Release()

	stats := limiter.Stats()
	if stats.Acquired != 1 || stats.Released != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Peak != 1 {
		t.Fatalf("expected peak 1, got %d", stats.Peak)
	}
}

func TestLimiterReleaseWithoutAcquireIsNoop(t *testing.T) {
	limiter := concurrency.NewLimiter(1)
	limiter.Release()
	if stats := limiter.Stats(); stats.Released != 0 || stats.Active != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	limiter.Release()
}

func TestParseExecutionMode(t *testing.T) {
	if m, err := concurrency.ParseExecutionMode(" Parallel "); err != nil || m != concurrency.ModeParallel {
		t.Fatalf("expected parallel, got %q (%v)", m, err)
	}
	if _, err := concurrency.ParseExecutionMode("sideways"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	limiter := concurrency.NewLimiter(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.GoSync(ctx, func() error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak := limiter.Stats().Peak; peak > 2 {
		t.Fatalf("expected at most 2 concurrent, got %d", peak)
	}
	if limiter.CurrentActive() != 0 {
		t.Fatalf("expected all slots released, got %d", limiter.CurrentActive())
	}
}

func TestLimiterAcquireHonorsContextCancellation(t *testing.T) {
	limiter := concurrency.NewLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := limiter.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLimiterCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := concurrency.NewCircuitBreaker(1, time.Hour)
	limiter := concurrency.NewLimiterWithCircuitBreaker(1, cb)

	ctx := context.Background()
	_ = limiter.GoSync(ctx, func() error { return errors.New("boom") })

	if cb.State() != concurrency.StateOpen {
		t.Fatalf("expected circuit breaker to open, got %s", cb.State())
	}

	if err := limiter.Acquire(ctx); !errors.Is(err, concurrency.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if limiter.Stats().Rejected != 1 {
		t.Fatalf("expected 1 rejection")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := concurrency.NewCircuitBreaker(2, time.Minute,
		concurrency.WithClock(func() time.Time { return now }),
		concurrency.WithHalfOpenSuccesses(2))

	cb.Failure()
	if cb.State() != concurrency.StateClosed || cb.Failures() != 1 {
		t.Fatalf("expected closed with 1 failure, got %s/%d", cb.State(), cb.Failures())
	}
	cb.Failure()
	if cb.Allow() {
		t.Fatal("expected open breaker to reject")
	}

	now = now.Add(time.Minute)
	if !cb.Allow() || cb.State() != concurrency.StateHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", cb.State())
	}
	cb.Success()
	if cb.State() != concurrency.StateHalfOpen {
		t.Fatalf("expected still half-open, got %s", cb.State())
	}
	cb.Success()
	if cb.State() != concurrency.StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := concurrency.NewCircuitBreaker(1, time.Second, concurrency.WithClock(func() time.Time { return now }))
	cb.Failure()
	now = now.Add(2 * time.Second)
	if !cb.Allow() {
		t.Fatal("expected half-open breaker to allow a probe")
	}
	cb.Failure()
	if cb.State() != concurrency.StateOpen || cb.Allow() {
		t.Fatalf("expected reopened breaker, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != concurrency.StateClosed || !cb.Allow() {
		t.Fatalf("expected closed after reset, got %s", cb.State())
	}
}

func TestDefaultConfigLimiterHasNoBreaker(t *testing.T) {
	limiter := concurrency.DefaultConfig().NewLimiter()
	if limiter.CircuitBreaker() != nil {
		t.Fatal("expected no circuit breaker by default")
	}

	ctx := context.Background()
	for i := 0; i < 200; i++ {
		_ = limiter.GoSync(ctx, func() error { return errors.New("boom") })
	}
	if err := limiter.GoSync(ctx, func() error { return nil }); err != nil {
		t.Fatalf("expected healthy work to run, got %v", err)
	}
	if limiter.Stats().Rejected != 0 {
		t.Fatalf("expected no rejections, got %d", limiter.Stats().Rejected)
	}
}

func TestConfigWithThresholdAttachesBreaker(t *testing.T) {
	cfg := concurrency.DefaultConfig()
	cfg.BreakerThreshold = 2
	if cfg.NewLimiter().CircuitBreaker() == nil {
		t.Fatal("expected a circuit breaker when a threshold is set")
	}
}

func TestCanceledWorkDoesNotTripBreaker(t *testing.T) {
	cb := concurrency.NewCircuitBreaker(1, time.Hour)
	limiter := concurrency.NewLimiterWithCircuitBreaker(1, cb)

	_ = limiter.GoSync(context.Background(), func() error { return context.Canceled })
	if cb.State() != concurrency.StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}
