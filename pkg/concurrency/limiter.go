package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrCircuitOpen is returned by Acquire while the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Stats is a snapshot of limiter activity.
type Stats struct {
	Active   int64
	Peak     int64
	Acquired int64
	Released int64
	Rejected int64
	// Waited is the total time spent blocked in Acquire
	Waited time.Duration
}

// MeanWait is the average time an acquisition waited for a slot.
func (s Stats) MeanWait() time.Duration {
	if s.Acquired == 0 {
		return 0
	}
	return s.Waited / time.Duration(s.Acquired)
}

// Limiter bounds the number of node executions running at once and trips a
// circuit breaker after repeated failures.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	breaker  *CircuitBreaker

	mu    sync.Mutex
	stats Stats
}

// NewLimiter creates a limiter without a circuit breaker.
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithCircuitBreaker(maxConcurrent, nil)
}

// NewLimiterWithCircuitBreaker creates a limiter guarded by cb.
// A nil cb means no breaker.
func NewLimiterWithCircuitBreaker(maxConcurrent int, cb *CircuitBreaker) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: maxConcurrent,
		breaker:  cb,
	}
}

// Capacity returns the maximum number of concurrent slots.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Acquire waits for a free slot.
// Returns ErrCircuitOpen while the breaker is open, or ctx.Err() on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.breaker != nil && !l.breaker.Allow() {
		l.mu.Lock()
		l.stats.Rejected++
		l.mu.Unlock()
		return ErrCircuitOpen
	}

	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	waited := time.Since(start)

	l.mu.Lock()
	l.stats.Acquired++
	l.stats.Active++
	l.stats.Waited += waited
	if l.stats.Active > l.stats.Peak {
		l.stats.Peak = l.stats.Active
	}
	l.mu.Unlock()
	return nil
}

// Release returns a slot. Releasing more slots than were acquired is a no-op.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.stats.Active == 0 {
		l.mu.Unlock()
		return
	}
	l.stats.Active--
	l.stats.Released++
	l.mu.Unlock()
	l.sem.Release(1)
}

// GoSync runs fn while holding a slot and feeds its outcome to the breaker.
// Context cancellation is not counted as a failure.
func (l *Limiter) GoSync(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	switch {
	case l.breaker == nil:
	case err == nil:
		l.breaker.Success()
	case !errors.Is(err, context.Canceled):
		l.breaker.Failure()
	}
	return err
}

// CurrentActive returns the number of held slots.
func (l *Limiter) CurrentActive() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.Active
}

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// CircuitBreaker returns the limiter's breaker, nil when it has none.
func (l *Limiter) CircuitBreaker() *CircuitBreaker {
	return l.breaker
}
