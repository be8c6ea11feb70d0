package concurrency

import (
	"sync"
	"time"
)

// CircuitBreakerState is the position of a CircuitBreaker.
type CircuitBreakerState int32

const (
	// StateClosed lets every execution through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects executions until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets executions through on probation.
	StateHalfOpen
)

// String returns the state name.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithHalfOpenSuccesses sets how many consecutive successes close a half-open breaker.
func WithHalfOpenSuccesses(n int64) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.probeSuccesses = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// CircuitBreaker stops dispatching node executions after a run of consecutive
// failures. It opens at the failure threshold, turns half-open once the reset
// timeout has passed since it opened, and closes again after enough
// consecutive half-open successes. Any half-open failure reopens it.
type CircuitBreaker struct {
	mu             sync.Mutex
	state          CircuitBreakerState
	failures       int64
	successes      int64
	openedAt       time.Time
	threshold      int64
	resetTimeout   time.Duration
	probeSuccesses int64
	now            func() time.Time
}

// NewCircuitBreaker creates a breaker. Non-positive arguments fall back to
// 10 failures and a 30s reset timeout.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	cb := &CircuitBreaker{
		threshold:      failureThreshold,
		resetTimeout:   resetTimeout,
		probeSuccesses: 5,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether an execution may start.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.successes = 0
		return true
	}
	return false
}

// Success records a successful execution.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.probeSuccesses {
		cb.state = StateClosed
		cb.successes = 0
	}
}

// Failure records a failed execution.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successes = 0
	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.open()
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failures.
func (cb *CircuitBreaker) Failures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.openedAt = time.Time{}
}
