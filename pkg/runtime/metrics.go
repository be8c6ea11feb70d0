package runtime

import (
	"sort"
	"sync"
	"time"
)

// NodeOutcome is how a single node execution ended.
type NodeOutcome int

const (
	NodeSucceeded NodeOutcome = iota
	NodeFailed
	NodeSkipped
)

// MetricsCollector receives execution counters from the runtime.
// Implementations must be safe for concurrent use.
type MetricsCollector interface {
	RunFinished(success bool)
	NodeFinished(nodeType string, outcome NodeOutcome, elapsed time.Duration)
	NodeRetried(nodeType string)
	IterationCompleted()
}

// NodeTypeStats aggregates the executions of one node type.
type NodeTypeStats struct {
	Succeeded int64
	Failed    int64
	Skipped   int64
	Retries   int64
	// Busy is the executor time of succeeded and failed executions
	Busy time.Duration
}

// Mean returns the average executor time per non-skipped execution.
func (s NodeTypeStats) Mean() time.Duration {
	n := s.Succeeded + s.Failed
	if n == 0 {
		return 0
	}
	return s.Busy / time.Duration(n)
}

// Metrics is a point-in-time copy of a Counters.
type Metrics struct {
	RunsSucceeded int64
	RunsFailed    int64
	Iterations    int64
	ByType        map[string]NodeTypeStats
}

// Totals sums the per-type stats.
func (m Metrics) Totals() NodeTypeStats {
	var t NodeTypeStats
	for _, s := range m.ByType {
		t.Succeeded += s.Succeeded
		t.Failed += s.Failed
		t.Skipped += s.Skipped
		t.Retries += s.Retries
		t.Busy += s.Busy
	}
	return t
}

// ErrorRate is the percentage of non-skipped executions that failed.
func (m Metrics) ErrorRate() float64 {
	t := m.Totals()
	if t.Succeeded+t.Failed == 0 {
		return 0
	}
	return float64(t.Failed) / float64(t.Succeeded+t.Failed) * 100
}

// Types returns the node types seen so far in sorted order.
func (m Metrics) Types() []string {
	names := make([]string, 0, len(m.ByType))
	for name := range m.ByType {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counters is an in-memory MetricsCollector keyed by node type.
type Counters struct {
	mu      sync.Mutex
	metrics Metrics
}

// NewCounters returns empty counters.
func NewCounters() *Counters {
	return &Counters{metrics: Metrics{ByType: make(map[string]NodeTypeStats)}}
}

func (c *Counters) RunFinished(success bool) {
	c.mu.Lock()
	if success {
		c.metrics.RunsSucceeded++
	} else {
		c.metrics.RunsFailed++
	}
	c.mu.Unlock()
}

func (c *Counters) NodeFinished(nodeType string, outcome NodeOutcome, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.metrics.ByType[nodeType]
	switch outcome {
	case NodeSucceeded:
		s.Succeeded++
		s.Busy += elapsed
	case NodeFailed:
		s.Failed++
		s.Busy += elapsed
	case NodeSkipped:
		s.Skipped++
	}
	c.metrics.ByType[nodeType] = s
}

func (c *Counters) NodeRetried(nodeType string) {
	c.mu.Lock()
	s := c.metrics.ByType[nodeType]
	s.Retries++
	c.metrics.ByType[nodeType] = s
	c.mu.Unlock()
}

func (c *Counters) IterationCompleted() {
	c.mu.Lock()
	c.metrics.Iterations++
	c.mu.Unlock()
}

// Snapshot copies the current counters.
func (c *Counters) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.metrics
	out.ByType = make(map[string]NodeTypeStats, len(c.metrics.ByType))
	for k, v := range c.metrics.ByType {
		out.ByType[k] = v
	}
	return out
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	c.mu.Lock()
	c.metrics = Metrics{ByType: make(map[string]NodeTypeStats)}
	c.mu.Unlock()
}

type nopMetrics struct{}

func (nopMetrics) RunFinished(bool)                                {}
func (nopMetrics) NodeFinished(string, NodeOutcome, time.Duration) {}
func (nopMetrics) NodeRetried(string)                              {}
func (nopMetrics) IterationCompleted()                             {}

var (
	_ MetricsCollector = (*Counters)(nil)
	_ MetricsCollector = nopMetrics{}
)
