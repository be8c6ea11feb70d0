package workflow

import (
	"fmt"
	"time"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

// WholeOutput is the source key that routes a node's entire output mapping.
const WholeOutput = "*"

// Node is a node instance in a workflow graph.
type Node struct {
	// ID is unique within the graph
	ID string
	// Type is the registered node type name
	Type string
	// Config holds static parameter values
	Config map[string]any
	// Retry overrides the runtime's retry behaviour for this node
	Retry *RetryPolicy
	// Timeout bounds a single invocation of the node (0 uses the runtime default)
	Timeout time.Duration
	// Descriptor is the resolved node type
	Descriptor *node.Descriptor
	// Index is the insertion position of the node in its graph
	Index int
}

// NodeOption customises a node instance.
type NodeOption func(*Node)

// WithRetry attaches a retry policy to the node.
func WithRetry(policy RetryPolicy) NodeOption {
	return func(n *Node) {
		p := policy
		n.Retry = &p
	}
}

// WithTimeout bounds each invocation of the node.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *Node) {
		n.Timeout = d
	}
}

// Connection routes one node's output key into another node's input parameter.
type Connection struct {
	SourceID  string
	SourceKey string
	TargetID  string
	TargetKey string
	// Trigger gates the target: it only runs if the source value is present and non-nil
	Trigger bool
}

// WholeSource reports whether the connection routes the entire source output.
func (c Connection) WholeSource() bool {
	return c.SourceKey == "" || c.SourceKey == WholeOutput
}

// String renders the connection as "A.value -> B.x".
func (c Connection) String() string {
	key := c.SourceKey
	if key == "" {
		key = WholeOutput
	}
	arrow := "->"
	if c.Trigger {
		arrow = "=>"
	}
	return fmt.Sprintf("%s.%s %s %s.%s", c.SourceID, key, arrow, c.TargetID, c.TargetKey)
}

// ConnectionOption customises a connection.
type ConnectionOption func(*Connection)

// AsTrigger marks the connection as a trigger: when the source value is absent
// or nil the target node is skipped instead of executed.
func AsTrigger() ConnectionOption {
	return func(c *Connection) {
		c.Trigger = true
	}
}

// RetryPolicy bounds re-invocation of a failing node.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first (minimum 1)
	MaxAttempts int
	// InitialInterval is the delay before the first retry (0 retries immediately)
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts
	MaxInterval time.Duration
	// Multiplier grows the delay after each attempt (values below 1 keep it constant)
	Multiplier float64
	// RetryIf filters retryable errors; nil retries every non-configuration error
	RetryIf func(error) bool
}

// Attempts returns the effective attempt count.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Severity classifies a validation diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a single structural finding.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	NodeID   string   `json:"node_id,omitempty"`
	Message  string   `json:"message"`
}

// String renders the diagnostic for logs.
func (d Diagnostic) String() string {
	if d.NodeID == "" {
		return fmt.Sprintf("%s [%s]: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s: %s", d.Severity, d.Code, d.NodeID, d.Message)
}

// ValidationResult is the outcome of structural validation.
type ValidationResult struct {
	Valid       bool
	Diagnostics []Diagnostic
}

// Errors returns only the error-severity diagnostics.
func (r ValidationResult) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only the warning-severity diagnostics.
func (r ValidationResult) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}
