package condition

import "fmt"

// ConfigError reports an invalid switch configuration.
type ConfigError struct {
	NodeID  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("node %s: config error [%s]: %s", e.NodeID, e.Field, e.Message)
}

// ComparisonError reports a comparison that could not be performed.
type ComparisonError struct {
	Operator Operator
	Message  string
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("comparison error [%s]: %s", e.Operator, e.Message)
}

// EvaluationError reports a condition that could not be evaluated.
type EvaluationError struct {
	NodeID  string
	Field   string
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("node %s: evaluation error [%s]: %s", e.NodeID, e.Field, e.Message)
}
