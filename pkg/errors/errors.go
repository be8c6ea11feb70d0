package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownNodeType indicates that a node type name is not registered
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnknownNode indicates that a node id is not present in the graph
	ErrUnknownNode = errors.New("unknown node")

	// ErrDuplicateNodeID indicates that a node id was added twice
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrDuplicateRegistration indicates that a node type was registered twice
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrInvalidDeclaration indicates a malformed parameter or output declaration
	ErrInvalidDeclaration = errors.New("invalid declaration")

	// ErrParameterValidation indicates that parameter validation reported blocking issues
	ErrParameterValidation = errors.New("parameter validation failed")

	// ErrInvalidCyclePolicy indicates a cycle policy that cannot be attached to the graph
	ErrInvalidCyclePolicy = errors.New("invalid cycle policy")

	// ErrCycleIterationLimitExceeded indicates a cyclic region ran out of iterations
	ErrCycleIterationLimitExceeded = errors.New("cycle iteration limit exceeded")

	// ErrNodeExecution indicates that a node executor failed
	ErrNodeExecution = errors.New("node execution failed")

	// ErrTimeout indicates that a node or a run exceeded its deadline
	ErrTimeout = errors.New("operation timed out")

	// ErrRunNotFound indicates that no run record exists for a run id
	ErrRunNotFound = errors.New("run not found")

	// ErrNodeNotExecuted indicates that a node produced no result in a run
	ErrNodeNotExecuted = errors.New("node not executed")

	// ErrCheckpointNotFound indicates that no checkpoint exists for a run
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// Machine-readable error codes carried by Error.
const (
	CodeUnknownNodeType         = "UNKNOWN_NODE_TYPE"
	CodeUnknownNode             = "UNKNOWN_NODE"
	CodeDuplicateNodeID         = "DUPLICATE_NODE_ID"
	CodeDuplicateRegistration   = "DUPLICATE_REGISTRATION"
	CodeInvalidDeclaration      = "INVALID_DECLARATION"
	CodeInvalidCyclePolicy      = "INVALID_CYCLE_POLICY"
	CodeDanglingConnection      = "DANGLING_CONNECTION"
	CodeCheckpointNotFound      = "CHECKPOINT_NOT_FOUND"
	CodeRunNotFound             = "RUN_NOT_FOUND"
	CodeNodeNotExecuted         = "NODE_NOT_EXECUTED"
	CodeParameterValidationFail = "PARAMETER_VALIDATION"
)

// Error represents a structured flowgraph error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// UnknownNodeType builds the error returned when typeName is not registered.
func UnknownNodeType(typeName string) error {
	return NewError(CodeUnknownNodeType, fmt.Sprintf("node type %q is not registered", typeName), ErrUnknownNodeType)
}

// UnknownNode builds the error returned when nodeID is not part of the graph.
func UnknownNode(nodeID string) error {
	return NewError(CodeUnknownNode, fmt.Sprintf("node %q does not exist in the graph", nodeID), ErrUnknownNode)
}

// DuplicateNodeID builds the error returned when nodeID is added twice.
func DuplicateNodeID(nodeID string) error {
	return NewError(CodeDuplicateNodeID, fmt.Sprintf("node %q already exists in the graph", nodeID), ErrDuplicateNodeID)
}

// DuplicateRegistration builds the error returned when typeName is registered twice.
func DuplicateRegistration(typeName string) error {
	return NewError(CodeDuplicateRegistration, fmt.Sprintf("node type %q is already registered", typeName), ErrDuplicateRegistration)
}

// InvalidDeclaration builds a declaration error for a node type.
func InvalidDeclaration(typeName, reason string) error {
	return NewError(CodeInvalidDeclaration, fmt.Sprintf("node type %q: %s", typeName, reason), ErrInvalidDeclaration)
}

// InvalidCyclePolicy builds a cycle policy error anchored at nodeID.
func InvalidCyclePolicy(nodeID, reason string) error {
	return NewError(CodeInvalidCyclePolicy, fmt.Sprintf("cycle policy at %q: %s", nodeID, reason), ErrInvalidCyclePolicy)
}

// RunNotFound builds the error returned for an unknown run id.
func RunNotFound(runID string) error {
	return NewError(CodeRunNotFound, fmt.Sprintf("run %q not found", runID), ErrRunNotFound)
}

// NodeNotExecuted builds the error returned when a node has no result in a run.
func NodeNotExecuted(runID, nodeID string) error {
	return NewError(CodeNodeNotExecuted, fmt.Sprintf("node %q was not executed in run %q", nodeID, runID), ErrNodeNotExecuted)
}

// CheckpointNotFound builds the error returned when a run has no checkpoint.
func CheckpointNotFound(runID string) error {
	return NewError(CodeCheckpointNotFound, fmt.Sprintf("no checkpoint for run %q", runID), ErrCheckpointNotFound)
}

// NodeExecutionError wraps a failure raised by a node executor.
// Partial holds every node output computed before the failure.
type NodeExecutionError struct {
	RunID     string
	NodeID    string
	NodeType  string
	Iteration int
	Attempts  int
	Err       error
	Partial   map[string]map[string]any
}

// Error implements the error interface
func (e *NodeExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %q", e.NodeID)
	if e.NodeType != "" {
		fmt.Fprintf(&b, " [%s]", e.NodeType)
	}
	if e.Iteration > 0 {
		fmt.Fprintf(&b, " at iteration %d", e.Iteration)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	fmt.Fprintf(&b, " failed in run %s: %v", e.RunID, e.Err)
	return b.String()
}

// Unwrap exposes both ErrNodeExecution and the executor's own error.
func (e *NodeExecutionError) Unwrap() []error {
	return []error{ErrNodeExecution, e.Err}
}

// TimeoutError reports a node or run deadline expiry.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
	Err     error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("node %q timed out after %s", e.NodeID, e.Timeout)
	}
	return fmt.Sprintf("node %q timed out", e.NodeID)
}

// Unwrap exposes ErrTimeout and the context error that triggered it.
func (e *TimeoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.Err}
}

// CycleIterationLimitError reports a region that reached its bound without exiting.
type CycleIterationLimitError struct {
	Region     string
	Members    []string
	Iterations int
}

// Error implements the error interface
func (e *CycleIterationLimitError) Error() string {
	return fmt.Sprintf("cyclic region %s %v did not exit within %d iterations", e.Region, e.Members, e.Iterations)
}

// Unwrap returns ErrCycleIterationLimitExceeded
func (e *CycleIterationLimitError) Unwrap() error {
	return ErrCycleIterationLimitExceeded
}

// IsConfigurationError reports errors that stem from graph or registry setup.
// These are programmer errors and are never retried.
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnknownNodeType) ||
		errors.Is(err, ErrUnknownNode) ||
		errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrDuplicateRegistration) ||
		errors.Is(err, ErrInvalidDeclaration) ||
		errors.Is(err, ErrInvalidCyclePolicy) ||
		errors.Is(err, ErrParameterValidation)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
