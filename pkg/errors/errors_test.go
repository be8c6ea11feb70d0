package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStructuredErrors(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		code     string
	}{
		{UnknownNodeType("x"), ErrUnknownNodeType, CodeUnknownNodeType},
		{UnknownNode("n"), ErrUnknownNode, CodeUnknownNode},
		{DuplicateNodeID("n"), ErrDuplicateNodeID, CodeDuplicateNodeID},
		{DuplicateRegistration("x"), ErrDuplicateRegistration, CodeDuplicateRegistration},
		{InvalidDeclaration("x", "bad"), ErrInvalidDeclaration, CodeInvalidDeclaration},
		{InvalidCyclePolicy("n", "bad"), ErrInvalidCyclePolicy, CodeInvalidCyclePolicy},
		{RunNotFound("r"), ErrRunNotFound, CodeRunNotFound},
		{NodeNotExecuted("r", "n"), ErrNodeNotExecuted, CodeNodeNotExecuted},
		{CheckpointNotFound("r"), ErrCheckpointNotFound, CodeCheckpointNotFound},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.sentinel)
		var e *Error
		if assert.ErrorAs(t, tt.err, &e) {
			assert.Equal(t, tt.code, e.Code)
		}
		assert.Contains(t, tt.err.Error(), "["+tt.code+"]")
	}
}

func TestNodeExecutionError(t *testing.T) {
	cause := errors.New("boom")
	err := &NodeExecutionError{RunID: "r1", NodeID: "n", NodeType: "add", Iteration: 2, Attempts: 3, Err: cause}

	assert.ErrorIs(t, err, ErrNodeExecution)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `node "n" [add] at iteration 2 after 3 attempts failed in run r1: boom`, err.Error())
	assert.False(t, IsConfigurationError(err))

	wrapped := fmt.Errorf("outer: %w", err)
	var nodeErr *NodeExecutionError
	assert.ErrorAs(t, wrapped, &nodeErr)
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{NodeID: "slow", Timeout: time.Second, Err: context.DeadlineExceeded}
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, `node "slow" timed out after 1s`, err.Error())
	assert.True(t, IsTimeout(&TimeoutError{NodeID: "x"}))
}

func TestCycleIterationLimitError(t *testing.T) {
	err := &CycleIterationLimitError{Region: "cycle:a", Members: []string{"a", "b"}, Iterations: 5}
	assert.ErrorIs(t, err, ErrCycleIterationLimitExceeded)
	assert.Contains(t, err.Error(), "within 5 iterations")
}

func TestIsConfigurationError(t *testing.T) {
	assert.False(t, IsConfigurationError(nil))
	assert.True(t, IsConfigurationError(fmt.Errorf("wrap: %w", ErrParameterValidation)))
	assert.False(t, IsConfigurationError(errors.New("other")))
}
