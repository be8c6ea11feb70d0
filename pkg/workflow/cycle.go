package workflow

import (
	"fmt"
	"reflect"

	"github.com/wehubfusion/flowgraph/pkg/node"
	"github.com/wehubfusion/flowgraph/pkg/pathutil"
)

// DefaultMaxIterations bounds a cyclic region whose policy does not set MaxIterations.
const DefaultMaxIterations = 100

// LimitAction decides what happens when a region reaches its iteration bound.
type LimitAction int

const (
	// LimitFail aborts the run with a CycleIterationLimitError.
	LimitFail LimitAction = iota
	// LimitStop leaves the region normally, keeping the last iteration's outputs.
	LimitStop
)

// String returns the action name.
func (a LimitAction) String() string {
	switch a {
	case LimitFail:
		return "fail"
	case LimitStop:
		return "stop"
	}
	return fmt.Sprintf("LimitAction(%d)", int(a))
}

// ExitPredicate inspects the exit node's latest output and reports whether the region should stop.
type ExitPredicate func(output map[string]any) (bool, error)

// ExitCondition designates the node whose output ends a cyclic region.
type ExitCondition struct {
	NodeID    string
	Predicate ExitPredicate
}

// CyclePolicy controls the iterative execution of a cyclic region.
type CyclePolicy struct {
	// MaxIterations bounds the region (DefaultMaxIterations when zero)
	MaxIterations int
	// Exit is evaluated after every complete iteration
	Exit *ExitCondition
	// OnLimit selects the behaviour when MaxIterations is reached without exit
	OnLimit LimitAction
	// Retry applies to member nodes that carry no retry policy of their own
	Retry *RetryPolicy
	// ContinueOnError stops the region instead of aborting the run when a member fails
	ContinueOnError bool
}

// WithDefaults fills zero values.
func (p CyclePolicy) WithDefaults() CyclePolicy {
	if p.MaxIterations == 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	return p
}

// Bound returns the effective iteration bound given the runtime's safety ceiling.
func (p CyclePolicy) Bound(ceiling int) int {
	n := p.WithDefaults().MaxIterations
	if ceiling > 0 && n > ceiling {
		return ceiling
	}
	return n
}

// ExitWhen builds an exit condition.
func ExitWhen(nodeID string, predicate ExitPredicate) *ExitCondition {
	return &ExitCondition{NodeID: nodeID, Predicate: predicate}
}

// StopWhenTrue stops when the value at field is boolean true.
func StopWhenTrue(field string) ExitPredicate {
	return func(output map[string]any) (bool, error) {
		v, ok := pathutil.Navigate(output, field)
		if !ok {
			return false, nil
		}
		b, isBool := v.(bool)
		return isBool && b, nil
	}
}

// StopWhenFalse stops when the value at field is boolean false.
func StopWhenFalse(field string) ExitPredicate {
	return func(output map[string]any) (bool, error) {
		v, ok := pathutil.Navigate(output, field)
		if !ok {
			return false, nil
		}
		b, isBool := v.(bool)
		return isBool && !b, nil
	}
}

// StopWhenEquals stops when the value at field equals expected.
// Numbers compare by value regardless of their Go type.
func StopWhenEquals(field string, expected any) ExitPredicate {
	return func(output map[string]any) (bool, error) {
		v, ok := pathutil.Navigate(output, field)
		if !ok {
			return false, nil
		}
		return ValuesEqual(v, expected), nil
	}
}

// StopWhen adapts a plain boolean function.
func StopWhen(fn func(output map[string]any) bool) ExitPredicate {
	return func(output map[string]any) (bool, error) {
		return fn(output), nil
	}
}

// ValuesEqual compares two values, treating all numeric types as numbers.
func ValuesEqual(a, b any) bool {
	if node.TypeOf(a) == node.TypeInteger || node.TypeOf(a) == node.TypeFloat {
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if okA && okB {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
