package condition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator names a comparison.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpRegex              Operator = "regex"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpIsEmpty            Operator = "is_empty"
	OpIsNotEmpty         Operator = "is_not_empty"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals,
		OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex,
		OpIn, OpNotIn, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// Compare applies operator to actual and expected.
func Compare(actual, expected any, operator Operator, caseInsensitive bool) (bool, error) {
	switch operator {
	case OpEquals:
		return valuesEqual(actual, expected, caseInsensitive), nil
	case OpNotEquals:
		return !valuesEqual(actual, expected, caseInsensitive), nil
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		return compareNumbers(actual, expected, operator)
	case OpContains:
		a, e := normalize(actual, expected, caseInsensitive)
		return strings.Contains(a, e), nil
	case OpNotContains:
		a, e := normalize(actual, expected, caseInsensitive)
		return !strings.Contains(a, e), nil
	case OpStartsWith:
		a, e := normalize(actual, expected, caseInsensitive)
		return strings.HasPrefix(a, e), nil
	case OpEndsWith:
		a, e := normalize(actual, expected, caseInsensitive)
		return strings.HasSuffix(a, e), nil
	case OpRegex:
		re, err := regexp.Compile(toString(expected))
		if err != nil {
			return false, &ComparisonError{Operator: operator, Message: fmt.Sprintf("invalid regex pattern %q: %v", toString(expected), err)}
		}
		return re.MatchString(toString(actual)), nil
	case OpIn:
		return contains(actual, expected, caseInsensitive, operator)
	case OpNotIn:
		found, err := contains(actual, expected, caseInsensitive, operator)
		return !found, err
	case OpIsEmpty:
		return isEmpty(actual), nil
	case OpIsNotEmpty:
		return !isEmpty(actual), nil
	}
	return false, &ComparisonError{Operator: operator, Message: "unsupported operator"}
}

func compareNumbers(actual, expected any, operator Operator) (bool, error) {
	a, err := toFloat64(actual)
	if err != nil {
		return false, &ComparisonError{Operator: operator, Message: fmt.Sprintf("actual value conversion failed: %v", err)}
	}
	e, err := toFloat64(expected)
	if err != nil {
		return false, &ComparisonError{Operator: operator, Message: fmt.Sprintf("expected value conversion failed: %v", err)}
	}
	switch operator {
	case OpGreaterThan:
		return a > e, nil
	case OpLessThan:
		return a < e, nil
	case OpGreaterThanOrEqual:
		return a >= e, nil
	}
	return a <= e, nil
}

func contains(actual, expected any, caseInsensitive bool, operator Operator) (bool, error) {
	items, ok := expected.([]any)
	if !ok {
		if strs, isStrings := expected.([]string); isStrings {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			return false, &ComparisonError{Operator: operator, Message: fmt.Sprintf("expected value must be a list, got %T", expected)}
		}
	}
	for _, item := range items {
		if valuesEqual(actual, item, caseInsensitive) {
			return true, nil
		}
	}
	return false, nil
}

func normalize(actual, expected any, caseInsensitive bool) (string, string) {
	a, e := toString(actual), toString(expected)
	if caseInsensitive {
		return strings.ToLower(a), strings.ToLower(e)
	}
	return a, e
}

// valuesEqual compares numbers by value and everything else by string form.
func valuesEqual(a, b any, caseInsensitive bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if caseInsensitive {
		return strings.EqualFold(toString(a), toString(b))
	}
	af, aErr := toFloat64(a)
	bf, bErr := toFloat64(b)
	if aErr == nil && bErr == nil {
		return af == bf
	}
	return toString(a) == toString(b)
}

// isEmpty treats nil, "", empty collections, false and zero as empty.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case bool:
		return !x
	case float64:
		return x == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to number: %w", x, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert type %T to number", v)
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
