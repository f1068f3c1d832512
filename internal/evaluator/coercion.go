package evaluator

import (
	"fmt"
	"strconv"
	"strings"
)

// toString renders a JSON value for string operators
func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toNumber converts JSON numbers, Go integers and numeric strings
func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to number", v)
		}
		return num, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

// toBool applies loose truthiness to strings and numbers
func toBool(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "false", "0", "no":
			return false
		}
		return true
	default:
		if n, err := toNumber(v); err == nil {
			return n != 0
		}
		return true
	}
}

// looseEqual compares numerically, then as booleans, then as strings
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	numA, errA := toNumber(a)
	numB, errB := toNumber(b)
	if errA == nil && errB == nil {
		return numA == numB
	}

	if boolA, ok := a.(bool); ok {
		return boolA == toBool(b)
	}
	if boolB, ok := b.(bool); ok {
		return toBool(a) == boolB
	}

	return toString(a) == toString(b)
}

// compareNumbers returns -1, 0 or 1
func compareNumbers(a, b any) (int, error) {
	numA, err := toNumber(a)
	if err != nil {
		return 0, fmt.Errorf("cannot compare: left value - %w", err)
	}
	numB, err := toNumber(b)
	if err != nil {
		return 0, fmt.Errorf("cannot compare: right value - %w", err)
	}

	switch {
	case numA < numB:
		return -1, nil
	case numA > numB:
		return 1, nil
	}
	return 0, nil
}
