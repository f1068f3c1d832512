package evaluator

import (
	"fmt"
	"regexp"
	"strings"
)

type operatorFunc func(extracted, expected any) (bool, error)

func ordered(pred func(cmp int) bool) operatorFunc {
	return func(extracted, expected any) (bool, error) {
		cmp, err := compareNumbers(extracted, expected)
		if err != nil {
			return false, err
		}
		return pred(cmp), nil
	}
}

var operators = map[string]operatorFunc{
	"eq":       func(x, y any) (bool, error) { return looseEqual(x, y), nil },
	"ne":       func(x, y any) (bool, error) { return !looseEqual(x, y), nil },
	"gt":       ordered(func(c int) bool { return c > 0 }),
	"lt":       ordered(func(c int) bool { return c < 0 }),
	"gte":      ordered(func(c int) bool { return c >= 0 }),
	"lte":      ordered(func(c int) bool { return c <= 0 }),
	"contains": evaluateContains,
	"exists":   func(x, _ any) (bool, error) { return x != nil, nil },
	"regex":    evaluateRegex,
}

// EvaluateOperator applies a named operator to an extracted and an expected value
func EvaluateOperator(operator string, extracted, expected any) (bool, error) {
	fn, ok := operators[strings.ToLower(operator)]
	if !ok {
		return false, fmt.Errorf("unknown operator: %s", operator)
	}
	return fn(extracted, expected)
}

// evaluateContains matches an array element or a substring
func evaluateContains(extracted, expected any) (bool, error) {
	if arr, ok := extracted.([]any); ok {
		for _, item := range arr {
			if looseEqual(item, expected) {
				return true, nil
			}
		}
		return false, nil
	}
	return strings.Contains(toString(extracted), toString(expected)), nil
}

func evaluateRegex(extracted, expected any) (bool, error) {
	pattern := toString(expected)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}
	return re.MatchString(toString(extracted)), nil
}
