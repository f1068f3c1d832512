// Package evaluator runs JSONPath assertions against probe response bodies.
package evaluator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/oliveagle/jsonpath"
)

// Extract parses body as JSON and looks up a JSONPath expression in it
func Extract(body []byte, expression string) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return lookup(doc, expression)
}

func lookup(doc any, expression string) (any, error) {
	pattern, err := jsonpath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", expression, err)
	}
	v, err := pattern.Lookup(doc)
	if err != nil {
		return nil, fmt.Errorf("JSONPath expression '%s' returned no results: %w", expression, err)
	}
	return v, nil
}

// Evaluate runs every assertion against body. The returned reason is empty
// when all assertions pass, otherwise it names the first failure.
func Evaluate(assertions []model.Assertion, body []byte) ([]model.AssertionResult, string) {
	if len(assertions) == 0 {
		return nil, ""
	}

	results := make([]model.AssertionResult, 0, len(assertions))

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		for _, a := range assertions {
			results = append(results, model.AssertionResult{
				Name:          a.Name,
				Expression:    a.Expression,
				Operator:      a.Operator,
				ExpectedValue: a.ExpectedValue,
				Error:         "response is not JSON",
			})
		}
		return results, "Assertion failed: response is not JSON"
	}

	reason := ""
	for _, a := range assertions {
		r := evaluateOne(a, doc)
		results = append(results, r)
		if !r.Passed && reason == "" {
			reason = failureReason(r)
		}
	}
	return results, reason
}

func evaluateOne(a model.Assertion, doc any) model.AssertionResult {
	r := model.AssertionResult{
		Name:          a.Name,
		Expression:    a.Expression,
		Operator:      a.Operator,
		ExpectedValue: a.ExpectedValue,
	}

	v, err := lookup(doc, a.Expression)
	if err != nil {
		// a missing path is a plain miss for "exists"
		if strings.EqualFold(a.Operator, "exists") {
			return r
		}
		r.Error = err.Error()
		return r
	}
	r.ExtractedValue = v

	passed, err := EvaluateOperator(a.Operator, v, a.ExpectedValue)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Passed = passed

	slog.Debug("Assertion evaluated",
		"assertion", a.Name,
		"expression", a.Expression,
		"operator", a.Operator,
		"passed", passed,
	)
	return r
}

func failureReason(r model.AssertionResult) string {
	if r.Error != "" {
		return fmt.Sprintf("Assertion %q failed: %s", r.Name, r.Error)
	}
	return fmt.Sprintf("Assertion %q failed: %s %s %s", r.Name, toString(r.ExtractedValue), r.Operator, toString(r.ExpectedValue))
}
