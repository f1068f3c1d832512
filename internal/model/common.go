package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Bounds applied to tenant-supplied probe settings
const (
	MinTimeoutMs        = 1000
	MaxTimeoutMs        = 30000
	DefaultTimeoutMs    = 8000
	MinThreshold        = 1
	MaxThreshold        = 10
	DefaultThreshold    = 3
	MinIntervalSeconds  = 30
	MaxIntervalSeconds  = 3600
	DefaultIntervalSecs = 60
)

// ClampTimeoutMs bounds a probe timeout, substituting the default for zero
func ClampTimeoutMs(ms int) int {
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return clamp(ms, MinTimeoutMs, MaxTimeoutMs)
}

// ClampThreshold bounds a failure threshold, substituting the default for zero
func ClampThreshold(n int) int {
	if n <= 0 {
		n = DefaultThreshold
	}
	return clamp(n, MinThreshold, MaxThreshold)
}

// ClampInterval bounds a check interval, substituting the default for zero
func ClampInterval(seconds int) int {
	if seconds <= 0 {
		seconds = DefaultIntervalSecs
	}
	return clamp(seconds, MinIntervalSeconds, MaxIntervalSeconds)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Auth represents authentication configuration for HTTP probes
type Auth struct {
	Type     string `json:"type" bson:"type" yaml:"type"`                                         // "basic" | "bearer" | "none"
	Username string `json:"username,omitempty" bson:"username,omitempty" yaml:"username,omitempty"` // For basic auth
	Password string `json:"password,omitempty" bson:"password,omitempty" yaml:"password,omitempty"` // For basic auth
	Token    string `json:"token,omitempty" bson:"token,omitempty" yaml:"token,omitempty"`          // For bearer token
}

// Validate validates auth configuration
func (a *Auth) Validate() error {
	switch strings.ToLower(a.Type) {
	case "basic":
		if a.Username == "" || a.Password == "" {
			return errors.New("username and password required for basic auth")
		}
	case "bearer":
		if a.Token == "" {
			return errors.New("token required for bearer auth")
		}
	case "none", "":
		// No validation needed
	default:
		return fmt.Errorf("invalid auth type: %s (must be 'basic', 'bearer', or 'none')", a.Type)
	}
	return nil
}

// Assertion is a JSONPath check applied to an HTTP response body
type Assertion struct {
	Name          string      `json:"name" bson:"name" yaml:"name"`
	Expression    string      `json:"expression" bson:"expression" yaml:"expression"`             // JSONPath expression
	Operator      string      `json:"operator" bson:"operator" yaml:"operator"`                   // eq, ne, gt, lt, gte, lte, contains, exists, regex
	ExpectedValue interface{} `json:"expected_value" bson:"expected_value" yaml:"expected_value"` // Expected value
}

// Validate validates assertion configuration
func (a *Assertion) Validate() error {
	if a.Name == "" {
		return errors.New("assertion name is required")
	}
	if a.Expression == "" {
		return errors.New("assertion expression is required")
	}

	validOperators := map[string]bool{
		"eq": true, "ne": true, "gt": true, "lt": true,
		"gte": true, "lte": true, "contains": true, "exists": true, "regex": true,
	}
	if !validOperators[strings.ToLower(a.Operator)] {
		return fmt.Errorf("invalid operator: %s", a.Operator)
	}
	a.Operator = strings.ToLower(a.Operator)

	return nil
}

// AssertionResult is the outcome of evaluating one Assertion
type AssertionResult struct {
	Name           string      `json:"name"`
	Expression     string      `json:"expression"`
	ExtractedValue interface{} `json:"extracted_value"`
	ExpectedValue  interface{} `json:"expected_value"`
	Operator       string      `json:"operator"`
	Passed         bool        `json:"passed"`
	Error          string      `json:"error,omitempty"`
}

// validateHTTPURL checks that raw is an absolute http(s) URL
func validateHTTPURL(raw, field string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s must start with http:// or https://", field)
	}
	return nil
}

// Metadata represents common metadata fields
type Metadata struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" yaml:"-"`
	CreatedBy string    `json:"created_by,omitempty" bson:"created_by,omitempty" yaml:"created_by,omitempty"`
	Tags      []string  `json:"tags,omitempty" bson:"tags,omitempty" yaml:"tags,omitempty"`
}
