package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CheckKind names the probe variant a monitor runs
type CheckKind string

const (
	KindHTTP      CheckKind = "http"
	KindWebhook   CheckKind = "webhook"
	KindHeartbeat CheckKind = "heartbeat"
	KindExternal  CheckKind = "external"
)

// HTTPCheck probes a URL and passes on a 2xx response that satisfies every assertion
type HTTPCheck struct {
	URL        string            `json:"url" bson:"url" yaml:"url"`
	Method     string            `json:"method" bson:"method" yaml:"method"`
	Headers    map[string]string `json:"headers,omitempty" bson:"headers,omitempty" yaml:"headers,omitempty"`
	Body       string            `json:"body,omitempty" bson:"body,omitempty" yaml:"body,omitempty"`
	Auth       Auth              `json:"auth,omitempty" bson:"auth,omitempty" yaml:"auth,omitempty"`
	Assertions []Assertion       `json:"assertions,omitempty" bson:"assertions,omitempty" yaml:"assertions,omitempty"`
}

// WebhookCheck is driven by status reports pushed to the ingest endpoint.
// ReportTTLSeconds > 0 turns a missing report into a failure.
type WebhookCheck struct {
	TokenHash        string `json:"-" bson:"token_hash" yaml:"-"`
	ReportTTLSeconds int    `json:"report_ttl_seconds,omitempty" bson:"report_ttl_seconds,omitempty" yaml:"report_ttl_seconds,omitempty"`
}

// HeartbeatCheck fails when no ping arrives within interval + grace
type HeartbeatCheck struct {
	TokenHash    string `json:"-" bson:"token_hash" yaml:"-"`
	GraceSeconds int    `json:"grace_seconds,omitempty" bson:"grace_seconds,omitempty" yaml:"grace_seconds,omitempty"`
}

// ExternalCheck watches a third-party status page
type ExternalCheck struct {
	ServiceType string `json:"service_type" bson:"service_type" yaml:"service_type"` // "statuspage", "cloudflare-*", or "http"
	StatusURL   string `json:"status_url,omitempty" bson:"status_url,omitempty" yaml:"status_url,omitempty"`
}

// CheckSpec is a closed variant: exactly one payload must be set.
type CheckSpec struct {
	HTTP      *HTTPCheck      `json:"http,omitempty" bson:"http,omitempty" yaml:"http,omitempty"`
	Webhook   *WebhookCheck   `json:"webhook,omitempty" bson:"webhook,omitempty" yaml:"webhook,omitempty"`
	Heartbeat *HeartbeatCheck `json:"heartbeat,omitempty" bson:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
	External  *ExternalCheck  `json:"external,omitempty" bson:"external,omitempty" yaml:"external,omitempty"`
}

// Kind reports which variant is set, or "" when none or several are
func (c CheckSpec) Kind() CheckKind {
	var kind CheckKind
	n := 0
	if c.HTTP != nil {
		kind, n = KindHTTP, n+1
	}
	if c.Webhook != nil {
		kind, n = KindWebhook, n+1
	}
	if c.Heartbeat != nil {
		kind, n = KindHeartbeat, n+1
	}
	if c.External != nil {
		kind, n = KindExternal, n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// TokenHash returns the ingest token hash for push-based kinds
func (c CheckSpec) TokenHash() string {
	switch {
	case c.Webhook != nil:
		return c.Webhook.TokenHash
	case c.Heartbeat != nil:
		return c.Heartbeat.TokenHash
	}
	return ""
}

// Validate validates the variant payload
func (c *CheckSpec) Validate() error {
	switch c.Kind() {
	case KindHTTP:
		if err := validateHTTPURL(c.HTTP.URL, "target URL"); err != nil {
			return err
		}
		if c.HTTP.Method == "" {
			c.HTTP.Method = "GET"
		}
		c.HTTP.Method = strings.ToUpper(c.HTTP.Method)
		validMethods := map[string]bool{
			"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
		}
		if !validMethods[c.HTTP.Method] {
			return fmt.Errorf("invalid HTTP method: %s", c.HTTP.Method)
		}
		if err := c.HTTP.Auth.Validate(); err != nil {
			return fmt.Errorf("auth validation failed: %w", err)
		}
		for i := range c.HTTP.Assertions {
			if err := c.HTTP.Assertions[i].Validate(); err != nil {
				return fmt.Errorf("assertion %q validation failed: %w", c.HTTP.Assertions[i].Name, err)
			}
		}
	case KindExternal:
		st := c.External.ServiceType
		if st == "" || st == "http" {
			if err := validateHTTPURL(c.External.StatusURL, "status URL"); err != nil {
				return err
			}
		}
	case KindWebhook:
		if c.Webhook.TokenHash == "" {
			return errors.New("webhook monitor requires a token")
		}
	case KindHeartbeat:
		if c.Heartbeat.TokenHash == "" {
			return errors.New("heartbeat monitor requires a token")
		}
		if c.Heartbeat.GraceSeconds < 0 {
			return errors.New("grace_seconds must not be negative")
		}
	default:
		return errors.New("exactly one check kind must be configured")
	}
	return nil
}

// ReportedStatus is the status a webhook monitor pushes
type ReportedStatus string

const (
	ReportedUp       ReportedStatus = "up"
	ReportedDown     ReportedStatus = "down"
	ReportedDegraded ReportedStatus = "degraded"
)

// ParseReportedStatus accepts the three statuses a webhook may push
func ParseReportedStatus(s string) (ReportedStatus, bool) {
	switch ReportedStatus(strings.ToLower(s)) {
	case ReportedUp:
		return ReportedUp, true
	case ReportedDown:
		return ReportedDown, true
	case ReportedDegraded:
		return ReportedDegraded, true
	}
	return "", false
}

// Report is the latest status pushed to a webhook monitor
type Report struct {
	Status ReportedStatus `json:"status" bson:"status"`
	Reason string         `json:"reason,omitempty" bson:"reason,omitempty"`
	At     int64          `json:"at" bson:"at"` // epoch seconds
}

// Monitor is a tenant-owned probe definition plus its scheduling lease
type Monitor struct {
	ID               string    `json:"id" bson:"_id"`
	TeamID           string    `json:"team_id" bson:"team_id"`
	Name             string    `json:"name" bson:"name"`
	Check            CheckSpec `json:"check" bson:"check"`
	IntervalSeconds  int       `json:"interval_seconds" bson:"interval_seconds"`
	TimeoutMs        int       `json:"timeout_ms" bson:"timeout_ms"`
	FailureThreshold int       `json:"failure_threshold" bson:"failure_threshold"`
	Enabled          bool      `json:"enabled" bson:"enabled"`

	// Lease fields, epoch seconds
	NextRunAt   int64 `json:"next_run_at" bson:"next_run_at"`
	LockedUntil int64 `json:"locked_until" bson:"locked_until"`

	// Push-kind signals written by the ingest endpoints
	LastHeartbeatAt int64   `json:"last_heartbeat_at,omitempty" bson:"last_heartbeat_at,omitempty"`
	LastReport      *Report `json:"last_report,omitempty" bson:"last_report,omitempty"`

	Metadata Metadata `json:"metadata" bson:"metadata"`
}

// Kind returns the monitor's check kind
func (m *Monitor) Kind() CheckKind {
	return m.Check.Kind()
}

// IsDue reports whether the monitor may be claimed at now (epoch seconds)
func (m *Monitor) IsDue(now int64) bool {
	return m.Enabled && m.NextRunAt <= now && m.LockedUntil <= now
}

// Validate validates the monitor definition and fills defaults
func (m *Monitor) Validate() error {
	if m.ID == "" {
		return errors.New("monitor id is required")
	}
	if m.TeamID == "" {
		return errors.New("team id is required")
	}
	if m.Name == "" {
		return errors.New("monitor name is required")
	}
	if len(m.Name) > 255 {
		return errors.New("monitor name must be 255 characters or less")
	}
	if err := m.Check.Validate(); err != nil {
		return err
	}

	m.IntervalSeconds = ClampInterval(m.IntervalSeconds)
	m.TimeoutMs = ClampTimeoutMs(m.TimeoutMs)
	m.FailureThreshold = ClampThreshold(m.FailureThreshold)

	now := time.Now().UTC()
	if m.Metadata.CreatedAt.IsZero() {
		m.Metadata.CreatedAt = now
	}
	if m.Metadata.UpdatedAt.IsZero() {
		m.Metadata.UpdatedAt = now
	}

	return nil
}

// HashToken hashes an ingest token for storage and comparison
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
