package model

import (
	"errors"
	"fmt"
	"time"
)

// AlertJob is emitted by the health state machine on a real transition
type AlertJob struct {
	AlertID             string `json:"alert_id" bson:"alert_id"`
	TeamID              string `json:"team_id" bson:"team_id"`
	MonitorID           string `json:"monitor_id" bson:"monitor_id"`
	MonitorName         string `json:"monitor_name,omitempty" bson:"monitor_name,omitempty"`
	Status              Status `json:"status" bson:"status"` // up or down
	Reason              string `json:"reason,omitempty" bson:"reason,omitempty"`
	IncidentID          string `json:"incident_id,omitempty" bson:"incident_id,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures" bson:"consecutive_failures"`
	FailureThreshold    int    `json:"failure_threshold" bson:"failure_threshold"`
	OccurredAt          int64  `json:"occurred_at" bson:"occurred_at"`
}

// ChannelType names a delivery integration
type ChannelType string

const (
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
	ChannelEmail   ChannelType = "email"
)

// ChannelConfig holds the per-type delivery settings
type ChannelConfig struct {
	URL     string            `json:"url,omitempty" bson:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty" yaml:"headers,omitempty"`
	To      []string          `json:"to,omitempty" bson:"to,omitempty" yaml:"to,omitempty"`
}

// NotificationChannel is a team's configured delivery target
type NotificationChannel struct {
	ID      string        `json:"id" bson:"_id" yaml:"id"`
	TeamID  string        `json:"team_id" bson:"team_id" yaml:"team_id"`
	Name    string        `json:"name" bson:"name" yaml:"name"`
	Type    ChannelType   `json:"type" bson:"type" yaml:"type"`
	Config  ChannelConfig `json:"config" bson:"config" yaml:"config"`
	Enabled bool          `json:"enabled" bson:"enabled" yaml:"enabled"`
}

// Validate validates the channel configuration
func (c *NotificationChannel) Validate() error {
	if c.ID == "" || c.TeamID == "" {
		return errors.New("channel id and team id are required")
	}
	switch c.Type {
	case ChannelWebhook, ChannelSlack, ChannelTeams:
		if err := validateHTTPURL(c.Config.URL, "channel URL"); err != nil {
			return err
		}
	case ChannelEmail:
		if len(c.Config.To) == 0 {
			return errors.New("email channel requires at least one recipient")
		}
	default:
		return fmt.Errorf("invalid channel type: %s", c.Type)
	}
	return nil
}

// NotificationPolicy binds a monitor to a channel
type NotificationPolicy struct {
	ID                string `json:"id" bson:"_id" yaml:"id"`
	TeamID            string `json:"team_id" bson:"team_id" yaml:"team_id"`
	MonitorID         string `json:"monitor_id" bson:"monitor_id" yaml:"monitor_id"`
	ChannelID         string `json:"channel_id" bson:"channel_id" yaml:"channel_id"`
	ThresholdFailures int    `json:"threshold_failures" bson:"threshold_failures" yaml:"threshold_failures"` // 0 inherits the monitor's
	NotifyOnRecovery  bool   `json:"notify_on_recovery" bson:"notify_on_recovery" yaml:"notify_on_recovery"`
}

// EffectiveThreshold resolves the policy threshold against the monitor's
func (p *NotificationPolicy) EffectiveThreshold(monitorThreshold int) int {
	if p.ThresholdFailures > 0 {
		return p.ThresholdFailures
	}
	return ClampThreshold(monitorThreshold)
}

// Notification is what a channel receives for one (policy, alert) pair
type Notification struct {
	Alert   AlertJob
	Policy  NotificationPolicy
	Channel NotificationChannel
}

// DeliveryAttempt records the one delivery a channel makes per notification
type DeliveryAttempt struct {
	Timestamp     time.Time `json:"timestamp"`
	StatusCode    int       `json:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
}

// DedupeEntry is a first-writer-wins idempotency marker
type DedupeEntry struct {
	Key       string    `json:"key" bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// DedupeKey derives the idempotency key for an alert and policy pair
func DedupeKey(alertID, policyID string) string {
	return "alert:" + alertID + ":policy:" + policyID
}
