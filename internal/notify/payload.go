package notify

import (
	"fmt"
	"time"

	"github.com/dandantas/sentinel/internal/model"
)

// UserAgent is sent on every outbound notification request
const UserAgent = "sentinel-notifier/1.0"

// WebhookPayload is the JSON body posted to generic webhook channels
type WebhookPayload struct {
	AlertID    string `json:"alert_id"`
	Type       string `json:"type"`
	TeamID     string `json:"team_id"`
	MonitorID  string `json:"monitor_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
	TS         string `json:"ts"`
}

// NewWebhookPayload builds the payload for an alert sent at now
func NewWebhookPayload(alert model.AlertJob, now time.Time) WebhookPayload {
	return WebhookPayload{
		AlertID:    alert.AlertID,
		Type:       "monitor",
		TeamID:     alert.TeamID,
		MonitorID:  alert.MonitorID,
		Status:     string(alert.Status),
		Reason:     alert.Reason,
		IncidentID: alert.IncidentID,
		TS:         now.UTC().Format(time.RFC3339),
	}
}

// Subject is the short human title of an alert
func Subject(alert model.AlertJob) string {
	if alert.Status == model.StatusDown {
		return "Service Down"
	}
	return "Service Recovered"
}

func monitorLabel(alert model.AlertJob) string {
	if alert.MonitorName != "" {
		return alert.MonitorName
	}
	return alert.MonitorID
}

// Message renders a one-line human summary of an alert
func Message(alert model.AlertJob) string {
	name := monitorLabel(alert)
	if alert.Status == model.StatusDown {
		if alert.Reason == "" {
			return fmt.Sprintf("%s is down", name)
		}
		return fmt.Sprintf("%s is down: %s", name, alert.Reason)
	}
	return fmt.Sprintf("%s has recovered", name)
}

func statusLabel(s model.Status) string {
	if s == model.StatusDown {
		return "[DOWN]"
	}
	return "[RECOVERED]"
}

func statusColor(s model.Status) string {
	if s == model.StatusDown {
		return "FF4F6A"
	}
	return "2EB67D"
}
