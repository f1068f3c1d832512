package model

import "time"

// Status is a monitor's observable health
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

// MonitorState is the health state machine's per-monitor record.
// IncidentOpen and OpenIncidentID are owned by the incident correlator;
// every other field is owned by the health state machine.
type MonitorState struct {
	MonitorID           string `json:"monitor_id" bson:"_id"`
	LastCheckedAt       int64  `json:"last_checked_at" bson:"last_checked_at"`
	LastStatus          Status `json:"last_status" bson:"last_status"`
	LastLatencyMs       *int64 `json:"last_latency_ms,omitempty" bson:"last_latency_ms,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures" bson:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty" bson:"last_error,omitempty"`
	StatusChangedAt     int64  `json:"status_changed_at" bson:"status_changed_at"`

	// LastJobID makes a redelivered CheckJob a replay
	LastJobID         string `json:"last_job_id,omitempty" bson:"last_job_id,omitempty"`
	LastJobEnqueuedAt int64  `json:"last_job_enqueued_at,omitempty" bson:"last_job_enqueued_at,omitempty"`
	LastTransition    Status `json:"last_transition,omitempty" bson:"last_transition,omitempty"`
	LastAlertID       string `json:"last_alert_id,omitempty" bson:"last_alert_id,omitempty"`

	// PendingAlert is a transition's alert that is saved but not yet
	// published. Every later write flushes it first.
	PendingAlert *AlertJob `json:"pending_alert,omitempty" bson:"pending_alert,omitempty"`

	IncidentOpen   bool   `json:"incident_open" bson:"incident_open"`
	OpenIncidentID string `json:"open_incident_id,omitempty" bson:"open_incident_id,omitempty"`

	Version   int64     `json:"version" bson:"version"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewMonitorState returns the zeroed state created alongside a monitor
func NewMonitorState(monitorID string) *MonitorState {
	return &MonitorState{
		MonitorID:  monitorID,
		LastStatus: StatusUnknown,
		UpdatedAt:  time.Now().UTC(),
	}
}
