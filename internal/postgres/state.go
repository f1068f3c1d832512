package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dandantas/sentinel/internal/model"
)

// GetState retrieves the state for a monitor
func (db *DB) GetState(ctx context.Context, monitorID string) (*model.MonitorState, error) {
	var s model.MonitorState
	var lastStatus, lastTransition string
	var pendingJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT monitor_id, last_checked_at, last_status, last_latency_ms, consecutive_failures, last_error,
			status_changed_at, last_job_id, last_job_enqueued_at, last_transition, last_alert_id, pending_alert,
			incident_open, open_incident_id, version, updated_at
		 FROM monitor_states WHERE monitor_id = $1`, monitorID,
	).Scan(&s.MonitorID, &s.LastCheckedAt, &lastStatus, &s.LastLatencyMs, &s.ConsecutiveFailures, &s.LastError,
		&s.StatusChangedAt, &s.LastJobID, &s.LastJobEnqueuedAt, &lastTransition, &s.LastAlertID, &pendingJSON,
		&s.IncidentOpen, &s.OpenIncidentID, &s.Version, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", monitorID, notFound(err))
	}
	s.LastStatus = model.Status(lastStatus)
	s.LastTransition = model.Status(lastTransition)
	if len(pendingJSON) > 0 {
		var a model.AlertJob
		if err := json.Unmarshal(pendingJSON, &a); err != nil {
			return nil, fmt.Errorf("failed to decode pending alert for %s: %w", monitorID, err)
		}
		s.PendingAlert = &a
	}
	return &s, nil
}

// SaveState writes the health columns iff version == expectedVersion.
// Version 0 also inserts a missing row; a concurrent insert loses on the key.
func (db *DB) SaveState(ctx context.Context, s *model.MonitorState, expectedVersion int64) (bool, error) {
	var pendingJSON []byte
	if s.PendingAlert != nil {
		var err error
		if pendingJSON, err = json.Marshal(s.PendingAlert); err != nil {
			return false, fmt.Errorf("failed to encode pending alert: %w", err)
		}
	}
	args := []interface{}{
		s.MonitorID, s.LastCheckedAt, string(s.LastStatus), s.LastLatencyMs, s.ConsecutiveFailures, s.LastError,
		s.StatusChangedAt, s.LastJobID, s.LastJobEnqueuedAt, string(s.LastTransition), s.LastAlertID,
		expectedVersion, db.now().UTC(), pendingJSON,
	}

	var sql string
	if expectedVersion == 0 {
		sql = `INSERT INTO monitor_states (monitor_id, last_checked_at, last_status, last_latency_ms,
				consecutive_failures, last_error, status_changed_at, last_job_id, last_job_enqueued_at,
				last_transition, last_alert_id, version, updated_at, pending_alert)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12 + 1, $13, $14)
			 ON CONFLICT (monitor_id) DO UPDATE SET
			   last_checked_at = EXCLUDED.last_checked_at,
			   last_status = EXCLUDED.last_status,
			   last_latency_ms = EXCLUDED.last_latency_ms,
			   consecutive_failures = EXCLUDED.consecutive_failures,
			   last_error = EXCLUDED.last_error,
			   status_changed_at = EXCLUDED.status_changed_at,
			   last_job_id = EXCLUDED.last_job_id,
			   last_job_enqueued_at = EXCLUDED.last_job_enqueued_at,
			   last_transition = EXCLUDED.last_transition,
			   last_alert_id = EXCLUDED.last_alert_id,
			   pending_alert = EXCLUDED.pending_alert,
			   version = EXCLUDED.version,
			   updated_at = EXCLUDED.updated_at
			 WHERE monitor_states.version = $12`
	} else {
		sql = `UPDATE monitor_states SET
			   last_checked_at = $2, last_status = $3, last_latency_ms = $4, consecutive_failures = $5,
			   last_error = $6, status_changed_at = $7, last_job_id = $8, last_job_enqueued_at = $9,
			   last_transition = $10, last_alert_id = $11, version = $12 + 1, updated_at = $13,
			   pending_alert = $14
			 WHERE monitor_id = $1 AND version = $12`
	}

	tag, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("failed to save state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkIncidentOpen sets the open incident iff none or the same one is open
func (db *DB) MarkIncidentOpen(ctx context.Context, monitorID, incidentID string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE monitor_states SET incident_open = TRUE, open_incident_id = $2
		 WHERE monitor_id = $1 AND (NOT incident_open OR open_incident_id = $2)`,
		monitorID, incidentID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident open: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkIncidentClosed clears the open incident iff it is incidentID
func (db *DB) MarkIncidentClosed(ctx context.Context, monitorID, incidentID string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE monitor_states SET incident_open = FALSE, open_incident_id = ''
		 WHERE monitor_id = $1 AND incident_open AND open_incident_id = $2`,
		monitorID, incidentID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident closed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
