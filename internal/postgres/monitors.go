package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

// --- Leases ---

// Claim leases a due monitor until leaseUntil
func (db *DB) Claim(ctx context.Context, monitorID string, now, leaseUntil int64) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE monitors SET locked_until = $3
		 WHERE id = $1 AND enabled AND next_run_at <= $2 AND locked_until <= $2`,
		monitorID, now, leaseUntil,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseAndReschedule clears the lease and sets next_run_at iff the lease is still expectedLeaseUntil
func (db *DB) ReleaseAndReschedule(ctx context.Context, monitorID string, expectedLeaseUntil, nextRunAt int64) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE monitors SET next_run_at = $3, locked_until = 0
		 WHERE id = $1 AND locked_until = $2`,
		monitorID, expectedLeaseUntil, nextRunAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForceUnlock clears the lease without rescheduling iff it is still expectedLeaseUntil
func (db *DB) ForceUnlock(ctx context.Context, monitorID string, expectedLeaseUntil int64) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE monitors SET locked_until = 0 WHERE id = $1 AND locked_until = $2`,
		monitorID, expectedLeaseUntil,
	)
	if err != nil {
		return false, fmt.Errorf("failed to force unlock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Monitors ---

const monitorColumns = `id, team_id, name, check_spec, token_hash, interval_seconds, timeout_ms,
	failure_threshold, enabled, next_run_at, locked_until, last_heartbeat_at, last_report, metadata`

func scanMonitor(row interface{ Scan(...interface{}) error }) (*model.Monitor, error) {
	var m model.Monitor
	var checkJSON, reportJSON, metaJSON []byte
	var tokenHash string
	if err := row.Scan(&m.ID, &m.TeamID, &m.Name, &checkJSON, &tokenHash, &m.IntervalSeconds, &m.TimeoutMs,
		&m.FailureThreshold, &m.Enabled, &m.NextRunAt, &m.LockedUntil, &m.LastHeartbeatAt, &reportJSON, &metaJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(checkJSON, &m.Check); err != nil {
		return nil, fmt.Errorf("failed to decode check spec for %s: %w", m.ID, err)
	}
	// token hashes never leave the server as JSON, so they live in a column
	switch {
	case m.Check.Webhook != nil:
		m.Check.Webhook.TokenHash = tokenHash
	case m.Check.Heartbeat != nil:
		m.Check.Heartbeat.TokenHash = tokenHash
	}
	if len(reportJSON) > 0 {
		var r model.Report
		if err := json.Unmarshal(reportJSON, &r); err != nil {
			return nil, fmt.Errorf("failed to decode last report for %s: %w", m.ID, err)
		}
		m.LastReport = &r
	}
	if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", m.ID, err)
	}
	return &m, nil
}

// ListDue returns up to limit due monitors, oldest next_run_at first
func (db *DB) ListDue(ctx context.Context, now int64, limit int) ([]*model.Monitor, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+monitorColumns+` FROM monitors
		 WHERE enabled AND next_run_at <= $1 AND locked_until <= $1
		 ORDER BY next_run_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due monitors: %w", err)
	}
	defer rows.Close()

	monitors := make([]*model.Monitor, 0, limit)
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// GetMonitor retrieves a monitor by id
func (db *DB) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	m, err := scanMonitor(db.pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %s: %w", id, notFound(err))
	}
	return m, nil
}

// UpsertMonitor writes the definition and creates a zeroed state row.
// Lease and push columns keep their values on update.
func (db *DB) UpsertMonitor(ctx context.Context, m *model.Monitor) error {
	checkJSON, err := json.Marshal(m.Check)
	if err != nil {
		return fmt.Errorf("failed to encode check spec: %w", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO monitors (id, team_id, name, check_spec, token_hash, interval_seconds, timeout_ms,
			failure_threshold, enabled, next_run_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   team_id = EXCLUDED.team_id,
		   name = EXCLUDED.name,
		   check_spec = EXCLUDED.check_spec,
		   token_hash = EXCLUDED.token_hash,
		   interval_seconds = EXCLUDED.interval_seconds,
		   timeout_ms = EXCLUDED.timeout_ms,
		   failure_threshold = EXCLUDED.failure_threshold,
		   enabled = EXCLUDED.enabled,
		   metadata = EXCLUDED.metadata`,
		m.ID, m.TeamID, m.Name, checkJSON, m.Check.TokenHash(), m.IntervalSeconds, m.TimeoutMs,
		m.FailureThreshold, m.Enabled, m.NextRunAt, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert monitor: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO monitor_states (monitor_id) VALUES ($1) ON CONFLICT (monitor_id) DO NOTHING`,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to create state: %w", err)
	}
	return tx.Commit(ctx)
}

// DeleteMonitor removes a monitor with its state, policies and incidents
func (db *DB) DeleteMonitor(ctx context.Context, id string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	for _, q := range []string{
		`DELETE FROM monitor_states WHERE monitor_id = $1`,
		`DELETE FROM notification_policies WHERE monitor_id = $1`,
		`DELETE FROM incident_updates WHERE incident_id IN (SELECT id FROM incidents WHERE monitor_id = $1)`,
		`DELETE FROM incidents WHERE monitor_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("failed to cascade delete: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RecordHeartbeat stores the time of the latest heartbeat ping
func (db *DB) RecordHeartbeat(ctx context.Context, id string, at int64) error {
	tag, err := db.pool.Exec(ctx, `UPDATE monitors SET last_heartbeat_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordReport stores the latest pushed webhook report
func (db *DB) RecordReport(ctx context.Context, id string, report model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	tag, err := db.pool.Exec(ctx, `UPDATE monitors SET last_report = $2 WHERE id = $1`, id, reportJSON)
	if err != nil {
		return fmt.Errorf("failed to record report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
