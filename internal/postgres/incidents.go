package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

// CreateIncident inserts inc unless its id exists; false means it already did
func (db *DB) CreateIncident(ctx context.Context, inc *model.Incident) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO incidents (id, team_id, status_page_id, monitor_id, title, status, started_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		inc.ID, inc.TeamID, inc.StatusPageID, inc.MonitorID, inc.Title, string(inc.Status), inc.StartedAt, inc.ResolvedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create incident: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const incidentColumns = `id, team_id, status_page_id, monitor_id, title, status, started_at, resolved_at`

func scanIncident(row interface{ Scan(...interface{}) error }) (model.Incident, error) {
	var inc model.Incident
	var status string
	err := row.Scan(&inc.ID, &inc.TeamID, &inc.StatusPageID, &inc.MonitorID, &inc.Title, &status, &inc.StartedAt, &inc.ResolvedAt)
	inc.Status = model.IncidentStatus(status)
	return inc, err
}

// GetIncident retrieves an incident by id
func (db *DB) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	inc, err := scanIncident(db.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %s: %w", id, notFound(err))
	}
	return &inc, nil
}

// ResolveIncident resolves an open incident; false if it was not open
func (db *DB) ResolveIncident(ctx context.Context, id string, resolvedAt int64) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE incidents SET status = $2, resolved_at = GREATEST($3, started_at)
		 WHERE id = $1 AND status = $4`,
		id, string(model.IncidentResolved), resolvedAt, string(model.IncidentOpen),
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve incident: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendUpdate inserts u unless its id exists
func (db *DB) AppendUpdate(ctx context.Context, u *model.IncidentUpdate) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO incident_updates (id, incident_id, status, message, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.IncidentID, string(u.Status), u.Message, u.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append incident update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUpdates returns an incident's updates, oldest first
func (db *DB) ListUpdates(ctx context.Context, incidentID string) ([]model.IncidentUpdate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, incident_id, status, message, created_at
		 FROM incident_updates WHERE incident_id = $1 ORDER BY created_at ASC, id ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incident updates: %w", err)
	}
	defer rows.Close()

	updates := make([]model.IncidentUpdate, 0)
	for rows.Next() {
		var u model.IncidentUpdate
		var status string
		if err := rows.Scan(&u.ID, &u.IncidentID, &status, &u.Message, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Status = model.IncidentStatus(status)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// ListIncidents returns incidents matching f, newest first
func (db *DB) ListIncidents(ctx context.Context, f store.IncidentFilter) ([]model.Incident, error) {
	where := ""
	args := []interface{}{}
	argN := 1

	if f.MonitorID != "" {
		where += fmt.Sprintf(" AND monitor_id = $%d", argN)
		args = append(args, f.MonitorID)
		argN++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(f.Status))
		argN++
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sql := fmt.Sprintf(`SELECT `+incidentColumns+` FROM incidents WHERE 1=1%s ORDER BY started_at DESC LIMIT $%d`, where, argN)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Incident, error) {
		return scanIncident(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan incidents: %w", err)
	}
	if incidents == nil {
		incidents = make([]model.Incident, 0)
	}
	return incidents, nil
}
