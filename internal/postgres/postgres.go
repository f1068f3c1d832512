// Package postgres is the PostgreSQL backend for every store contract and
// for the durable job queues.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dandantas/sentinel/internal/store"
)

// DB is the PostgreSQL store backend
type DB struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Backend = (*DB)(nil)

// Connect opens a pool and verifies it with a ping
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool, now: time.Now}, nil
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close releases the pool
func (db *DB) Close(ctx context.Context) error {
	db.pool.Close()
	return nil
}

// Migrate creates tables and indexes; it is safe to run repeatedly
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS monitors (
			id                TEXT PRIMARY KEY,
			team_id           TEXT NOT NULL,
			name              TEXT NOT NULL,
			check_spec        JSONB NOT NULL,
			token_hash        TEXT NOT NULL DEFAULT '',
			interval_seconds  INTEGER NOT NULL,
			timeout_ms        INTEGER NOT NULL,
			failure_threshold INTEGER NOT NULL,
			enabled           BOOLEAN NOT NULL DEFAULT TRUE,
			next_run_at       BIGINT NOT NULL DEFAULT 0,
			locked_until      BIGINT NOT NULL DEFAULT 0,
			last_heartbeat_at BIGINT NOT NULL DEFAULT 0,
			last_report       JSONB,
			metadata          JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_monitors_due
			ON monitors(next_run_at) WHERE enabled;

		CREATE TABLE IF NOT EXISTS monitor_states (
			monitor_id           TEXT PRIMARY KEY,
			last_checked_at      BIGINT NOT NULL DEFAULT 0,
			last_status          TEXT NOT NULL DEFAULT 'unknown',
			last_latency_ms      BIGINT,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_error           TEXT NOT NULL DEFAULT '',
			status_changed_at    BIGINT NOT NULL DEFAULT 0,
			last_job_id          TEXT NOT NULL DEFAULT '',
			last_job_enqueued_at BIGINT NOT NULL DEFAULT 0,
			last_transition      TEXT NOT NULL DEFAULT '',
			last_alert_id        TEXT NOT NULL DEFAULT '',
			pending_alert        JSONB,
			incident_open        BOOLEAN NOT NULL DEFAULT FALSE,
			open_incident_id     TEXT NOT NULL DEFAULT '',
			version              BIGINT NOT NULL DEFAULT 0,
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		ALTER TABLE monitor_states ADD COLUMN IF NOT EXISTS pending_alert JSONB;

		CREATE TABLE IF NOT EXISTS incidents (
			id             TEXT PRIMARY KEY,
			team_id        TEXT NOT NULL,
			status_page_id TEXT NOT NULL DEFAULT '',
			monitor_id     TEXT NOT NULL,
			title          TEXT NOT NULL,
			status         TEXT NOT NULL,
			started_at     BIGINT NOT NULL,
			resolved_at    BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_incidents_monitor
			ON incidents(monitor_id, started_at DESC);

		CREATE TABLE IF NOT EXISTS incident_updates (
			id          TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL,
			status      TEXT NOT NULL,
			message     TEXT NOT NULL,
			created_at  BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_incident_updates_incident
			ON incident_updates(incident_id, created_at);

		CREATE TABLE IF NOT EXISTS notification_channels (
			id      TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			name    TEXT NOT NULL DEFAULT '',
			type    TEXT NOT NULL,
			config  JSONB NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS notification_policies (
			id                 TEXT PRIMARY KEY,
			team_id            TEXT NOT NULL,
			monitor_id         TEXT NOT NULL,
			channel_id         TEXT NOT NULL,
			threshold_failures INTEGER NOT NULL DEFAULT 0,
			notify_on_recovery BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_policies_monitor ON notification_policies(monitor_id);

		CREATE TABLE IF NOT EXISTS dedupe_keys (
			key        TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_dedupe_keys_created ON dedupe_keys(created_at);

		CREATE TABLE IF NOT EXISTS queue_messages (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL,
			body        BYTEA NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			visible_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_messages_visible
			ON queue_messages(queue, visible_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// notFound maps a pgx miss onto the store sentinel
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
