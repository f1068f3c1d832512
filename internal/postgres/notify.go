package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dandantas/sentinel/internal/model"
)

// --- Notification policies ---

// ListPolicies returns the notification policies bound to a monitor
func (db *DB) ListPolicies(ctx context.Context, monitorID string) ([]model.NotificationPolicy, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, team_id, monitor_id, channel_id, threshold_failures, notify_on_recovery
		 FROM notification_policies WHERE monitor_id = $1 ORDER BY id`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	policies := make([]model.NotificationPolicy, 0)
	for rows.Next() {
		var p model.NotificationPolicy
		if err := rows.Scan(&p.ID, &p.TeamID, &p.MonitorID, &p.ChannelID, &p.ThresholdFailures, &p.NotifyOnRecovery); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpsertPolicy creates or replaces a notification policy
func (db *DB) UpsertPolicy(ctx context.Context, p *model.NotificationPolicy) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO notification_policies (id, team_id, monitor_id, channel_id, threshold_failures, notify_on_recovery)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   team_id = EXCLUDED.team_id,
		   monitor_id = EXCLUDED.monitor_id,
		   channel_id = EXCLUDED.channel_id,
		   threshold_failures = EXCLUDED.threshold_failures,
		   notify_on_recovery = EXCLUDED.notify_on_recovery`,
		p.ID, p.TeamID, p.MonitorID, p.ChannelID, p.ThresholdFailures, p.NotifyOnRecovery,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}
	return nil
}

// --- Channels ---

// GetChannel retrieves a notification channel by id
func (db *DB) GetChannel(ctx context.Context, id string) (*model.NotificationChannel, error) {
	var c model.NotificationChannel
	var channelType string
	var cfgJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, team_id, name, type, config, enabled FROM notification_channels WHERE id = $1`, id,
	).Scan(&c.ID, &c.TeamID, &c.Name, &channelType, &cfgJSON, &c.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", id, notFound(err))
	}
	c.Type = model.ChannelType(channelType)
	if err := json.Unmarshal(cfgJSON, &c.Config); err != nil {
		return nil, fmt.Errorf("failed to decode channel config for %s: %w", id, err)
	}
	return &c, nil
}

// UpsertChannel creates or replaces a notification channel
func (db *DB) UpsertChannel(ctx context.Context, c *model.NotificationChannel) error {
	cfgJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("failed to encode channel config: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO notification_channels (id, team_id, name, type, config, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   team_id = EXCLUDED.team_id,
		   name = EXCLUDED.name,
		   type = EXCLUDED.type,
		   config = EXCLUDED.config,
		   enabled = EXCLUDED.enabled`,
		c.ID, c.TeamID, c.Name, string(c.Type), cfgJSON, c.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

// --- Dedupe ---

// Acquire inserts key; a unique violation means another writer holds it
func (db *DB) Acquire(ctx context.Context, key string) (bool, error) {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO dedupe_keys (key, created_at) VALUES ($1, $2)`,
		key, db.now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire dedupe key: %w", err)
	}
	return true, nil
}

// Purge deletes dedupe keys created before cutoff
func (db *DB) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM dedupe_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dedupe keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
