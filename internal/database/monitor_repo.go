package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

// MonitorRepository handles monitor definitions and push signals
type MonitorRepository struct {
	db         *MongoDB
	collection *mongo.Collection
}

// NewMonitorRepository creates a new monitor repository
func NewMonitorRepository(db *MongoDB) *MonitorRepository {
	return &MonitorRepository{db: db, collection: db.GetCollection(CollectionMonitors)}
}

// ListDue returns up to limit claimable monitors, oldest due first
func (r *MonitorRepository) ListDue(ctx context.Context, now int64, limit int) ([]*model.Monitor, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"enabled":      true,
		"next_run_at":  bson.M{"$lte": now},
		"locked_until": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "next_run_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find due monitors: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	monitors := make([]*model.Monitor, 0, limit)
	if err := cursor.All(ctxTimeout, &monitors); err != nil {
		return nil, fmt.Errorf("failed to decode due monitors: %w", err)
	}
	return monitors, nil
}

// GetMonitor retrieves a monitor by ID
func (r *MonitorRepository) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var m model.Monitor
	if err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to get monitor %s: %w", id, notFound(err))
	}
	return &m, nil
}

// upsertMonitor writes the definition, leaving lease and push fields alone
func (r *MonitorRepository) upsertMonitor(ctx context.Context, m *model.Monitor) error {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"team_id":             m.TeamID,
			"name":                m.Name,
			"check":               m.Check,
			"interval_seconds":    m.IntervalSeconds,
			"timeout_ms":          m.TimeoutMs,
			"failure_threshold":   m.FailureThreshold,
			"enabled":             m.Enabled,
			"metadata.updated_at": time.Now().UTC(),
			"metadata.created_by": m.Metadata.CreatedBy,
			"metadata.tags":       m.Metadata.Tags,
		},
		"$setOnInsert": bson.M{
			"next_run_at":         m.NextRunAt,
			"locked_until":        int64(0),
			"metadata.created_at": m.Metadata.CreatedAt,
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": m.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert monitor: %w", err)
	}
	return nil
}

// RecordHeartbeat stamps the latest heartbeat ping
func (r *MonitorRepository) RecordHeartbeat(ctx context.Context, id string, at int64) error {
	return r.setField(ctx, id, "last_heartbeat_at", at)
}

// RecordReport stores the latest pushed status report
func (r *MonitorRepository) RecordReport(ctx context.Context, id string, report model.Report) error {
	return r.setField(ctx, id, "last_report", report)
}

func (r *MonitorRepository) setField(ctx context.Context, id, field string, value interface{}) error {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	result, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", field, err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
