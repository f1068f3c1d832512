package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	specs := map[string][]mongo.IndexModel{
		CollectionMonitors: {
			{
				Keys: bson.D{
					{Key: "enabled", Value: 1},
					{Key: "next_run_at", Value: 1},
					{Key: "locked_until", Value: 1},
				},
				Options: options.Index().SetName("idx_enabled_next_run_locked"),
			},
			{
				Keys:    bson.D{{Key: "team_id", Value: 1}},
				Options: options.Index().SetName("idx_team_id"),
			},
		},
		CollectionIncidents: {
			{
				Keys: bson.D{
					{Key: "monitor_id", Value: 1},
					{Key: "started_at", Value: -1},
				},
				Options: options.Index().SetName("idx_monitor_id_started_at"),
			},
			{
				Keys: bson.D{
					{Key: "status", Value: 1},
					{Key: "started_at", Value: -1},
				},
				Options: options.Index().SetName("idx_status_started_at"),
			},
		},
		CollectionIncidentUpdates: {
			{
				Keys: bson.D{
					{Key: "incident_id", Value: 1},
					{Key: "created_at", Value: 1},
				},
				Options: options.Index().SetName("idx_incident_id_created_at"),
			},
		},
		CollectionPolicies: {
			{
				Keys:    bson.D{{Key: "monitor_id", Value: 1}},
				Options: options.Index().SetName("idx_monitor_id"),
			},
		},
		CollectionDedupeKeys: {
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}},
				Options: options.Index().SetName("idx_created_at"),
			},
		},
		CollectionQueueMessages: {
			{
				Keys: bson.D{
					{Key: "queue", Value: 1},
					{Key: "visible_at", Value: 1},
				},
				Options: options.Index().SetName("idx_queue_visible_at"),
			},
		},
	}

	for name, indexes := range specs {
		if err := createIndexes(ctx, db, name, indexes); err != nil {
			return err
		}
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createIndexes(ctx context.Context, db *MongoDB, name string, indexes []mongo.IndexModel) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := db.GetCollection(name).Indexes().CreateMany(ctxTimeout, indexes); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", name, err)
	}

	slog.Info("Created indexes", "collection", name, "count", len(indexes))
	return nil
}
