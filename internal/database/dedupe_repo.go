package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dandantas/sentinel/internal/model"
)

// DedupeRepository is a first-writer-wins key set backed by the _id index
type DedupeRepository struct {
	db         *MongoDB
	collection *mongo.Collection
}

// NewDedupeRepository creates a new dedupe repository
func NewDedupeRepository(db *MongoDB) *DedupeRepository {
	return &DedupeRepository{db: db, collection: db.GetCollection(CollectionDedupeKeys)}
}

// Acquire inserts key; false means another writer holds it
func (r *DedupeRepository) Acquire(ctx context.Context, key string) (bool, error) {
	return insertIfAbsent(ctx, r.db, r.collection, model.DedupeEntry{Key: key, CreatedAt: time.Now().UTC()})
}

// Purge removes keys created before cutoff
func (r *DedupeRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := r.collection.DeleteMany(ctxTimeout, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge dedupe keys: %w", err)
	}
	if result.DeletedCount > 0 {
		slog.Info("Purged dedupe keys", "count", result.DeletedCount, "cutoff", cutoff)
	}
	return result.DeletedCount, nil
}
