package database

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// LeaseRepository claims and releases monitor leases with conditional
// single-document updates on the monitors collection.
type LeaseRepository struct {
	db         *MongoDB
	collection *mongo.Collection
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(db *MongoDB) *LeaseRepository {
	return &LeaseRepository{db: db, collection: db.GetCollection(CollectionMonitors)}
}

// Claim takes the lease iff the monitor is enabled and due at now
func (r *LeaseRepository) Claim(ctx context.Context, monitorID string, now, leaseUntil int64) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id":          monitorID,
		"enabled":      true,
		"next_run_at":  bson.M{"$lte": now},
		"locked_until": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{"locked_until": leaseUntil}}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim lease: %w", err)
	}
	if result.MatchedCount == 0 {
		return false, nil
	}

	slog.Debug("Claimed lease", "monitor_id", monitorID, "locked_until", leaseUntil)
	return true, nil
}

// ReleaseAndReschedule clears our lease and sets the next run
func (r *LeaseRepository) ReleaseAndReschedule(ctx context.Context, monitorID string, expectedLeaseUntil, nextRunAt int64) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": monitorID, "locked_until": expectedLeaseUntil}
	update := bson.M{"$set": bson.M{"next_run_at": nextRunAt, "locked_until": int64(0)}}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// ForceUnlock clears our lease without rescheduling
func (r *LeaseRepository) ForceUnlock(ctx context.Context, monitorID string, expectedLeaseUntil int64) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": monitorID, "locked_until": expectedLeaseUntil}
	update := bson.M{"$set": bson.M{"locked_until": int64(0)}}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to force unlock: %w", err)
	}
	return result.MatchedCount == 1, nil
}
