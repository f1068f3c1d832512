package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/sentinel/internal/model"
)

// StateRepository persists monitor health state. Health columns are written
// under an optimistic version; incident columns by their own conditional
// updates, so the two writers never clobber each other.
type StateRepository struct {
	db         *MongoDB
	collection *mongo.Collection
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *MongoDB) *StateRepository {
	return &StateRepository{db: db, collection: db.GetCollection(CollectionMonitorStates)}
}

// GetState retrieves the state for a monitor
func (r *StateRepository) GetState(ctx context.Context, monitorID string) (*model.MonitorState, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var s model.MonitorState
	if err := r.collection.FindOne(ctxTimeout, bson.M{"_id": monitorID}).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", monitorID, notFound(err))
	}
	return &s, nil
}

// SaveState writes the health columns iff version == expectedVersion
func (r *StateRepository) SaveState(ctx context.Context, s *model.MonitorState, expectedVersion int64) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	set := bson.M{
		"last_checked_at":      s.LastCheckedAt,
		"last_status":          s.LastStatus,
		"last_latency_ms":      s.LastLatencyMs,
		"consecutive_failures": s.ConsecutiveFailures,
		"last_error":           s.LastError,
		"status_changed_at":    s.StatusChangedAt,
		"last_job_id":          s.LastJobID,
		"last_job_enqueued_at": s.LastJobEnqueuedAt,
		"last_transition":      s.LastTransition,
		"last_alert_id":        s.LastAlertID,
		"pending_alert":        s.PendingAlert,
		"version":              expectedVersion + 1,
		"updated_at":           time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	filter := bson.M{"_id": s.MonitorID, "version": expectedVersion}

	opts := options.Update()
	if expectedVersion == 0 {
		// first write may create the document; a concurrent creator makes
		// the insert collide on _id, which is a lost race
		opts.SetUpsert(true)
		update["$setOnInsert"] = bson.M{"incident_open": false}
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to save state: %w", err)
	}
	return result.MatchedCount == 1 || result.UpsertedCount == 1, nil
}

// ensureState creates a zeroed state if none exists
func (r *StateRepository) ensureState(ctx context.Context, monitorID string) error {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	fresh := model.NewMonitorState(monitorID)
	update := bson.M{"$setOnInsert": bson.M{
		"last_status":          fresh.LastStatus,
		"consecutive_failures": 0,
		"status_changed_at":    int64(0),
		"incident_open":        false,
		"version":              int64(0),
		"updated_at":           fresh.UpdatedAt,
	}}
	if _, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": monitorID}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to create state: %w", err)
	}
	return nil
}

// MarkIncidentOpen sets the open incident iff none or the same one is open
func (r *StateRepository) MarkIncidentOpen(ctx context.Context, monitorID, incidentID string) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id": monitorID,
		"$or": []bson.M{
			{"incident_open": bson.M{"$ne": true}},
			{"open_incident_id": incidentID},
		},
	}
	update := bson.M{"$set": bson.M{"incident_open": true, "open_incident_id": incidentID}}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident open: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// MarkIncidentClosed clears the open incident iff it is incidentID
func (r *StateRepository) MarkIncidentClosed(ctx context.Context, monitorID, incidentID string) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": monitorID, "incident_open": true, "open_incident_id": incidentID}
	update := bson.M{
		"$set":   bson.M{"incident_open": false},
		"$unset": bson.M{"open_incident_id": ""},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident closed: %w", err)
	}
	return result.MatchedCount == 1, nil
}
