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

// IncidentRepository persists incidents and their update timelines
type IncidentRepository struct {
	db        *MongoDB
	incidents *mongo.Collection
	updates   *mongo.Collection
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *MongoDB) *IncidentRepository {
	return &IncidentRepository{
		db:        db,
		incidents: db.GetCollection(CollectionIncidents),
		updates:   db.GetCollection(CollectionIncidentUpdates),
	}
}

// CreateIncident inserts inc; false means the id already existed
func (r *IncidentRepository) CreateIncident(ctx context.Context, inc *model.Incident) (bool, error) {
	return insertIfAbsent(ctx, r.db, r.incidents, inc)
}

// GetIncident retrieves an incident by ID
func (r *IncidentRepository) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var inc model.Incident
	if err := r.incidents.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&inc); err != nil {
		return nil, fmt.Errorf("failed to get incident %s: %w", id, notFound(err))
	}
	return &inc, nil
}

// ResolveIncident resolves an open incident at max(resolvedAt, started_at)
func (r *IncidentRepository) ResolveIncident(ctx context.Context, id string, resolvedAt int64) (bool, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": id, "status": model.IncidentOpen}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.IncidentResolved},
			{Key: "resolved_at", Value: bson.D{{Key: "$max", Value: bson.A{"$started_at", resolvedAt}}}},
		}}},
	}

	result, err := r.incidents.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to resolve incident: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// AppendUpdate inserts u; false means the id already existed
func (r *IncidentRepository) AppendUpdate(ctx context.Context, u *model.IncidentUpdate) (bool, error) {
	return insertIfAbsent(ctx, r.db, r.updates, u)
}

// ListUpdates returns an incident's timeline, oldest first
func (r *IncidentRepository) ListUpdates(ctx context.Context, incidentID string) ([]model.IncidentUpdate, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.updates.Find(ctxTimeout, bson.M{"incident_id": incidentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list incident updates: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	updates := make([]model.IncidentUpdate, 0)
	if err := cursor.All(ctxTimeout, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode incident updates: %w", err)
	}
	return updates, nil
}

// ListIncidents returns matching incidents, newest first
func (r *IncidentRepository) ListIncidents(ctx context.Context, f store.IncidentFilter) ([]model.Incident, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{}
	if f.MonitorID != "" {
		filter["monitor_id"] = f.MonitorID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := r.incidents.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	incidents := make([]model.Incident, 0)
	if err := cursor.All(ctxTimeout, &incidents); err != nil {
		return nil, fmt.Errorf("failed to decode incidents: %w", err)
	}
	return incidents, nil
}

// insertIfAbsent maps a duplicate _id onto false
func insertIfAbsent(ctx context.Context, db *MongoDB, coll *mongo.Collection, doc interface{}) (bool, error) {
	ctxTimeout, cancel := db.withTimeout(ctx)
	defer cancel()

	if _, err := coll.InsertOne(ctxTimeout, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert into %s: %w", coll.Name(), err)
	}
	return true, nil
}
