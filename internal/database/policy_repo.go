package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/sentinel/internal/model"
)

// PolicyRepository handles notification channels and policies
type PolicyRepository struct {
	db       *MongoDB
	channels *mongo.Collection
	policies *mongo.Collection
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *MongoDB) *PolicyRepository {
	return &PolicyRepository{
		db:       db,
		channels: db.GetCollection(CollectionChannels),
		policies: db.GetCollection(CollectionPolicies),
	}
}

// ListPolicies returns the policies bound to a monitor
func (r *PolicyRepository) ListPolicies(ctx context.Context, monitorID string) ([]model.NotificationPolicy, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.policies.Find(ctxTimeout, bson.M{"monitor_id": monitorID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	policies := make([]model.NotificationPolicy, 0)
	if err := cursor.All(ctxTimeout, &policies); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return policies, nil
}

// GetChannel retrieves a channel by ID
func (r *PolicyRepository) GetChannel(ctx context.Context, id string) (*model.NotificationChannel, error) {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ch model.NotificationChannel
	if err := r.channels.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&ch); err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", id, notFound(err))
	}
	return &ch, nil
}

// UpsertChannel creates or replaces a channel
func (r *PolicyRepository) UpsertChannel(ctx context.Context, c *model.NotificationChannel) error {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.channels.ReplaceOne(ctxTimeout, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

// UpsertPolicy creates or replaces a policy
func (r *PolicyRepository) UpsertPolicy(ctx context.Context, p *model.NotificationPolicy) error {
	ctxTimeout, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.policies.ReplaceOne(ctxTimeout, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}
	return nil
}
