// Package database is the MongoDB backend for every store contract and for
// the durable job queues.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/dandantas/sentinel/internal/store"
)

// MongoDB represents a MongoDB connection
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database

	// per-operation deadline applied by the repositories
	opTimeout time.Duration
}

// Connect opens a client tuned for the lease and dedupe writes: majority
// write concern and primary reads, so a conditional update that matched is
// never rolled back by a failover and is visible to the next claimer.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*MongoDB, error) {
	slog.Info("Connecting to MongoDB", "database", database)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetAppName("sentinel").
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary()).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetCompressors([]string{"snappy"})

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	slog.Info("Connected to MongoDB", "database", database)

	return &MongoDB{
		Client:    client,
		Database:  client.Database(database),
		opTimeout: 5 * time.Second,
	}, nil
}

// Disconnect drains the pool, waiting at most 10s
func (m *MongoDB) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	slog.Info("Disconnected from MongoDB")
	return nil
}

// GetCollection returns a collection by name
func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

func (m *MongoDB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.opTimeout)
}

// Collection names
const (
	CollectionMonitors        = "monitors"
	CollectionMonitorStates   = "monitor_states"
	CollectionIncidents       = "incidents"
	CollectionIncidentUpdates = "incident_updates"
	CollectionChannels        = "notification_channels"
	CollectionPolicies        = "notification_policies"
	CollectionDedupeKeys      = "dedupe_keys"
	CollectionQueueMessages   = "queue_messages"
)

// notFound maps a driver miss onto the store sentinel
func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
