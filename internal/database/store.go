package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

// Store implements store.Backend over MongoDB
type Store struct {
	*LeaseRepository
	*MonitorRepository
	*StateRepository
	*IncidentRepository
	*PolicyRepository
	*DedupeRepository

	db *MongoDB
}

var _ store.Backend = (*Store)(nil)

// NewStore wires every repository over one connection
func NewStore(db *MongoDB, opTimeout time.Duration) *Store {
	if opTimeout > 0 {
		db.opTimeout = opTimeout
	}
	return &Store{
		LeaseRepository:    NewLeaseRepository(db),
		MonitorRepository:  NewMonitorRepository(db),
		StateRepository:    NewStateRepository(db),
		IncidentRepository: NewIncidentRepository(db),
		PolicyRepository:   NewPolicyRepository(db),
		DedupeRepository:   NewDedupeRepository(db),
		db:                 db,
	}
}

// DB exposes the connection for queue construction
func (s *Store) DB() *MongoDB { return s.db }

// UpsertMonitor writes the definition and ensures a state document
func (s *Store) UpsertMonitor(ctx context.Context, m *model.Monitor) error {
	if err := s.MonitorRepository.upsertMonitor(ctx, m); err != nil {
		return err
	}
	return s.StateRepository.ensureState(ctx, m.ID)
}

// DeleteMonitor removes a monitor with its state, policies and incidents
func (s *Store) DeleteMonitor(ctx context.Context, id string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := s.db.GetCollection(CollectionMonitors).DeleteOne(ctxTimeout, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}

	incidentIDs, err := s.db.GetCollection(CollectionIncidents).Distinct(ctxTimeout, "_id", bson.M{"monitor_id": id})
	if err != nil {
		return fmt.Errorf("failed to find incidents: %w", err)
	}

	cascade := []struct {
		collection string
		filter     bson.M
	}{
		{CollectionMonitorStates, bson.M{"_id": id}},
		{CollectionPolicies, bson.M{"monitor_id": id}},
		{CollectionIncidentUpdates, bson.M{"incident_id": bson.M{"$in": incidentIDs}}},
		{CollectionIncidents, bson.M{"monitor_id": id}},
	}
	for _, c := range cascade {
		if _, err := s.db.GetCollection(c.collection).DeleteMany(ctxTimeout, c.filter); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", c.collection, err)
		}
	}
	return nil
}

// Migrate creates indexes
func (s *Store) Migrate(ctx context.Context) error {
	return CreateIndexes(ctx, s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	ctxTimeout, cancel := s.db.withTimeout(ctx)
	defer cancel()
	return s.db.Client.Ping(ctxTimeout, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Disconnect(ctx)
}
