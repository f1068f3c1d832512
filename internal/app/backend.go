// Package app opens the configured backend and wires the engine together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dandantas/sentinel/internal/config"
	"github.com/dandantas/sentinel/internal/database"
	"github.com/dandantas/sentinel/internal/memstore"
	"github.com/dandantas/sentinel/internal/postgres"
	"github.com/dandantas/sentinel/internal/queue"
	"github.com/dandantas/sentinel/internal/store"
)

// Backend is an open store plus the two job queues kept alongside it
type Backend struct {
	Driver string
	Store  store.Backend
	Checks queue.Queue
	Alerts queue.Queue
}

// Open connects to the backend named by cfg.StoreDriver
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{Driver: cfg.StoreDriver}

	switch cfg.StoreDriver {
	case config.DriverMongo:
		db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		b.Store = database.NewStore(db, cfg.MongoTimeout)
		b.Checks = database.NewQueue(db, queue.CheckJobs, cfg.QueueVisibility)
		b.Alerts = database.NewQueue(db, queue.AlertJobs, cfg.QueueVisibility)

	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		b.Store = db
		b.Checks = postgres.NewQueue(db, queue.CheckJobs, cfg.QueueVisibility)
		b.Alerts = postgres.NewQueue(db, queue.AlertJobs, cfg.QueueVisibility)

	case config.DriverMemory:
		slog.Warn("Using the in-memory store; state is lost on exit and not shared between processes")
		b.Store = memstore.New()
		b.Checks = queue.NewMemory(queue.CheckJobs, cfg.QueueVisibility)
		b.Alerts = queue.NewMemory(queue.AlertJobs, cfg.QueueVisibility)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	slog.Info("Store connected", "driver", b.Driver)
	return b, nil
}

// Close releases the store connection
func (b *Backend) Close(ctx context.Context) error {
	if err := b.Store.Close(ctx); err != nil {
		return fmt.Errorf("failed to close %s store: %w", b.Driver, err)
	}
	return nil
}
