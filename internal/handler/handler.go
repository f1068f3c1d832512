// Package handler serves the push ingest endpoints and the read-only ops API.
package handler

import (
	"context"
	"time"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
	"github.com/dandantas/sentinel/internal/store"
)

// Store is the persistence the HTTP layer reads and writes
type Store interface {
	store.MonitorStore
	GetState(ctx context.Context, monitorID string) (*model.MonitorState, error)
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	ListUpdates(ctx context.Context, incidentID string) ([]model.IncidentUpdate, error)
	ListIncidents(ctx context.Context, filter store.IncidentFilter) ([]model.Incident, error)
	Ping(ctx context.Context) error
}

// Handler holds the dependencies shared by every route
type Handler struct {
	store     Store
	checks    queue.Queue
	driver    string
	version   string
	startTime time.Time
	now       func() time.Time
}

// New creates a handler. checks receives the jobs published by push endpoints.
func New(st Store, checks queue.Queue, driver, version string) *Handler {
	return &Handler{
		store:     st,
		checks:    checks,
		driver:    driver,
		version:   version,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// WithClock overrides the clock used to timestamp pushes
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}
