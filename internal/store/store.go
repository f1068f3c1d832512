// Package store defines the persistence contracts shared by every backend.
//
// Only the lease fields on a monitor use compare-and-swap. State, incidents
// and dedupe keys are written so that replaying the same write is harmless.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dandantas/sentinel/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist
var ErrNotFound = errors.New("not found")

// LeaseStore claims and releases monitor leases.
// Every method is one conditional update; the bool is whether it matched.
type LeaseStore interface {
	// Claim sets locked_until = leaseUntil iff the monitor is due at now
	Claim(ctx context.Context, monitorID string, now, leaseUntil int64) (bool, error)
	// ReleaseAndReschedule sets next_run_at and clears the lease iff locked_until == expectedLeaseUntil
	ReleaseAndReschedule(ctx context.Context, monitorID string, expectedLeaseUntil, nextRunAt int64) (bool, error)
	// ForceUnlock clears the lease iff locked_until == expectedLeaseUntil
	ForceUnlock(ctx context.Context, monitorID string, expectedLeaseUntil int64) (bool, error)
}

// MonitorStore reads monitor definitions and records push signals
type MonitorStore interface {
	ListDue(ctx context.Context, now int64, limit int) ([]*model.Monitor, error)
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
	// UpsertMonitor writes the definition and creates a zeroed state if none exists
	UpsertMonitor(ctx context.Context, m *model.Monitor) error
	// DeleteMonitor removes the monitor with its state, policies and incidents
	DeleteMonitor(ctx context.Context, id string) error
	RecordHeartbeat(ctx context.Context, id string, at int64) error
	RecordReport(ctx context.Context, id string, report model.Report) error
}

// StateStore persists MonitorState.
// Health columns and incident columns are written independently.
type StateStore interface {
	GetState(ctx context.Context, monitorID string) (*model.MonitorState, error)
	// SaveState writes the health columns iff the stored version equals
	// expectedVersion (0 inserts when absent) and bumps the version.
	SaveState(ctx context.Context, s *model.MonitorState, expectedVersion int64) (bool, error)
	// MarkIncidentOpen succeeds iff no incident is open or incidentID already is
	MarkIncidentOpen(ctx context.Context, monitorID, incidentID string) (bool, error)
	// MarkIncidentClosed succeeds iff incidentID is the open incident
	MarkIncidentClosed(ctx context.Context, monitorID, incidentID string) (bool, error)
}

// IncidentFilter narrows ListIncidents
type IncidentFilter struct {
	MonitorID string
	Status    model.IncidentStatus
	Limit     int
}

// IncidentStore persists incidents and their timelines
type IncidentStore interface {
	// CreateIncident inserts if absent; false means it already existed
	CreateIncident(ctx context.Context, inc *model.Incident) (bool, error)
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	// ResolveIncident sets resolved iff the incident is still open
	ResolveIncident(ctx context.Context, id string, resolvedAt int64) (bool, error)
	// AppendUpdate inserts if absent; false means it already existed
	AppendUpdate(ctx context.Context, u *model.IncidentUpdate) (bool, error)
	ListUpdates(ctx context.Context, incidentID string) ([]model.IncidentUpdate, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error)
}

// PolicyStore is the read side of notification configuration plus seeding
type PolicyStore interface {
	ListPolicies(ctx context.Context, monitorID string) ([]model.NotificationPolicy, error)
	GetChannel(ctx context.Context, id string) (*model.NotificationChannel, error)
	UpsertChannel(ctx context.Context, c *model.NotificationChannel) error
	UpsertPolicy(ctx context.Context, p *model.NotificationPolicy) error
}

// DedupeStore is a first-writer-wins key set
type DedupeStore interface {
	// Acquire inserts key; false means another writer got there first
	Acquire(ctx context.Context, key string) (bool, error)
	// Purge removes keys created before cutoff
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Backend is everything a running process needs from persistence
type Backend interface {
	LeaseStore
	MonitorStore
	StateStore
	IncidentStore
	PolicyStore
	DedupeStore

	// Migrate creates indexes or tables
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
