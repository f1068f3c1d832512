// Package incident correlates health transitions into incidents.
//
// Every write is keyed by ids derived from the alert, so processing the same
// alert twice converges on the same records. The one-open-incident rule is
// enforced by a conditional write on the monitor state, not by alert order.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/sentinel/internal/hub"
	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

// Incident text
const (
	Title          = "Monitor down"
	DefaultOpening = "Automated monitoring detected an outage."
	Recovered      = "Service has recovered."
	RepeatedDown   = "Monitor reported down again."
)

// Store is the persistence the correlator needs
type Store interface {
	GetState(ctx context.Context, monitorID string) (*model.MonitorState, error)
	MarkIncidentOpen(ctx context.Context, monitorID, incidentID string) (bool, error)
	MarkIncidentClosed(ctx context.Context, monitorID, incidentID string) (bool, error)
	CreateIncident(ctx context.Context, inc *model.Incident) (bool, error)
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	ResolveIncident(ctx context.Context, id string, resolvedAt int64) (bool, error)
	AppendUpdate(ctx context.Context, u *model.IncidentUpdate) (bool, error)
}

// Correlator opens, extends and resolves incidents
type Correlator struct {
	store   Store
	events  hub.Publisher
	metrics *metrics.Registry
	now     func() time.Time
}

// NewCorrelator creates a correlator
func NewCorrelator(st Store, events hub.Publisher, reg *metrics.Registry) *Correlator {
	if events == nil {
		events = hub.Discard{}
	}
	return &Correlator{store: st, events: events, metrics: reg, now: time.Now}
}

// WithClock replaces the correlator's clock
func (c *Correlator) WithClock(now func() time.Time) *Correlator {
	c.now = now
	return c
}

// Result is what handling an alert did
type Result struct {
	IncidentID string // incident opened, extended or resolved
	Stale      bool   // superseded by a newer transition and dropped
}

// Handle applies one alert
func (c *Correlator) Handle(ctx context.Context, alert model.AlertJob) (Result, error) {
	state, err := c.store.GetState(ctx, alert.MonitorID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Alert for monitor without state, skipping",
			"monitor_id", alert.MonitorID,
			"alert_id", alert.AlertID,
		)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load monitor state: %w", err)
	}

	if stale(alert, state) {
		slog.Warn("Dropping stale alert superseded by a newer transition",
			"monitor_id", alert.MonitorID,
			"alert_id", alert.AlertID,
			"alert_status", alert.Status,
			"current_status", state.LastStatus,
			"occurred_at", alert.OccurredAt,
			"status_changed_at", state.StatusChangedAt,
		)
		return Result{Stale: true}, nil
	}

	switch alert.Status {
	case model.StatusDown:
		id, err := c.handleDown(ctx, alert)
		return Result{IncidentID: id}, err
	case model.StatusUp:
		return c.handleUp(ctx, alert, state)
	}
	slog.Warn("Alert with unexpected status", "alert_id", alert.AlertID, "status", alert.Status)
	return Result{}, nil
}

// stale reports an alert older than the monitor's latest transition that
// disagrees with the status that transition produced. An up that agrees
// with the current status is checked against the open incident instead.
func stale(alert model.AlertJob, state *model.MonitorState) bool {
	return alert.OccurredAt < state.StatusChangedAt && alert.Status != state.LastStatus
}

func (c *Correlator) at(alert model.AlertJob) int64 {
	if alert.OccurredAt > 0 {
		return alert.OccurredAt
	}
	return c.now().Unix()
}

func (c *Correlator) handleDown(ctx context.Context, alert model.AlertJob) (string, error) {
	incidentID := model.IncidentIDFor(alert.AlertID)

	opened, err := c.store.MarkIncidentOpen(ctx, alert.MonitorID, incidentID)
	if err != nil {
		return "", fmt.Errorf("failed to mark incident open: %w", err)
	}
	if !opened {
		return c.appendToOpen(ctx, alert)
	}

	startedAt := c.at(alert)
	created, err := c.store.CreateIncident(ctx, &model.Incident{
		ID:        incidentID,
		TeamID:    alert.TeamID,
		MonitorID: alert.MonitorID,
		Title:     Title,
		Status:    model.IncidentOpen,
		StartedAt: startedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create incident: %w", err)
	}
	if !created {
		existing, err := c.store.GetIncident(ctx, incidentID)
		if err != nil {
			return "", fmt.Errorf("failed to load incident: %w", err)
		}
		if !existing.IsOpen() {
			// a replayed down for an incident that has since resolved
			if _, err := c.store.MarkIncidentClosed(ctx, alert.MonitorID, incidentID); err != nil {
				return "", fmt.Errorf("failed to clear incident flag: %w", err)
			}
			return incidentID, nil
		}
	}

	message := alert.Reason
	if message == "" {
		message = DefaultOpening
	}
	if _, err := c.store.AppendUpdate(ctx, &model.IncidentUpdate{
		ID:         model.UpdateIDFor(alert.AlertID, incidentID),
		IncidentID: incidentID,
		Status:     model.IncidentOpen,
		Message:    message,
		CreatedAt:  startedAt,
	}); err != nil {
		return "", fmt.Errorf("failed to append opening update: %w", err)
	}

	if created {
		c.metrics.Inc(metrics.IncidentsOpenedTotal)
		slog.Info("Incident opened",
			"monitor_id", alert.MonitorID,
			"alert_id", alert.AlertID,
			"incident_id", incidentID,
		)
		c.events.Publish(hub.Event{
			Type:      hub.EventIncidentOpened,
			TeamID:    alert.TeamID,
			MonitorID: alert.MonitorID,
			Payload:   map[string]any{"incident_id": incidentID, "reason": message, "started_at": startedAt},
		})
	}
	return incidentID, nil
}

// appendToOpen handles a down alert while a different incident is open
func (c *Correlator) appendToOpen(ctx context.Context, alert model.AlertJob) (string, error) {
	state, err := c.store.GetState(ctx, alert.MonitorID)
	if err != nil {
		return "", fmt.Errorf("failed to reload monitor state: %w", err)
	}
	if !state.IncidentOpen {
		// closed between our two reads; the redelivery will retry the open
		return "", fmt.Errorf("incident for monitor %s closed concurrently", alert.MonitorID)
	}
	openID := state.OpenIncidentID

	slog.Warn("Down alert while an incident is already open",
		"monitor_id", alert.MonitorID,
		"alert_id", alert.AlertID,
		"incident_id", openID,
	)

	message := RepeatedDown
	if alert.Reason != "" {
		message = RepeatedDown + " " + alert.Reason
	}
	appended, err := c.store.AppendUpdate(ctx, &model.IncidentUpdate{
		ID:         model.UpdateIDFor(alert.AlertID, openID),
		IncidentID: openID,
		Status:     model.IncidentOpen,
		Message:    message,
		CreatedAt:  c.at(alert),
	})
	if err != nil {
		return "", fmt.Errorf("failed to append incident update: %w", err)
	}
	if appended {
		c.events.Publish(hub.Event{
			Type:      hub.EventIncidentUpdated,
			TeamID:    alert.TeamID,
			MonitorID: alert.MonitorID,
			Payload:   map[string]any{"incident_id": openID, "message": message},
		})
	}
	return openID, nil
}

func (c *Correlator) handleUp(ctx context.Context, alert model.AlertJob, state *model.MonitorState) (Result, error) {
	if !state.IncidentOpen {
		slog.Warn("Up alert with no open incident",
			"monitor_id", alert.MonitorID,
			"alert_id", alert.AlertID,
		)
		return Result{}, nil
	}
	incidentID := state.OpenIncidentID

	inc, err := c.store.GetIncident(ctx, incidentID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Open incident flag points at a missing incident, clearing it",
			"monitor_id", alert.MonitorID,
			"incident_id", incidentID,
		)
		if _, err := c.store.MarkIncidentClosed(ctx, alert.MonitorID, incidentID); err != nil {
			return Result{}, fmt.Errorf("failed to clear incident flag: %w", err)
		}
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load incident: %w", err)
	}

	// a recovery from before this incident started belongs to an earlier one
	if alert.OccurredAt > 0 && alert.OccurredAt < inc.StartedAt {
		slog.Warn("Dropping up alert older than the open incident",
			"monitor_id", alert.MonitorID,
			"alert_id", alert.AlertID,
			"incident_id", incidentID,
			"occurred_at", alert.OccurredAt,
			"started_at", inc.StartedAt,
		)
		return Result{Stale: true}, nil
	}

	resolvedAt := c.at(alert)
	if resolvedAt < inc.StartedAt {
		resolvedAt = inc.StartedAt
	}

	resolved, err := c.store.ResolveIncident(ctx, incidentID, resolvedAt)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve incident: %w", err)
	}
	if _, err := c.store.AppendUpdate(ctx, &model.IncidentUpdate{
		ID:         model.UpdateIDFor(alert.AlertID, incidentID),
		IncidentID: incidentID,
		Status:     model.IncidentResolved,
		Message:    Recovered,
		CreatedAt:  resolvedAt,
	}); err != nil {
		return Result{}, fmt.Errorf("failed to append closing update: %w", err)
	}
	if _, err := c.store.MarkIncidentClosed(ctx, alert.MonitorID, incidentID); err != nil {
		return Result{}, fmt.Errorf("failed to mark incident closed: %w", err)
	}

	if resolved {
		c.metrics.Inc(metrics.IncidentsResolvedTotal)
		slog.Info("Incident resolved",
			"monitor_id", alert.MonitorID,
			"alert_id", alert.AlertID,
			"incident_id", incidentID,
			"duration_s", resolvedAt-inc.StartedAt,
		)
		c.events.Publish(hub.Event{
			Type:      hub.EventIncidentResolved,
			TeamID:    alert.TeamID,
			MonitorID: alert.MonitorID,
			Payload:   map[string]any{"incident_id": incidentID, "resolved_at": resolvedAt},
		})
	}
	return Result{IncidentID: incidentID}, nil
}
