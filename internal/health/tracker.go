package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/sentinel/internal/hub"
	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
	"github.com/dandantas/sentinel/internal/store"
)

const maxSaveAttempts = 5

// ErrConflict is returned when the state kept changing under us
var ErrConflict = errors.New("monitor state version conflict")

// StateStore is the part of persistence the tracker uses
type StateStore interface {
	GetState(ctx context.Context, monitorID string) (*model.MonitorState, error)
	SaveState(ctx context.Context, s *model.MonitorState, expectedVersion int64) (bool, error)
}

// Tracker applies probe results to persisted state and publishes alerts
type Tracker struct {
	states  StateStore
	alerts  queue.Queue
	events  hub.Publisher
	metrics *metrics.Registry
	now     func() time.Time
}

// NewTracker creates a tracker
func NewTracker(states StateStore, alerts queue.Queue, events hub.Publisher, reg *metrics.Registry) *Tracker {
	if events == nil {
		events = hub.Discard{}
	}
	return &Tracker{states: states, alerts: alerts, events: events, metrics: reg, now: time.Now}
}

// WithClock replaces the tracker's clock
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Record applies one probe result. A transition's alert is saved on the
// state before it is published, and any alert still pending from an earlier
// job is published before this job is applied or dropped, so a transition
// is never lost to a publish failure followed by newer results.
func (t *Tracker) Record(ctx context.Context, job model.CheckJob, result model.CheckResult) error {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		prev, err := t.load(ctx, job.MonitorID)
		if err != nil {
			return err
		}

		if prev.PendingAlert != nil {
			ok, err := t.flush(ctx, prev)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}

		if prev.LastJobID == job.JobID {
			slog.Debug("Check job already applied", "monitor_id", job.MonitorID, "job_id", job.JobID)
			return nil
		}
		if job.EnqueuedAt < prev.LastJobEnqueuedAt {
			slog.Warn("Dropping out-of-order check result",
				"monitor_id", job.MonitorID,
				"job_id", job.JobID,
				"enqueued_at", job.EnqueuedAt,
				"last_enqueued_at", prev.LastJobEnqueuedAt,
			)
			return nil
		}

		now := t.now().Unix()
		next, tr := Apply(*prev, result, job.FailureThreshold, now)
		next.LastJobID = job.JobID
		next.LastJobEnqueuedAt = job.EnqueuedAt
		next.LastTransition = tr.To
		next.LastAlertID = ""
		next.PendingAlert = nil
		if tr.Emits() {
			next.LastAlertID = model.AlertIDFor(job.JobID, tr.To)
			alert := alertFrom(job, &next, tr.Reason)
			next.PendingAlert = &alert
		}

		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ok, err := t.states.SaveState(saveCtx, &next, prev.Version)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to save monitor state: %w", err)
		}
		if !ok {
			slog.Debug("Monitor state changed concurrently, retrying",
				"monitor_id", job.MonitorID,
				"job_id", job.JobID,
				"attempt", attempt,
			)
			continue
		}
		next.Version = prev.Version + 1

		t.metrics.Inc(metrics.ChecksTotal, "kind", string(job.Kind), "outcome", string(result.Outcome))
		if !tr.Emits() {
			return nil
		}

		t.metrics.Inc(metrics.TransitionsTotal, "status", string(tr.To))
		slog.Info("Monitor status changed",
			"monitor_id", job.MonitorID,
			"job_id", job.JobID,
			"status", tr.To,
			"consecutive_failures", next.ConsecutiveFailures,
			"reason", tr.Reason,
		)
		t.events.Publish(hub.Event{
			Type:      hub.EventTransition,
			TeamID:    job.TeamID,
			MonitorID: job.MonitorID,
			Payload:   map[string]any{"status": tr.To, "reason": tr.Reason, "consecutive_failures": next.ConsecutiveFailures},
		})
		_, err = t.flush(ctx, &next)
		return err
	}
	return fmt.Errorf("%w: monitor %s", ErrConflict, job.MonitorID)
}

// flush publishes st's pending alert and clears it under st's version.
// It reports false when the state moved on before the clear; the caller
// reloads, and whoever sees the alert still pending publishes it again
// with the same AlertID.
func (t *Tracker) flush(ctx context.Context, st *model.MonitorState) (bool, error) {
	alert := *st.PendingAlert
	if err := t.publish(ctx, alert); err != nil {
		return false, fmt.Errorf("failed to publish alert %s: %w", alert.AlertID, err)
	}

	cleared := *st
	cleared.PendingAlert = nil
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ok, err := t.states.SaveState(saveCtx, &cleared, st.Version)
	cancel()
	if err != nil {
		return false, fmt.Errorf("failed to clear pending alert: %w", err)
	}
	if !ok {
		return false, nil
	}
	st.PendingAlert = nil
	st.Version++
	slog.Debug("Alert published", "monitor_id", st.MonitorID, "alert_id", alert.AlertID)
	return true, nil
}

func (t *Tracker) publish(ctx context.Context, alert model.AlertJob) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return queue.PublishJSON(pubCtx, t.alerts, alert)
}

func (t *Tracker) load(ctx context.Context, monitorID string) (*model.MonitorState, error) {
	getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := t.states.GetState(getCtx, monitorID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewMonitorState(monitorID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load monitor state: %w", err)
	}
	return st, nil
}

func alertFrom(job model.CheckJob, st *model.MonitorState, reason string) model.AlertJob {
	return model.AlertJob{
		AlertID:             st.LastAlertID,
		TeamID:              job.TeamID,
		MonitorID:           job.MonitorID,
		Status:              st.LastTransition,
		Reason:              reason,
		ConsecutiveFailures: st.ConsecutiveFailures,
		FailureThreshold:    model.ClampThreshold(job.FailureThreshold),
		OccurredAt:          st.StatusChangedAt,
	}
}
