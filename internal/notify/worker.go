package notify

import (
	"context"
	"log/slog"

	"github.com/dandantas/sentinel/internal/incident"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
)

// Correlator is the incident step run before notifying
type Correlator interface {
	Handle(ctx context.Context, alert model.AlertJob) (incident.Result, error)
}

// Worker consumes AlertJobs: correlate, then notify
type Worker struct {
	correlator Correlator
	dispatcher *Dispatcher
}

// NewWorker creates an alert job handler
func NewWorker(correlator Correlator, dispatcher *Dispatcher) *Worker {
	return &Worker{correlator: correlator, dispatcher: dispatcher}
}

// Handle is a queue.Handler for the alert_jobs queue
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	alert, err := queue.Decode[model.AlertJob](msg)
	if err != nil {
		slog.Error("Discarding malformed alert job", "message_id", msg.ID, "error", err)
		return nil
	}

	res, err := w.correlator.Handle(ctx, alert)
	if err != nil {
		return err
	}
	if res.Stale {
		return nil
	}
	if res.IncidentID != "" {
		alert.IncidentID = res.IncidentID
	}

	sum, err := w.dispatcher.Dispatch(ctx, alert)
	if err != nil {
		return err
	}
	slog.Debug("Alert processed",
		"alert_id", alert.AlertID,
		"monitor_id", alert.MonitorID,
		"incident_id", alert.IncidentID,
		"matched", sum.Matched,
		"sent", sum.Sent,
		"duplicates", sum.Duplicates,
		"failed", sum.Failed,
	)
	return nil
}
