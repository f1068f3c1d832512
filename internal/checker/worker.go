package checker

import (
	"context"
	"log/slog"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
)

// Recorder receives probe results; health.Tracker implements it
type Recorder interface {
	Record(ctx context.Context, job model.CheckJob, result model.CheckResult) error
}

// Worker consumes CheckJobs: probe, then record
type Worker struct {
	prober   Prober
	recorder Recorder
}

// NewWorker creates a check job handler
func NewWorker(prober Prober, recorder Recorder) *Worker {
	return &Worker{prober: prober, recorder: recorder}
}

// Handle is a queue.Handler for the check_jobs queue
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	job, err := queue.Decode[model.CheckJob](msg)
	if err != nil {
		// undecodable bodies never improve on redelivery
		slog.Error("Discarding malformed check job", "message_id", msg.ID, "error", err)
		return nil
	}

	result, err := w.prober.Probe(ctx, job)
	if err != nil {
		return err
	}
	if result.Outcome == "" {
		slog.Debug("Probe produced no verdict", "monitor_id", job.MonitorID, "job_id", job.JobID, "kind", job.Kind)
		return nil
	}

	slog.Debug("Probe completed",
		"monitor_id", job.MonitorID,
		"job_id", job.JobID,
		"kind", job.Kind,
		"outcome", result.Outcome,
		"latency_ms", result.Latency.Milliseconds(),
		"error", result.Error,
	)

	return w.recorder.Record(ctx, job, result)
}
