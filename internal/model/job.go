package model

import "time"

// Outcome is the binary result of a probe; empty means no verdict
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// CheckJob is the message the scheduler publishes for one claimed monitor
type CheckJob struct {
	JobID            string    `json:"job_id"`
	TeamID           string    `json:"team_id"`
	MonitorID        string    `json:"monitor_id"`
	Kind             CheckKind `json:"kind"`
	Check            CheckSpec `json:"check"`
	IntervalSeconds  int       `json:"interval_seconds"`
	TimeoutMs        int       `json:"timeout_ms"`
	FailureThreshold int       `json:"failure_threshold"`
	Report           *Report   `json:"report,omitempty"` // set for webhook-pushed jobs
	EnqueuedAt       int64     `json:"enqueued_at"`
}

// NewCheckJob builds the job for a monitor's current definition
func NewCheckJob(jobID string, m *Monitor, enqueuedAt int64) CheckJob {
	return CheckJob{
		JobID:            jobID,
		TeamID:           m.TeamID,
		MonitorID:        m.ID,
		Kind:             m.Kind(),
		Check:            m.Check,
		IntervalSeconds:  m.IntervalSeconds,
		TimeoutMs:        m.TimeoutMs,
		FailureThreshold: m.FailureThreshold,
		EnqueuedAt:       enqueuedAt,
	}
}

// Timeout returns the clamped probe timeout
func (j CheckJob) Timeout() time.Duration {
	return time.Duration(ClampTimeoutMs(j.TimeoutMs)) * time.Millisecond
}

// CheckResult is what a prober reports back for a CheckJob
type CheckResult struct {
	Outcome    Outcome           `json:"outcome"`
	Latency    time.Duration     `json:"latency"`
	Error      string            `json:"error,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Assertions []AssertionResult `json:"assertions,omitempty"`
}

// Pass builds a passing result
func Pass(latency time.Duration) CheckResult {
	return CheckResult{Outcome: OutcomePass, Latency: latency}
}

// Fail builds a failing result with a reason
func Fail(latency time.Duration, reason string) CheckResult {
	return CheckResult{Outcome: OutcomeFail, Latency: latency, Error: reason}
}
