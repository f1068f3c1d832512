// Package checker executes probes for CheckJobs and feeds the outcomes to
// the health state machine.
package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dandantas/sentinel/internal/evaluator"
	"github.com/dandantas/sentinel/internal/model"
)

const (
	maxBodyBytes = 1024 * 1024

	// DefaultCloudflareStatusURL backs every "cloudflare-*" external check
	DefaultCloudflareStatusURL = "https://www.cloudflarestatus.com/api/v2/status.json"
)

// Prober runs one check. Target failures, timeouts included, are fail
// outcomes; the error is reserved for faults in our own infrastructure.
// A result with an empty Outcome carries no verdict.
type Prober interface {
	Probe(ctx context.Context, job model.CheckJob) (model.CheckResult, error)
}

// MonitorReader loads the push signals heartbeat and webhook checks read
type MonitorReader interface {
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
}

// Config tunes the dispatcher
type Config struct {
	HeartbeatGrace      time.Duration // used when a heartbeat check sets no grace
	CloudflareStatusURL string
}

// Dispatcher probes every check kind
type Dispatcher struct {
	client   *http.Client
	monitors MonitorReader
	cfg      Config
	now      func() time.Time
}

var _ Prober = (*Dispatcher)(nil)

// NewDispatcher creates a probe dispatcher
func NewDispatcher(client *http.Client, monitors MonitorReader, cfg Config) *Dispatcher {
	if client == nil {
		client = NewHTTPClient()
	}
	if cfg.CloudflareStatusURL == "" {
		cfg.CloudflareStatusURL = DefaultCloudflareStatusURL
	}
	return &Dispatcher{client: client, monitors: monitors, cfg: cfg, now: time.Now}
}

// WithClock replaces the dispatcher's clock
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Probe implements Prober
func (d *Dispatcher) Probe(ctx context.Context, job model.CheckJob) (model.CheckResult, error) {
	switch job.Check.Kind() {
	case model.KindHTTP:
		return d.probeHTTP(ctx, job), nil
	case model.KindExternal:
		return d.probeExternal(ctx, job), nil
	case model.KindHeartbeat:
		return d.probeHeartbeat(ctx, job)
	case model.KindWebhook:
		return d.probeWebhook(ctx, job)
	}
	return model.Fail(0, "Invalid check configuration"), nil
}

func (d *Dispatcher) probeHTTP(ctx context.Context, job model.CheckJob) model.CheckResult {
	spec := job.Check.HTTP

	reqCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	var body io.Reader
	if spec.Body != "" {
		body = bytes.NewBufferString(spec.Body)
	}
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(reqCtx, method, spec.URL, body)
	if err != nil {
		return model.Fail(0, fmt.Sprintf("Invalid request: %v", err))
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	setAuthentication(req, spec.Auth)

	start := time.Now()
	status, respBody, err := d.do(req)
	latency := time.Since(start)
	if err != nil {
		return model.Fail(latency, fetchReason(reqCtx, err))
	}

	if status < 200 || status > 299 {
		r := model.Fail(latency, fmt.Sprintf("HTTP %d", status))
		r.StatusCode = status
		return r
	}

	results, reason := evaluator.Evaluate(spec.Assertions, respBody)
	r := model.Pass(latency)
	if reason != "" {
		r = model.Fail(latency, reason)
	}
	r.StatusCode = status
	r.Assertions = results
	return r
}

func (d *Dispatcher) probeExternal(ctx context.Context, job model.CheckJob) model.CheckResult {
	spec := job.Check.External

	reqCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	url := spec.StatusURL
	label := "Status page"
	indicator := spec.ServiceType == "statuspage"
	if strings.HasPrefix(spec.ServiceType, "cloudflare-") {
		url, label, indicator = d.cfg.CloudflareStatusURL, "Cloudflare", true
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return model.Fail(0, fmt.Sprintf("Invalid request: %v", err))
	}
	if indicator {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	status, body, err := d.do(req)
	latency := time.Since(start)
	if err != nil {
		return model.Fail(latency, fetchReason(reqCtx, err))
	}

	if !indicator {
		if status < 200 || status > 299 {
			return model.Fail(latency, fmt.Sprintf("HTTP %d", status))
		}
		return model.Pass(latency)
	}

	if status < 200 || status > 299 {
		return model.Fail(latency, fmt.Sprintf("%s status API returned %d", label, status))
	}
	v, err := evaluator.Extract(body, "$.status.indicator")
	value, _ := v.(string)
	if err != nil || value == "" {
		value = "unknown"
	}
	switch value {
	case "none", "minor":
		return model.Pass(latency)
	}
	return model.Fail(latency, fmt.Sprintf("%s status: %s", label, value))
}

func (d *Dispatcher) probeHeartbeat(ctx context.Context, job model.CheckJob) (model.CheckResult, error) {
	m, err := d.monitors.GetMonitor(ctx, job.MonitorID)
	if err != nil {
		return model.CheckResult{}, fmt.Errorf("failed to load monitor for heartbeat check: %w", err)
	}

	grace := job.Check.Heartbeat.GraceSeconds
	if grace == 0 {
		grace = int(d.cfg.HeartbeatGrace.Seconds())
	}
	interval := job.IntervalSeconds
	if interval <= 0 {
		interval = m.IntervalSeconds
	}

	ok, reason := HeartbeatStatus(d.now().Unix(), m.LastHeartbeatAt, interval, grace)
	if !ok {
		return model.Fail(0, reason), nil
	}
	return model.Pass(0), nil
}

// HeartbeatStatus passes iff the last beat is within interval + grace of now
func HeartbeatStatus(now, lastSeen int64, intervalSec, graceSec int) (bool, string) {
	if intervalSec < 1 {
		intervalSec = 1
	}
	if graceSec < 0 {
		graceSec = 0
	}
	if lastSeen <= 0 {
		return false, "No heartbeat received yet"
	}
	age := now - lastSeen
	if age > int64(intervalSec+graceSec) {
		return false, fmt.Sprintf("No heartbeat in %ds (expected every %ds)", age, intervalSec)
	}
	return true, ""
}

func (d *Dispatcher) probeWebhook(ctx context.Context, job model.CheckJob) (model.CheckResult, error) {
	report := job.Report
	if report == nil {
		m, err := d.monitors.GetMonitor(ctx, job.MonitorID)
		if err != nil {
			return model.CheckResult{}, fmt.Errorf("failed to load monitor for webhook check: %w", err)
		}
		report = m.LastReport
	}

	ttl := job.Check.Webhook.ReportTTLSeconds
	if report == nil {
		if ttl > 0 {
			return model.Fail(0, "No status report received yet"), nil
		}
		return model.CheckResult{}, nil
	}
	if job.Report == nil && ttl > 0 {
		if age := d.now().Unix() - report.At; age > int64(ttl) {
			return model.Fail(0, fmt.Sprintf("No status report in %ds", age)), nil
		}
	}

	return ReportedResult(*report), nil
}

// ReportedResult maps a pushed status onto an outcome
func ReportedResult(r model.Report) model.CheckResult {
	switch r.Status {
	case model.ReportedUp:
		return model.Pass(0)
	case model.ReportedDegraded:
		if r.Reason == "" {
			return model.Fail(0, "Service is degraded.")
		}
	case model.ReportedDown:
		if r.Reason == "" {
			return model.Fail(0, "Reported down.")
		}
	default:
		return model.CheckResult{}
	}
	return model.Fail(0, r.Reason)
}

func (d *Dispatcher) do(req *http.Request) (int, []byte, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// fetchReason maps a transport error onto a failure reason
func fetchReason(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "Timeout"
	}
	if err.Error() == "" {
		return "Fetch error"
	}
	return err.Error()
}

func setAuthentication(req *http.Request, auth model.Auth) {
	switch strings.ToLower(auth.Type) {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}
