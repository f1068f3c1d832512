package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/sentinel/internal/memstore"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
)

const testToken = "push-token"

type fixture struct {
	store  *memstore.Store
	checks *queue.Memory
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	checks := queue.NewMemory("check_jobs", time.Minute)
	ctx := context.Background()

	monitors := []*model.Monitor{
		{
			ID: "hb", TeamID: "team-1", Name: "Nightly backup", Enabled: true,
			Check: model.CheckSpec{Heartbeat: &model.HeartbeatCheck{TokenHash: model.HashToken(testToken)}},
		},
		{
			ID: "wh", TeamID: "team-1", Name: "Deploy pipeline", Enabled: true,
			Check: model.CheckSpec{Webhook: &model.WebhookCheck{TokenHash: model.HashToken(testToken)}},
		},
		{
			ID: "api", TeamID: "team-1", Name: "Public API", Enabled: true,
			Check: model.CheckSpec{HTTP: &model.HTTPCheck{URL: "https://example.com/health"}},
		},
	}
	for _, m := range monitors {
		if err := m.Validate(); err != nil {
			t.Fatalf("validate %s: %v", m.ID, err)
		}
		if err := st.UpsertMonitor(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	h := New(st, checks, "memory", "test").WithClock(func() time.Time { return time.Unix(5000, 0) })
	return &fixture{
		store:  st,
		checks: checks,
		router: NewRouter(h, RouterConfig{}),
	}
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatRecordsAndPublishes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/heartbeats/hb", `{"token":"push-token"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	m, _ := f.store.GetMonitor(context.Background(), "hb")
	if m.LastHeartbeatAt != 5000 {
		t.Errorf("LastHeartbeatAt = %d, want 5000", m.LastHeartbeatAt)
	}
	msgs, _ := f.checks.Receive(context.Background(), 10)
	if len(msgs) != 1 {
		t.Fatalf("expected one check job, got %d", len(msgs))
	}
	job, err := queue.Decode[model.CheckJob](msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if job.MonitorID != "hb" || job.Kind != model.KindHeartbeat || job.EnqueuedAt != 5000 {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestIngestAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"bearer token", "/api/v1/heartbeats/hb", "", map[string]string{"Authorization": "Bearer push-token"}, http.StatusOK},
		{"token header", "/api/v1/heartbeats/hb", "", map[string]string{TokenHeader: "push-token"}, http.StatusOK},
		{"wrong token", "/api/v1/heartbeats/hb", `{"token":"nope"}`, nil, http.StatusUnauthorized},
		{"missing token", "/api/v1/heartbeats/hb", `{}`, nil, http.StatusUnauthorized},
		{"unknown monitor", "/api/v1/heartbeats/ghost", `{"token":"push-token"}`, nil, http.StatusUnauthorized},
		{"pull monitor has no token", "/api/v1/heartbeats/api", `{"token":""}`, map[string]string{TokenHeader: "x"}, http.StatusUnauthorized},
		{"wrong kind", "/api/v1/heartbeats/wh", `{"token":"push-token"}`, nil, http.StatusBadRequest},
		{"bad json", "/api/v1/webhooks/wh", `{`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, tt.path, tt.body, tt.header)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestWebhookReport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/webhooks/wh", `{"token":"push-token","status":"DOWN","message":"queue stuck"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	m, _ := f.store.GetMonitor(context.Background(), "wh")
	if m.LastReport == nil || m.LastReport.Status != model.ReportedDown || m.LastReport.Reason != "queue stuck" {
		t.Fatalf("unexpected report %+v", m.LastReport)
	}
	msgs, _ := f.checks.Receive(context.Background(), 10)
	if len(msgs) != 1 {
		t.Fatalf("expected one check job, got %d", len(msgs))
	}
	job, _ := queue.Decode[model.CheckJob](msgs[0])
	if job.Report == nil || job.Report.Status != model.ReportedDown {
		t.Errorf("job should carry the report: %+v", job.Report)
	}

	rec = f.do(http.MethodPost, "/api/v1/webhooks/wh", `{"token":"push-token","status":"sideways"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status: got %d", rec.Code)
	}
}

func TestDisabledMonitorRecordsWithoutPublishing(t *testing.T) {
	f := newFixture(t)
	m, _ := f.store.GetMonitor(context.Background(), "hb")
	m.Enabled = false
	f.store.UpsertMonitor(context.Background(), m)

	rec := f.do(http.MethodPost, "/api/v1/heartbeats/hb", `{"token":"push-token"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if f.checks.Len() != 0 {
		t.Error("a disabled monitor must not get an immediate check")
	}
}

func TestIncidentEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolvedAt := int64(200)
	f.store.CreateIncident(ctx, &model.Incident{ID: "inc-1", TeamID: "team-1", MonitorID: "api", Title: "Monitor down", Status: model.IncidentOpen, StartedAt: 300})
	f.store.CreateIncident(ctx, &model.Incident{ID: "inc-0", TeamID: "team-1", MonitorID: "api", Title: "Monitor down", Status: model.IncidentResolved, StartedAt: 100, ResolvedAt: &resolvedAt})
	f.store.AppendUpdate(ctx, &model.IncidentUpdate{ID: "u-1", IncidentID: "inc-1", Status: model.IncidentOpen, Message: "HTTP 503", CreatedAt: 300})

	rec := f.do(http.MethodGet, "/api/v1/incidents?monitor_id=api&status=open", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	var list IncidentListResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if list.Count != 1 || list.Results[0].ID != "inc-1" {
		t.Errorf("unexpected list %+v", list)
	}

	rec = f.do(http.MethodGet, "/api/v1/incidents?status=bogus", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/v1/incidents/inc-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: got %d", rec.Code)
	}
	var detail model.IncidentDetail
	json.NewDecoder(rec.Body).Decode(&detail)
	if detail.ID != "inc-1" || len(detail.Updates) != 1 || detail.Updates[0].Message != "HTTP 503" {
		t.Errorf("unexpected detail %+v", detail)
	}

	rec = f.do(http.MethodGet, "/api/v1/incidents/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing incident: got %d", rec.Code)
	}
}

func TestMonitorStateAndDelete(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/monitors/api/state", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: got %d", rec.Code)
	}
	var st model.MonitorState
	json.NewDecoder(rec.Body).Decode(&st)
	if st.MonitorID != "api" || st.LastStatus != model.StatusUnknown {
		t.Errorf("unexpected state %+v", st)
	}

	rec = f.do(http.MethodDelete, "/api/v1/monitors/api", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: got %d", rec.Code)
	}
	rec = f.do(http.MethodGet, "/api/v1/monitors/api/state", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("state after delete: got %d", rec.Code)
	}
	rec = f.do(http.MethodDelete, "/api/v1/monitors/api", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "", nil)
	var health HealthResponse
	json.NewDecoder(rec.Body).Decode(&health)
	if rec.Code != http.StatusOK || health.Store != "connected" || health.StoreDriver != "memory" {
		t.Errorf("health: %d %+v", rec.Code, health)
	}

	rec = f.do(http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready: got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/nowhere", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route: got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/incidents", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
