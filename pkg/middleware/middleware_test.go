package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCorrelationIDPropagates(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"inbound correlation id", CorrelationHeader, "abc-123", "abc-123"},
		{"inbound request id", "X-Request-ID", "req-9", "req-9"},
		{"minted", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatal("expected a correlation id in context")
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("got %q, want %q", seen, tt.want)
			}
			if rec.Header().Get(CorrelationHeader) != seen {
				t.Errorf("response header %q does not match context %q", rec.Header().Get(CorrelationHeader), seen)
			}
		})
	}
}

func TestRecoveryReturnsJSON500(t *testing.T) {
	h := CorrelationID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-1")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "corr-1") {
		t.Errorf("body should carry the correlation id: %s", rec.Body.String())
	}
}

func TestLoggingPassesThroughStatus(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("got %d", rec.Code)
	}
}
