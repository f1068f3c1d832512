package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"
)

func TestRegistryRoundTripsThroughTextFormat(t *testing.T) {
	r := NewRegistry()
	r.Inc(NotificationFailuresTotal, "channel_type", "webhook")
	r.Inc(NotificationFailuresTotal, "channel_type", "webhook")
	r.Inc(NotificationFailuresTotal, "channel_type", "email")
	r.Add(ChecksTotal, 3, "outcome", "pass", "kind", "http")

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	fam, ok := mfs[NotificationFailuresTotal]
	if !ok {
		t.Fatalf("missing %s", NotificationFailuresTotal)
	}
	got := map[string]float64{}
	for _, m := range fam.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if got["webhook"] != 2 || got["email"] != 1 {
		t.Fatalf("unexpected values: %v", got)
	}

	if v := r.Value(ChecksTotal, "kind", "http", "outcome", "pass"); v != 3 {
		t.Fatalf("label order should not matter, got %v", v)
	}
}

func TestHandlerServesText(t *testing.T) {
	r := NewRegistry()
	r.Inc(IncidentsOpenedTotal)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), IncidentsOpenedTotal+" 1") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.Inc(ChecksTotal)
}
