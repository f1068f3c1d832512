// Package metrics keeps process counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Counter names exported by the engine
const (
	ChecksTotal               = "sentinel_checks_total"
	TransitionsTotal          = "sentinel_transitions_total"
	LeasesClaimedTotal        = "sentinel_leases_claimed_total"
	LeaseLostTotal            = "sentinel_lease_lost_total"
	NotificationsSentTotal    = "sentinel_notifications_sent_total"
	NotificationFailuresTotal = "sentinel_notification_failures_total"
	NotificationDuplicates    = "sentinel_notification_duplicates_total"
	IncidentsOpenedTotal      = "sentinel_incidents_opened_total"
	IncidentsResolvedTotal    = "sentinel_incidents_resolved_total"
	QueueDeadLettersTotal     = "sentinel_queue_dead_letters_total"
)

var help = map[string]string{
	ChecksTotal:               "Probes completed, by kind and outcome.",
	TransitionsTotal:          "Health transitions emitted, by status.",
	LeasesClaimedTotal:        "Monitor leases won by this process.",
	LeaseLostTotal:            "Lease releases that found a newer lease in place.",
	NotificationsSentTotal:    "Notifications delivered, by channel type.",
	NotificationFailuresTotal: "Notifications whose delivery failed after the dedupe key was consumed.",
	NotificationDuplicates:    "Notifications skipped because the dedupe key was already present.",
	IncidentsOpenedTotal:      "Incidents opened.",
	IncidentsResolvedTotal:    "Incidents resolved.",
	QueueDeadLettersTotal:     "Messages dropped after exceeding the attempt limit, by queue.",
}

type series struct {
	labels []*dto.LabelPair
	value  float64
}

// Registry is a concurrency-safe set of labelled counters
type Registry struct {
	mu       sync.Mutex
	counters map[string]map[string]*series
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]map[string]*series)}
}

// Default is the process-wide registry
var Default = NewRegistry()

// Inc adds one to the counter identified by name and label pairs (k1, v1, k2, v2, ...)
func (r *Registry) Inc(name string, kv ...string) {
	r.Add(name, 1, kv...)
}

// Add adds delta to a counter
func (r *Registry) Add(name string, delta float64, kv ...string) {
	if r == nil {
		return
	}
	key, pairs := labelKey(kv)

	r.mu.Lock()
	defer r.mu.Unlock()

	fam, ok := r.counters[name]
	if !ok {
		fam = make(map[string]*series)
		r.counters[name] = fam
	}
	s, ok := fam[key]
	if !ok {
		s = &series{labels: pairs}
		fam[key] = s
	}
	s.value += delta
}

// Value returns the current value of one series
func (r *Registry) Value(name string, kv ...string) float64 {
	key, _ := labelKey(kv)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.counters[name][key]; ok {
		return s.value
	}
	return 0
}

// Gather snapshots every counter as a metric family, sorted by name
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		fam := r.counters[name]
		keys := make([]string, 0, len(fam))
		for k := range fam {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		mf := &dto.MetricFamily{
			Name: proto.String(name),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		if h, ok := help[name]; ok {
			mf.Help = proto.String(h)
		}
		for _, k := range keys {
			s := fam[k]
			mf.Metric = append(mf.Metric, &dto.Metric{
				Label:   s.labels,
				Counter: &dto.Counter{Value: proto.Float64(s.value)},
			})
		}
		out = append(out, mf)
	}
	return out
}

// WriteText renders the registry in the text exposition format
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Gather() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the registry for scraping
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := r.WriteText(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func labelKey(kv []string) (string, []*dto.LabelPair) {
	if len(kv)%2 != 0 {
		kv = append(kv, "")
	}
	pairs := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].GetName() < pairs[j].GetName() })

	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p.GetName())
		b.WriteByte('=')
		b.WriteString(p.GetValue())
		b.WriteByte(',')
	}
	return b.String(), pairs
}
