package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/sentinel/internal/memstore"
	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
)

var epoch = time.Unix(1_700_000_000, 0)

func fixedClock() time.Time { return epoch }

func addMonitor(t *testing.T, st *memstore.Store, id string, interval, timeoutMs int) {
	t.Helper()
	m := &model.Monitor{
		ID:              id,
		TeamID:          "team-1",
		Name:            id,
		Enabled:         true,
		IntervalSeconds: interval,
		TimeoutMs:       timeoutMs,
		Check:           model.CheckSpec{HTTP: &model.HTTPCheck{URL: "https://example.com/" + id}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := st.UpsertMonitor(context.Background(), m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	st.SetLease(id, epoch.Unix()-10, 0)
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Name() string { return queue.CheckJobs }
func (failingQueue) Publish(ctx context.Context, body []byte) error {
	return errors.New("queue unavailable")
}

type panickingQueue struct{ queue.Queue }

func (panickingQueue) Name() string { return queue.CheckJobs }
func (panickingQueue) Publish(ctx context.Context, body []byte) error {
	panic("broker client nil")
}

func TestTickPublishesAndReschedules(t *testing.T) {
	st := memstore.New()
	addMonitor(t, st, "m1", 60, 5000)
	addMonitor(t, st, "m2", 10, 5000) // clamps to 30
	q := queue.NewMemory(queue.CheckJobs, time.Minute)

	s := NewScheduler(Config{}, st, q, metrics.NewRegistry()).WithClock(fixedClock)
	stats := s.Tick(context.Background())

	if stats.Published != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", q.Len())
	}

	m1, _ := st.GetMonitor(context.Background(), "m1")
	m2, _ := st.GetMonitor(context.Background(), "m2")
	if m1.LockedUntil != 0 || m1.NextRunAt != epoch.Unix()+60 {
		t.Fatalf("m1 not rescheduled: %+v", m1)
	}
	if m2.NextRunAt != epoch.Unix()+30 {
		t.Fatalf("m2 interval should clamp to 30s, next_run_at=%d", m2.NextRunAt)
	}

	msgs, _ := q.Receive(context.Background(), 10)
	for _, msg := range msgs {
		job, err := queue.Decode[model.CheckJob](msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if job.JobID == "" || job.Kind != model.KindHTTP || job.Check.HTTP == nil {
			t.Fatalf("malformed job: %+v", job)
		}
	}

	if again := s.Tick(context.Background()); again.Listed != 0 {
		t.Fatalf("rescheduled monitors should not be due, listed %d", again.Listed)
	}
}

func TestPublishFailureForceUnlocks(t *testing.T) {
	for name, q := range map[string]queue.Queue{
		"error": failingQueue{},
		"panic": panickingQueue{},
	} {
		t.Run(name, func(t *testing.T) {
			st := memstore.New()
			addMonitor(t, st, "m1", 60, 5000)
			before, _ := st.GetMonitor(context.Background(), "m1")

			s := NewScheduler(Config{}, st, q, metrics.NewRegistry()).WithClock(fixedClock)
			stats := s.Tick(context.Background())

			if stats.Failed != 1 || stats.Published != 0 {
				t.Fatalf("unexpected stats: %+v", stats)
			}
			m, _ := st.GetMonitor(context.Background(), "m1")
			if m.LockedUntil != 0 {
				t.Fatalf("lease should be force-unlocked, locked_until=%d", m.LockedUntil)
			}
			if m.NextRunAt != before.NextRunAt {
				t.Fatal("next_run_at must not move when the job was never published")
			}
		})
	}
}

type panickingRelease struct{ *memstore.Store }

func (panickingRelease) ReleaseAndReschedule(ctx context.Context, id string, expected, next int64) (bool, error) {
	panic("release exploded")
}

func TestPanicAfterPublishKeepsLease(t *testing.T) {
	st := memstore.New()
	addMonitor(t, st, "m1", 60, 5000)
	q := queue.NewMemory(queue.CheckJobs, time.Minute)

	s := NewScheduler(Config{}, panickingRelease{st}, q, metrics.NewRegistry()).WithClock(fixedClock)
	stats := s.Tick(context.Background())
	if stats.Published != 1 || stats.Failed != 0 {
		t.Fatalf("a published job counts as dispatched: %+v", stats)
	}

	m, _ := st.GetMonitor(context.Background(), "m1")
	if m.LockedUntil <= epoch.Unix() {
		t.Fatalf("lease must stay held until it expires, locked_until=%d", m.LockedUntil)
	}
	if again := s.Tick(context.Background()); again.Published != 0 || q.Len() != 1 {
		t.Fatalf("monitor dispatched twice: %+v queued=%d", again, q.Len())
	}
}

func TestLeaseLengthUsesMarginOrTimeout(t *testing.T) {
	s := NewScheduler(Config{LeaseMargin: 90 * time.Second}, nil, nil, nil)
	now := epoch.Unix()

	short := &model.Monitor{TimeoutMs: 5000}
	if got := s.leaseUntil(short, now); got != now+90 {
		t.Fatalf("short timeout lease = %d, want %d", got-now, 90)
	}

	s.cfg.LeaseMargin = 10 * time.Second
	long := &model.Monitor{TimeoutMs: 29_500}
	if got := s.leaseUntil(long, now); got != now+30 {
		t.Fatalf("timeout should round up, lease = %d", got-now)
	}
}

func TestTickRunsAdditionalBatchesWhenFull(t *testing.T) {
	st := memstore.New()
	for i := 0; i < 5; i++ {
		addMonitor(t, st, fmt.Sprintf("m%d", i), 60, 5000)
	}
	q := queue.NewMemory(queue.CheckJobs, time.Minute)

	s := NewScheduler(Config{BatchSize: 2, MaxBatches: 2}, st, q, nil).WithClock(fixedClock)
	stats := s.Tick(context.Background())
	if stats.Batches != 2 || stats.Published != 4 {
		t.Fatalf("expected 2 full batches, got %+v", stats)
	}

	stats = s.Tick(context.Background())
	if stats.Batches != 1 || stats.Published != 1 {
		t.Fatalf("expected one short batch for the remainder, got %+v", stats)
	}
}

func TestConcurrentSchedulersNeverDoubleDispatch(t *testing.T) {
	st := memstore.New()
	const monitors = 40
	for i := 0; i < monitors; i++ {
		addMonitor(t, st, fmt.Sprintf("m%02d", i), 60, 5000)
	}
	q := queue.NewMemory(queue.CheckJobs, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewScheduler(Config{}, st, q, nil).WithClock(fixedClock).Tick(context.Background())
		}()
	}
	wg.Wait()

	msgs, _ := q.Receive(context.Background(), 1000)
	seen := map[string]int{}
	for _, msg := range msgs {
		job, _ := queue.Decode[model.CheckJob](msg)
		seen[job.MonitorID]++
	}
	if len(seen) != monitors {
		t.Fatalf("expected %d monitors dispatched, got %d", monitors, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("monitor %s dispatched %d times", id, n)
		}
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler(Config{Spec: "not a spec"}, memstore.New(), queue.NewMemory(queue.CheckJobs, time.Minute), nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid cron spec")
	}
	s.Stop(context.Background())
}
