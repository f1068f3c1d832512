package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dandantas/sentinel/internal/memstore"
	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTracker(t *testing.T) (*Tracker, *memstore.Store, *queue.Memory, *testClock) {
	t.Helper()
	clk := &testClock{t: time.Unix(0, 0)}
	st := memstore.New()
	q := queue.NewMemory(queue.AlertJobs, time.Minute)
	tr := NewTracker(st, q, nil, metrics.NewRegistry()).WithClock(clk.now)
	return tr, st, q, clk
}

func job(id string, threshold int, enqueuedAt int64) model.CheckJob {
	return model.CheckJob{
		JobID:            id,
		TeamID:           "team-1",
		MonitorID:        "m1",
		Kind:             model.KindHTTP,
		FailureThreshold: threshold,
		EnqueuedAt:       enqueuedAt,
	}
}

func drain(t *testing.T, q *queue.Memory) []model.AlertJob {
	t.Helper()
	msgs, err := q.Receive(context.Background(), 100)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	out := make([]model.AlertJob, 0, len(msgs))
	for _, m := range msgs {
		a, err := queue.Decode[model.AlertJob](m)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		q.Ack(context.Background(), m.ID)
		out = append(out, a)
	}
	return out
}

func TestTrackerThresholdTwoScenario(t *testing.T) {
	tr, st, q, clk := newTracker(t)
	ctx := context.Background()

	tr.Record(ctx, job("j0", 2, 0), model.Fail(0, "HTTP 500"))
	if got := drain(t, q); len(got) != 0 {
		t.Fatalf("first failure must not alert: %+v", got)
	}

	clk.t = time.Unix(60, 0)
	if err := tr.Record(ctx, job("j60", 2, 60), model.Fail(0, "HTTP 502")); err != nil {
		t.Fatalf("record: %v", err)
	}
	down := drain(t, q)
	if len(down) != 1 || down[0].Status != model.StatusDown || down[0].Reason != "HTTP 502" || down[0].OccurredAt != 60 {
		t.Fatalf("unexpected down alerts: %+v", down)
	}
	if down[0].AlertID != model.AlertIDFor("j60", model.StatusDown) || down[0].ConsecutiveFailures != 2 {
		t.Fatalf("unexpected alert fields: %+v", down[0])
	}

	clk.t = time.Unix(120, 0)
	tr.Record(ctx, job("j120", 2, 120), model.Pass(time.Millisecond))
	up := drain(t, q)
	if len(up) != 1 || up[0].Status != model.StatusUp || up[0].OccurredAt != 120 {
		t.Fatalf("unexpected up alerts: %+v", up)
	}

	s, _ := st.GetState(ctx, "m1")
	if s.LastStatus != model.StatusUp || s.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected final state: %+v", s)
	}
}

func TestTrackerRedeliveryDoesNotRecount(t *testing.T) {
	tr, st, q, _ := newTracker(t)
	ctx := context.Background()

	j := job("j1", 3, 0)
	for i := 0; i < 4; i++ {
		if err := tr.Record(ctx, j, model.Fail(0, "boom")); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	s, _ := st.GetState(ctx, "m1")
	if s.ConsecutiveFailures != 1 {
		t.Fatalf("redelivered job counted %d times", s.ConsecutiveFailures)
	}
	if len(drain(t, q)) != 0 {
		t.Fatal("no alert expected")
	}
}

func TestTrackerReplayDoesNotRepublishDeliveredAlert(t *testing.T) {
	tr, st, q, _ := newTracker(t)
	ctx := context.Background()

	j := job("j1", 1, 0)
	tr.Record(ctx, j, model.Fail(0, "HTTP 503"))
	tr.Record(ctx, j, model.Fail(0, "HTTP 503"))

	alerts := drain(t, q)
	if len(alerts) != 1 || alerts[0].AlertID != model.AlertIDFor("j1", model.StatusDown) {
		t.Fatalf("expected a single down alert, got %+v", alerts)
	}
	s, _ := st.GetState(ctx, "m1")
	if s.PendingAlert != nil {
		t.Fatalf("published alert still pending: %+v", s.PendingAlert)
	}
}

func TestTrackerDropsOutOfOrderJob(t *testing.T) {
	tr, st, _, _ := newTracker(t)
	ctx := context.Background()

	tr.Record(ctx, job("new", 3, 200), model.Pass(0))
	tr.Record(ctx, job("old", 3, 100), model.Fail(0, "late"))

	s, _ := st.GetState(ctx, "m1")
	if s.ConsecutiveFailures != 0 || s.LastJobID != "new" {
		t.Fatalf("stale job should be ignored: %+v", s)
	}
}

type conflictingStore struct {
	*memstore.Store
	conflicts int
}

func (c *conflictingStore) SaveState(ctx context.Context, s *model.MonitorState, v int64) (bool, error) {
	if c.conflicts > 0 {
		c.conflicts--
		return false, nil
	}
	return c.Store.SaveState(ctx, s, v)
}

func TestTrackerRetriesOnConflict(t *testing.T) {
	q := queue.NewMemory(queue.AlertJobs, time.Minute)

	cs := &conflictingStore{Store: memstore.New(), conflicts: 2}
	if err := NewTracker(cs, q, nil, nil).Record(context.Background(), job("j1", 3, 0), model.Fail(0, "x")); err != nil {
		t.Fatalf("record should succeed after retries: %v", err)
	}

	cs = &conflictingStore{Store: memstore.New(), conflicts: maxSaveAttempts}
	err := NewTracker(cs, q, nil, nil).Record(context.Background(), job("j1", 3, 0), model.Fail(0, "x"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Name() string { return queue.AlertJobs }
func (failingQueue) Publish(context.Context, []byte) error {
	return errors.New("queue down")
}

func TestTrackerPublishFailureIsRetriedByReplay(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	j := job("j1", 1, 0)

	if err := NewTracker(st, failingQueue{}, nil, nil).Record(ctx, j, model.Fail(0, "x")); err == nil {
		t.Fatal("publish failure must surface so the job is redelivered")
	}
	if s, _ := st.GetState(ctx, "m1"); s.PendingAlert == nil || s.PendingAlert.Status != model.StatusDown {
		t.Fatalf("unpublished alert should be kept on the state: %+v", s)
	}

	q := queue.NewMemory(queue.AlertJobs, time.Minute)
	if err := NewTracker(st, q, nil, nil).Record(ctx, j, model.Fail(0, "x")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	alerts := drain(t, q)
	if len(alerts) != 1 || alerts[0].Status != model.StatusDown {
		t.Fatalf("redelivery should publish the pending alert: %+v", alerts)
	}
	s, _ := st.GetState(ctx, "m1")
	if s.ConsecutiveFailures != 1 {
		t.Fatalf("redelivery re-counted: %d", s.ConsecutiveFailures)
	}
}

func TestTrackerPendingAlertSurvivesNewerJobs(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	failing := NewTracker(st, failingQueue{}, nil, nil).WithClock(func() time.Time { return time.Unix(100, 0) })
	if err := failing.Record(ctx, job("j100", 1, 100), model.Fail(0, "HTTP 503")); err == nil {
		t.Fatal("expected publish failure")
	}

	q := queue.NewMemory(queue.AlertJobs, time.Minute)
	tr := NewTracker(st, q, nil, nil).WithClock(func() time.Time { return time.Unix(130, 0) })

	// a newer result lands before the failed job is redelivered
	if err := tr.Record(ctx, job("j130", 1, 130), model.Fail(0, "HTTP 502")); err != nil {
		t.Fatalf("record newer job: %v", err)
	}
	if err := tr.Record(ctx, job("j100", 1, 100), model.Fail(0, "HTTP 503")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	alerts := drain(t, q)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly the pending down alert, got %+v", alerts)
	}
	if alerts[0].AlertID != model.AlertIDFor("j100", model.StatusDown) || alerts[0].Reason != "HTTP 503" {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
	s, _ := st.GetState(ctx, "m1")
	if s.LastStatus != model.StatusDown || s.PendingAlert != nil || s.LastJobID != "j130" {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestTrackerPendingDownPrecedesNewerRecovery(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	failing := NewTracker(st, failingQueue{}, nil, nil).WithClock(func() time.Time { return time.Unix(100, 0) })
	if err := failing.Record(ctx, job("j100", 1, 100), model.Fail(0, "HTTP 503")); err == nil {
		t.Fatal("expected publish failure")
	}

	q := queue.NewMemory(queue.AlertJobs, time.Minute)
	tr := NewTracker(st, q, nil, nil).WithClock(func() time.Time { return time.Unix(160, 0) })
	if err := tr.Record(ctx, job("j160", 1, 160), model.Pass(time.Millisecond)); err != nil {
		t.Fatalf("record recovery: %v", err)
	}

	alerts := drain(t, q)
	if len(alerts) != 2 || alerts[0].Status != model.StatusDown || alerts[1].Status != model.StatusUp {
		t.Fatalf("expected down then up, got %+v", alerts)
	}
	if alerts[0].OccurredAt != 100 || alerts[1].OccurredAt != 160 {
		t.Fatalf("alerts carry their own transition times: %+v", alerts)
	}
}
