package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/sentinel/internal/memstore"
	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

func setup(t *testing.T, status model.Status, changedAt int64) (*Correlator, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	s := model.NewMonitorState("m1")
	s.LastStatus = status
	s.StatusChangedAt = changedAt
	if ok, _ := st.SaveState(context.Background(), s, 0); !ok {
		t.Fatal("seed state")
	}
	c := NewCorrelator(st, nil, metrics.NewRegistry()).WithClock(func() time.Time { return time.Unix(9999, 0) })
	return c, st
}

func alert(id string, status model.Status, at int64, reason string) model.AlertJob {
	return model.AlertJob{AlertID: id, TeamID: "team-1", MonitorID: "m1", Status: status, OccurredAt: at, Reason: reason}
}

func openIncidents(t *testing.T, st *memstore.Store) []model.Incident {
	t.Helper()
	incs, err := st.ListIncidents(context.Background(), store.IncidentFilter{MonitorID: "m1", Status: model.IncidentOpen})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return incs
}

func TestDownThenUpLifecycle(t *testing.T) {
	c, st := setup(t, model.StatusDown, 60)
	ctx := context.Background()

	res, err := c.Handle(ctx, alert("a-down", model.StatusDown, 60, "HTTP 502"))
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if res.IncidentID != model.IncidentIDFor("a-down") {
		t.Fatalf("unexpected incident id %q", res.IncidentID)
	}
	inc, _ := st.GetIncident(ctx, res.IncidentID)
	if inc.Title != Title || inc.StartedAt != 60 || !inc.IsOpen() {
		t.Fatalf("unexpected incident: %+v", inc)
	}
	state, _ := st.GetState(ctx, "m1")
	if !state.IncidentOpen || state.OpenIncidentID != res.IncidentID {
		t.Fatalf("state flag not set: %+v", state)
	}

	// health moves to up at t=120 before the up alert is handled
	state.LastStatus = model.StatusUp
	state.StatusChangedAt = 120
	st.SaveState(ctx, state, state.Version)

	up, err := c.Handle(ctx, alert("a-up", model.StatusUp, 120, "Recovered"))
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if up.IncidentID != res.IncidentID {
		t.Fatalf("up resolved %q, want %q", up.IncidentID, res.IncidentID)
	}
	inc, _ = st.GetIncident(ctx, res.IncidentID)
	if inc.Status != model.IncidentResolved || inc.ResolvedAt == nil || *inc.ResolvedAt-inc.StartedAt != 60 {
		t.Fatalf("unexpected resolution: %+v", inc)
	}

	updates, _ := st.ListUpdates(ctx, res.IncidentID)
	if len(updates) != 2 || updates[0].Message != "HTTP 502" || updates[1].Message != Recovered {
		t.Fatalf("unexpected timeline: %+v", updates)
	}
	state, _ = st.GetState(ctx, "m1")
	if state.IncidentOpen {
		t.Fatal("incident flag should be cleared")
	}
}

func TestDownRedeliveryIsIdempotent(t *testing.T) {
	c, st := setup(t, model.StatusDown, 60)
	ctx := context.Background()
	a := alert("a-down", model.StatusDown, 60, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Handle(ctx, a); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	open := openIncidents(t, st)
	if len(open) != 1 {
		t.Fatalf("expected one open incident, got %d", len(open))
	}
	updates, _ := st.ListUpdates(ctx, open[0].ID)
	if len(updates) != 1 || updates[0].Message != DefaultOpening {
		t.Fatalf("expected a single default opening update: %+v", updates)
	}
}

func TestSecondDownAppendsToOpenIncident(t *testing.T) {
	c, st := setup(t, model.StatusDown, 60)
	ctx := context.Background()

	first, _ := c.Handle(ctx, alert("a1", model.StatusDown, 60, "HTTP 500"))
	second, err := c.Handle(ctx, alert("a2", model.StatusDown, 90, "HTTP 503"))
	if err != nil {
		t.Fatalf("second down: %v", err)
	}
	if second.IncidentID != first.IncidentID {
		t.Fatal("second down must attach to the open incident")
	}
	if n := len(openIncidents(t, st)); n != 1 {
		t.Fatalf("expected one open incident, got %d", n)
	}
	updates, _ := st.ListUpdates(ctx, first.IncidentID)
	if len(updates) != 2 || updates[1].Message != RepeatedDown+" HTTP 503" {
		t.Fatalf("unexpected timeline: %+v", updates)
	}

	// replaying the second down does not duplicate its update
	c.Handle(ctx, alert("a2", model.StatusDown, 90, "HTTP 503"))
	if updates, _ := st.ListUpdates(ctx, first.IncidentID); len(updates) != 2 {
		t.Fatalf("replay duplicated an update: %d", len(updates))
	}
}

func TestUpWithoutOpenIncidentIsNoop(t *testing.T) {
	c, st := setup(t, model.StatusUp, 10)
	res, err := c.Handle(context.Background(), alert("a-up", model.StatusUp, 10, ""))
	if err != nil || res.IncidentID != "" || res.Stale {
		t.Fatalf("expected a quiet no-op, got %+v %v", res, err)
	}
	if incs, _ := st.ListIncidents(context.Background(), store.IncidentFilter{}); len(incs) != 0 {
		t.Fatal("no incident should exist")
	}
}

func TestStaleDownAfterRecoveryIsDropped(t *testing.T) {
	c, st := setup(t, model.StatusUp, 120)
	res, err := c.Handle(context.Background(), alert("late-down", model.StatusDown, 60, "HTTP 500"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.Stale {
		t.Fatal("a down older than the latest up should be reported stale")
	}
	if n := len(openIncidents(t, st)); n != 0 {
		t.Fatalf("stale down opened %d incidents", n)
	}
}

func TestUpRedeliveryAfterResolve(t *testing.T) {
	c, st := setup(t, model.StatusDown, 60)
	ctx := context.Background()
	down, _ := c.Handle(ctx, alert("d", model.StatusDown, 60, ""))

	for i := 0; i < 3; i++ {
		if _, err := c.Handle(ctx, alert("u", model.StatusUp, 120, "")); err != nil {
			t.Fatalf("up %d: %v", i, err)
		}
	}
	updates, _ := st.ListUpdates(ctx, down.IncidentID)
	if len(updates) != 2 {
		t.Fatalf("expected opening and closing updates only, got %d", len(updates))
	}
}

func TestResolvedAtNeverPrecedesStart(t *testing.T) {
	c, st := setup(t, model.StatusDown, 100)
	ctx := context.Background()
	down, _ := c.Handle(ctx, alert("d", model.StatusDown, 100, ""))

	// down and up inside the same second
	if _, err := c.Handle(ctx, alert("u", model.StatusUp, 100, "")); err != nil {
		t.Fatalf("up: %v", err)
	}
	inc, _ := st.GetIncident(ctx, down.IncidentID)
	if inc.ResolvedAt == nil || *inc.ResolvedAt < inc.StartedAt {
		t.Fatalf("resolved_at %v precedes started_at %d", inc.ResolvedAt, inc.StartedAt)
	}
}

func TestReplayedDownDoesNotReopenResolvedIncident(t *testing.T) {
	c, st := setup(t, model.StatusDown, 60)
	ctx := context.Background()
	down, _ := c.Handle(ctx, alert("d", model.StatusDown, 60, ""))
	c.Handle(ctx, alert("u", model.StatusUp, 120, ""))

	if _, err := c.Handle(ctx, alert("d", model.StatusDown, 60, "")); err != nil {
		t.Fatalf("replay: %v", err)
	}
	state, _ := st.GetState(ctx, "m1")
	if state.IncidentOpen {
		t.Fatal("a replayed down must not leave the flag on a resolved incident")
	}
	inc, _ := st.GetIncident(ctx, down.IncidentID)
	if inc.IsOpen() {
		t.Fatal("resolved incident was reopened")
	}
}

func TestOldUpDoesNotResolveNewerIncident(t *testing.T) {
	c, st := setup(t, model.StatusDown, 60)
	ctx := context.Background()

	c.Handle(ctx, alert("down1", model.StatusDown, 60, ""))
	c.Handle(ctx, alert("up1", model.StatusUp, 120, ""))

	// second outage opens a new incident, then the monitor recovers again
	setState(t, st, model.StatusDown, 180)
	second, err := c.Handle(ctx, alert("down2", model.StatusDown, 180, "HTTP 500"))
	if err != nil {
		t.Fatalf("down2: %v", err)
	}
	setState(t, st, model.StatusUp, 240)

	res, err := c.Handle(ctx, alert("up1", model.StatusUp, 120, ""))
	if err != nil {
		t.Fatalf("redelivered up1: %v", err)
	}
	if !res.Stale {
		t.Fatalf("an up older than the open incident must be stale: %+v", res)
	}
	if inc, _ := st.GetIncident(ctx, second.IncidentID); !inc.IsOpen() {
		t.Fatalf("second incident resolved by an old recovery: %+v", inc)
	}

	if _, err := c.Handle(ctx, alert("up2", model.StatusUp, 240, "")); err != nil {
		t.Fatalf("up2: %v", err)
	}
	inc, _ := st.GetIncident(ctx, second.IncidentID)
	if inc.IsOpen() || inc.ResolvedAt == nil || *inc.ResolvedAt-inc.StartedAt != 60 {
		t.Fatalf("second incident should resolve at 240 after 60s: %+v", inc)
	}
}

func setState(t *testing.T, st *memstore.Store, status model.Status, changedAt int64) {
	t.Helper()
	s, err := st.GetState(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	s.LastStatus = status
	s.StatusChangedAt = changedAt
	if ok, _ := st.SaveState(context.Background(), s, s.Version); !ok {
		t.Fatal("update state")
	}
}
