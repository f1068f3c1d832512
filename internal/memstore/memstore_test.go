package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

func seedMonitor(t *testing.T, s *Store, id string, nextRunAt int64) {
	t.Helper()
	m := &model.Monitor{
		ID:      id,
		TeamID:  "team-1",
		Name:    id,
		Enabled: true,
		Check:   model.CheckSpec{HTTP: &model.HTTPCheck{URL: "https://example.com"}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := s.UpsertMonitor(context.Background(), m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s.SetLease(id, nextRunAt, 0)
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	s := New()
	seedMonitor(t, s, "m1", 100)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(context.Background(), "m1", 100, 190)
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", wins)
	}
}

func TestClaimAfterLeaseExpiry(t *testing.T) {
	s := New()
	seedMonitor(t, s, "m1", 100)
	ctx := context.Background()

	if ok, _ := s.Claim(ctx, "m1", 100, 190); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := s.Claim(ctx, "m1", 150, 240); ok {
		t.Fatal("claim during live lease should fail")
	}
	if ok, _ := s.Claim(ctx, "m1", 190, 280); !ok {
		t.Fatal("claim at lease expiry should succeed")
	}
}

func TestStaleReleaseDoesNotClobberNewerLease(t *testing.T) {
	s := New()
	seedMonitor(t, s, "m1", 100)
	ctx := context.Background()

	s.Claim(ctx, "m1", 100, 190)
	// first holder stalls; lease expires and a second holder claims
	if ok, _ := s.Claim(ctx, "m1", 200, 290); !ok {
		t.Fatal("reclaim after expiry should succeed")
	}

	ok, err := s.ReleaseAndReschedule(ctx, "m1", 190, 260)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok {
		t.Fatal("stale release must report false")
	}
	if ok, _ := s.ForceUnlock(ctx, "m1", 190); ok {
		t.Fatal("stale force unlock must report false")
	}

	m, _ := s.GetMonitor(ctx, "m1")
	if m.LockedUntil != 290 || m.NextRunAt != 100 {
		t.Fatalf("newer lease corrupted: locked_until=%d next_run_at=%d", m.LockedUntil, m.NextRunAt)
	}

	if ok, _ := s.ReleaseAndReschedule(ctx, "m1", 290, 260); !ok {
		t.Fatal("current holder release should succeed")
	}
	m, _ = s.GetMonitor(ctx, "m1")
	if m.LockedUntil != 0 || m.NextRunAt != 260 {
		t.Fatalf("unexpected lease after release: locked_until=%d next_run_at=%d", m.LockedUntil, m.NextRunAt)
	}
}

func TestListDueOrdersOldestFirst(t *testing.T) {
	s := New()
	seedMonitor(t, s, "late", 90)
	seedMonitor(t, s, "early", 10)
	seedMonitor(t, s, "future", 500)
	seedMonitor(t, s, "mid", 50)
	s.SetLease("mid", 50, 400) // leased

	due, err := s.ListDue(context.Background(), 100, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 || due[0].ID != "early" || due[1].ID != "late" {
		ids := make([]string, 0, len(due))
		for _, m := range due {
			ids = append(ids, m.ID)
		}
		t.Fatalf("unexpected due set: %v", ids)
	}
}

func TestDedupeFirstWriterWins(t *testing.T) {
	s := New()
	key := model.DedupeKey("a1", "p1")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Acquire(context.Background(), key); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}

func TestDedupePurge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return now })
	ctx := context.Background()

	s.Acquire(ctx, "old")
	now = now.Add(72 * time.Hour)
	s.Acquire(ctx, "new")

	n, err := s.Purge(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged key, got %d", n)
	}
	if ok, _ := s.Acquire(ctx, "old"); !ok {
		t.Fatal("purged key should be acquirable again")
	}
	if ok, _ := s.Acquire(ctx, "new"); ok {
		t.Fatal("retained key should still block")
	}
}

func TestSaveStateVersioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	st := model.NewMonitorState("m1")
	st.LastStatus = model.StatusUp
	if ok, _ := s.SaveState(ctx, st, 0); !ok {
		t.Fatal("insert at version 0 should succeed")
	}
	if ok, _ := s.SaveState(ctx, st, 0); ok {
		t.Fatal("stale version should conflict")
	}
	if ok, _ := s.MarkIncidentOpen(ctx, "m1", "inc-1"); !ok {
		t.Fatal("mark open should succeed")
	}
	st.LastStatus = model.StatusDown
	if ok, _ := s.SaveState(ctx, st, 1); !ok {
		t.Fatal("save at current version should succeed")
	}

	got, _ := s.GetState(ctx, "m1")
	if !got.IncidentOpen || got.OpenIncidentID != "inc-1" {
		t.Fatal("health save must not touch incident columns")
	}
	if got.Version != 2 || got.LastStatus != model.StatusDown {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestIncidentFlagConditions(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SaveState(ctx, model.NewMonitorState("m1"), 0)

	cases := []struct {
		name string
		fn   func() (bool, error)
		want bool
	}{
		{"open first", func() (bool, error) { return s.MarkIncidentOpen(ctx, "m1", "a") }, true},
		{"reopen same id", func() (bool, error) { return s.MarkIncidentOpen(ctx, "m1", "a") }, true},
		{"open other id", func() (bool, error) { return s.MarkIncidentOpen(ctx, "m1", "b") }, false},
		{"close other id", func() (bool, error) { return s.MarkIncidentClosed(ctx, "m1", "b") }, false},
		{"close open id", func() (bool, error) { return s.MarkIncidentClosed(ctx, "m1", "a") }, true},
		{"close twice", func() (bool, error) { return s.MarkIncidentClosed(ctx, "m1", "a") }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDeleteMonitorCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedMonitor(t, s, "m1", 0)
	s.UpsertPolicy(ctx, &model.NotificationPolicy{ID: "p1", MonitorID: "m1"})
	s.CreateIncident(ctx, &model.Incident{ID: "i1", MonitorID: "m1", Status: model.IncidentOpen})
	s.AppendUpdate(ctx, &model.IncidentUpdate{ID: "u1", IncidentID: "i1"})

	if err := s.DeleteMonitor(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetState(ctx, "m1"); err != store.ErrNotFound {
		t.Fatalf("state should be gone, got %v", err)
	}
	if ps, _ := s.ListPolicies(ctx, "m1"); len(ps) != 0 {
		t.Fatal("policies should be gone")
	}
	if _, err := s.GetIncident(ctx, "i1"); err != store.ErrNotFound {
		t.Fatal("incident should be gone")
	}
	if us, _ := s.ListUpdates(ctx, "i1"); len(us) != 0 {
		t.Fatal("updates should be gone")
	}
	if err := s.DeleteMonitor(ctx, "m1"); err != store.ErrNotFound {
		t.Fatalf("second delete: %v", err)
	}
}

func TestResolveClampsToStart(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateIncident(ctx, &model.Incident{ID: "i1", Status: model.IncidentOpen, StartedAt: 500})

	if ok, _ := s.ResolveIncident(ctx, "i1", 400); !ok {
		t.Fatal("resolve should succeed")
	}
	inc, _ := s.GetIncident(ctx, "i1")
	if inc.ResolvedAt == nil || *inc.ResolvedAt != 500 {
		t.Fatalf("resolved_at should clamp to started_at, got %v", inc.ResolvedAt)
	}
	if ok, _ := s.ResolveIncident(ctx, "i1", 900); ok {
		t.Fatal("second resolve should be a no-op")
	}
}

func ExampleStore_Claim() {
	s := New()
	m := &model.Monitor{ID: "m1", TeamID: "t", Name: "n", Enabled: true,
		Check: model.CheckSpec{HTTP: &model.HTTPCheck{URL: "https://example.com"}}}
	_ = m.Validate()
	_ = s.UpsertMonitor(context.Background(), m)

	ok, _ := s.Claim(context.Background(), "m1", 0, 90)
	again, _ := s.Claim(context.Background(), "m1", 10, 100)
	fmt.Println(ok, again)
	// Output: true false
}
