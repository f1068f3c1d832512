// Package memstore is an in-process store.Backend used by tests and by
// single-node deployments started with STORE_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/store"
)

var _ store.Backend = (*Store)(nil)

// Store keeps every record behind one mutex
type Store struct {
	mu        sync.Mutex
	monitors  map[string]*model.Monitor
	states    map[string]*model.MonitorState
	incidents map[string]*model.Incident
	updates   map[string]*model.IncidentUpdate
	channels  map[string]*model.NotificationChannel
	policies  map[string]*model.NotificationPolicy
	dedupe    map[string]time.Time
	now       func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		monitors:  make(map[string]*model.Monitor),
		states:    make(map[string]*model.MonitorState),
		incidents: make(map[string]*model.Incident),
		updates:   make(map[string]*model.IncidentUpdate),
		channels:  make(map[string]*model.NotificationChannel),
		policies:  make(map[string]*model.NotificationPolicy),
		dedupe:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for dedupe and state timestamps
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Migrate(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error    { return nil }
func (s *Store) Close(ctx context.Context) error   { return nil }

// Claim implements store.LeaseStore
func (s *Store) Claim(ctx context.Context, monitorID string, now, leaseUntil int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok || !m.IsDue(now) {
		return false, nil
	}
	m.LockedUntil = leaseUntil
	return true, nil
}

// ReleaseAndReschedule implements store.LeaseStore
func (s *Store) ReleaseAndReschedule(ctx context.Context, monitorID string, expectedLeaseUntil, nextRunAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok || m.LockedUntil != expectedLeaseUntil {
		return false, nil
	}
	m.NextRunAt = nextRunAt
	m.LockedUntil = 0
	return true, nil
}

// ForceUnlock implements store.LeaseStore
func (s *Store) ForceUnlock(ctx context.Context, monitorID string, expectedLeaseUntil int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok || m.LockedUntil != expectedLeaseUntil {
		return false, nil
	}
	m.LockedUntil = 0
	return true, nil
}

// ListDue returns due monitors, oldest next_run_at first
func (s *Store) ListDue(ctx context.Context, now int64, limit int) ([]*model.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*model.Monitor, 0)
	for _, m := range s.monitors {
		if m.IsDue(now) {
			cp := *m
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRunAt == due[j].NextRunAt {
			return due[i].ID < due[j].ID
		}
		return due[i].NextRunAt < due[j].NextRunAt
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// UpsertMonitor keeps the lease fields of an existing monitor
func (s *Store) UpsertMonitor(ctx context.Context, m *model.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	if existing, ok := s.monitors[m.ID]; ok {
		cp.NextRunAt = existing.NextRunAt
		cp.LockedUntil = existing.LockedUntil
		cp.LastHeartbeatAt = existing.LastHeartbeatAt
		cp.LastReport = existing.LastReport
	}
	s.monitors[m.ID] = &cp
	if _, ok := s.states[m.ID]; !ok {
		s.states[m.ID] = model.NewMonitorState(m.ID)
	}
	return nil
}

func (s *Store) DeleteMonitor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.monitors[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.monitors, id)
	delete(s.states, id)
	for pid, p := range s.policies {
		if p.MonitorID == id {
			delete(s.policies, pid)
		}
	}
	for iid, inc := range s.incidents {
		if inc.MonitorID != id {
			continue
		}
		for uid, u := range s.updates {
			if u.IncidentID == iid {
				delete(s.updates, uid)
			}
		}
		delete(s.incidents, iid)
	}
	return nil
}

func (s *Store) RecordHeartbeat(ctx context.Context, id string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return store.ErrNotFound
	}
	m.LastHeartbeatAt = at
	return nil
}

func (s *Store) RecordReport(ctx context.Context, id string, report model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return store.ErrNotFound
	}
	r := report
	m.LastReport = &r
	return nil
}

func (s *Store) GetState(ctx context.Context, monitorID string) (*model.MonitorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[monitorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// SaveState writes health columns only; incident columns are preserved
func (s *Store) SaveState(ctx context.Context, next *model.MonitorState, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.states[next.MonitorID]
	if !ok {
		if expectedVersion != 0 {
			return false, nil
		}
		cur = model.NewMonitorState(next.MonitorID)
		s.states[next.MonitorID] = cur
	}
	if cur.Version != expectedVersion {
		return false, nil
	}

	cur.LastCheckedAt = next.LastCheckedAt
	cur.LastStatus = next.LastStatus
	cur.LastLatencyMs = next.LastLatencyMs
	cur.ConsecutiveFailures = next.ConsecutiveFailures
	cur.LastError = next.LastError
	cur.StatusChangedAt = next.StatusChangedAt
	cur.LastJobID = next.LastJobID
	cur.LastJobEnqueuedAt = next.LastJobEnqueuedAt
	cur.LastTransition = next.LastTransition
	cur.LastAlertID = next.LastAlertID
	cur.PendingAlert = nil
	if next.PendingAlert != nil {
		a := *next.PendingAlert
		cur.PendingAlert = &a
	}
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) MarkIncidentOpen(ctx context.Context, monitorID, incidentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[monitorID]
	if !ok {
		return false, nil
	}
	if st.IncidentOpen && st.OpenIncidentID != incidentID {
		return false, nil
	}
	st.IncidentOpen = true
	st.OpenIncidentID = incidentID
	return true, nil
}

func (s *Store) MarkIncidentClosed(ctx context.Context, monitorID, incidentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[monitorID]
	if !ok || !st.IncidentOpen || st.OpenIncidentID != incidentID {
		return false, nil
	}
	st.IncidentOpen = false
	st.OpenIncidentID = ""
	return true, nil
}

func (s *Store) CreateIncident(ctx context.Context, inc *model.Incident) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[inc.ID]; ok {
		return false, nil
	}
	cp := *inc
	s.incidents[inc.ID] = &cp
	return true, nil
}

func (s *Store) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (s *Store) ResolveIncident(ctx context.Context, id string, resolvedAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok || inc.Status != model.IncidentOpen {
		return false, nil
	}
	at := resolvedAt
	if at < inc.StartedAt {
		at = inc.StartedAt
	}
	inc.Status = model.IncidentResolved
	inc.ResolvedAt = &at
	return true, nil
}

func (s *Store) AppendUpdate(ctx context.Context, u *model.IncidentUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.updates[u.ID]; ok {
		return false, nil
	}
	cp := *u
	s.updates[u.ID] = &cp
	return true, nil
}

func (s *Store) ListUpdates(ctx context.Context, incidentID string) ([]model.IncidentUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.IncidentUpdate, 0)
	for _, u := range s.updates {
		if u.IncidentID == incidentID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

// ListIncidents returns matching incidents, newest first
func (s *Store) ListIncidents(ctx context.Context, filter store.IncidentFilter) ([]model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Incident, 0)
	for _, inc := range s.incidents {
		if filter.MonitorID != "" && inc.MonitorID != filter.MonitorID {
			continue
		}
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListPolicies(ctx context.Context, monitorID string) ([]model.NotificationPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.NotificationPolicy, 0)
	for _, p := range s.policies {
		if p.MonitorID == monitorID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (*model.NotificationChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpsertChannel(ctx context.Context, c *model.NotificationChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.channels[c.ID] = &cp
	return nil
}

func (s *Store) UpsertPolicy(ctx context.Context, p *model.NotificationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *Store) Acquire(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dedupe[key]; ok {
		return false, nil
	}
	s.dedupe[key] = s.now().UTC()
	return true, nil
}

func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, at := range s.dedupe {
		if at.Before(cutoff) {
			delete(s.dedupe, k)
			n++
		}
	}
	return n, nil
}

// SetLease overwrites lease fields directly; tests use it to stage races
func (s *Store) SetLease(monitorID string, nextRunAt, lockedUntil int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.monitors[monitorID]; ok {
		m.NextRunAt = nextRunAt
		m.LockedUntil = lockedUntil
	}
}
