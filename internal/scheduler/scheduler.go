package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/queue"
	"github.com/dandantas/sentinel/internal/store"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Store is what the scheduler needs from persistence
type Store interface {
	store.LeaseStore
	ListDue(ctx context.Context, now int64, limit int) ([]*model.Monitor, error)
}

// Config tunes the scheduler
type Config struct {
	Spec        string        // cron spec for the tick trigger
	BatchSize   int           // due monitors listed per batch
	MaxBatches  int           // batches per tick while batches come back full
	LeaseMargin time.Duration // minimum lease length
	RepoTimeout time.Duration // per store call
}

func (c *Config) setDefaults() {
	if c.Spec == "" {
		c.Spec = "@every 30s"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 5
	}
	if c.LeaseMargin <= 0 {
		c.LeaseMargin = 90 * time.Second
	}
	if c.RepoTimeout <= 0 {
		c.RepoTimeout = 5 * time.Second
	}
}

// TickStats summarises one tick
type TickStats struct {
	Listed    int
	Claimed   int
	Published int
	LostRace  int
	Failed    int
	Batches   int
}

// Scheduler claims due monitors and publishes a CheckJob for each
type Scheduler struct {
	cfg     Config
	store   Store
	jobs    queue.Queue
	metrics *metrics.Registry
	podID   string
	now     func() time.Time

	cron *cron.Cron
	mu   sync.Mutex
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg Config, st Store, jobs queue.Queue, reg *metrics.Registry) *Scheduler {
	cfg.setDefaults()

	// Get pod identifier (hostname in Kubernetes)
	podID, err := os.Hostname()
	if err != nil {
		podID = uuid.New().String() // Fallback to UUID
		slog.Warn("Failed to get hostname, using UUID as pod ID", "pod_id", podID)
	}

	return &Scheduler{
		cfg:     cfg,
		store:   st,
		jobs:    jobs,
		metrics: reg,
		podID:   podID,
		now:     time.Now,
	}
}

// WithClock replaces the scheduler's clock
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start registers the tick on a cron trigger; overlapping ticks are skipped
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(s.cfg.Spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to parse scheduler spec %q: %w", s.cfg.Spec, err)
	}

	slog.Info("Starting scheduler",
		"pod_id", s.podID,
		"spec", s.cfg.Spec,
		"batch_size", s.cfg.BatchSize,
		"max_batches", s.cfg.MaxBatches,
		"lease_margin", s.cfg.LeaseMargin,
	)

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	return nil
}

// Stop stops the trigger and waits for a running tick to finish
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return
	}

	slog.Info("Stopping scheduler", "pod_id", s.podID)

	select {
	case <-c.Stop().Done():
		slog.Info("Scheduler stopped", "pod_id", s.podID)
	case <-ctx.Done():
		slog.Warn("Timeout waiting for scheduler tick to complete", "pod_id", s.podID)
	}
}

// Tick runs batches until one comes back short or MaxBatches is reached
func (s *Scheduler) Tick(ctx context.Context) TickStats {
	var stats TickStats
	start := s.now()

	for stats.Batches < s.cfg.MaxBatches {
		if ctx.Err() != nil {
			break
		}
		n := s.runBatch(ctx, &stats)
		stats.Batches++
		if n < s.cfg.BatchSize {
			break
		}
	}

	level := slog.LevelDebug
	if stats.Claimed > 0 || stats.Failed > 0 {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "Scheduler tick",
		"pod_id", s.podID,
		"batches", stats.Batches,
		"listed", stats.Listed,
		"claimed", stats.Claimed,
		"published", stats.Published,
		"lost_race", stats.LostRace,
		"failed", stats.Failed,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return stats
}

// runBatch lists and dispatches one batch, returning how many were listed
func (s *Scheduler) runBatch(ctx context.Context, stats *TickStats) int {
	now := s.now().Unix()

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.RepoTimeout)
	due, err := s.store.ListDue(listCtx, now, s.cfg.BatchSize)
	cancel()
	if err != nil {
		slog.Error("Failed to list due monitors", "pod_id", s.podID, "error", err)
		return 0
	}
	stats.Listed += len(due)

	for _, m := range due {
		switch s.dispatch(ctx, m, now) {
		case dispatched:
			stats.Claimed++
			stats.Published++
		case lostRace:
			stats.LostRace++
		case claimedNotPublished:
			stats.Claimed++
			stats.Failed++
		case claimFailed:
			stats.Failed++
		}
	}
	return len(due)
}

type dispatchResult int

const (
	dispatched dispatchResult = iota
	lostRace
	claimedNotPublished
	claimFailed
)

// leaseUntil is now + max(ceil(timeout), margin), in epoch seconds
func (s *Scheduler) leaseUntil(m *model.Monitor, now int64) int64 {
	timeoutSec := int64(math.Ceil(float64(model.ClampTimeoutMs(m.TimeoutMs)) / 1000))
	margin := int64(math.Ceil(s.cfg.LeaseMargin.Seconds()))
	if timeoutSec > margin {
		return now + timeoutSec
	}
	return now + margin
}

// dispatch claims one monitor, publishes its job and reschedules it.
// A claimed lease is force-unlocked if publishing fails or panics; after a
// successful publish it is only ever released with a reschedule or left to
// expire.
func (s *Scheduler) dispatch(ctx context.Context, m *model.Monitor, now int64) (result dispatchResult) {
	leaseUntil := s.leaseUntil(m, now)

	claimCtx, cancel := context.WithTimeout(ctx, s.cfg.RepoTimeout)
	claimed, err := s.store.Claim(claimCtx, m.ID, now, leaseUntil)
	cancel()
	if err != nil {
		slog.Error("Failed to claim monitor", "monitor_id", m.ID, "pod_id", s.podID, "error", err)
		return claimFailed
	}
	if !claimed {
		slog.Debug("Monitor claimed by another scheduler", "monitor_id", m.ID, "pod_id", s.podID)
		return lostRace
	}
	s.metrics.Inc(metrics.LeasesClaimedTotal)

	published := false
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Recovered panic while dispatching monitor", "monitor_id", m.ID, "published", published, "panic", rec)
			result = claimedNotPublished
			if published {
				result = dispatched
			}
		}
		// once the job is out the lease is left to expire, never reopened early
		if !published {
			s.forceUnlock(m.ID, leaseUntil)
		}
	}()

	job := model.NewCheckJob(uuid.NewString(), m, now)
	pubCtx, cancelPub := context.WithTimeout(ctx, s.cfg.RepoTimeout)
	err = queue.PublishJSON(pubCtx, s.jobs, job)
	cancelPub()
	if err != nil {
		slog.Error("Failed to publish check job",
			"monitor_id", m.ID,
			"job_id", job.JobID,
			"pod_id", s.podID,
			"error", err,
		)
		return claimedNotPublished
	}
	published = true

	next := now + int64(model.ClampInterval(m.IntervalSeconds))
	relCtx, cancelRel := context.WithTimeout(ctx, s.cfg.RepoTimeout)
	ok, err := s.store.ReleaseAndReschedule(relCtx, m.ID, leaseUntil, next)
	cancelRel()
	switch {
	case err != nil:
		// the lease expires on its own; the job is already out
		slog.Error("Failed to release lease", "monitor_id", m.ID, "pod_id", s.podID, "error", err)
	case !ok:
		s.metrics.Inc(metrics.LeaseLostTotal)
		slog.Warn("Lease was replaced before release", "monitor_id", m.ID, "pod_id", s.podID)
	default:
		slog.Debug("Dispatched check job",
			"monitor_id", m.ID,
			"job_id", job.JobID,
			"next_run_at", next,
		)
	}
	return dispatched
}

// forceUnlock runs on a detached context so a cancelled tick still unlocks
func (s *Scheduler) forceUnlock(monitorID string, leaseUntil int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RepoTimeout)
	defer cancel()

	ok, err := s.store.ForceUnlock(ctx, monitorID, leaseUntil)
	if err != nil {
		slog.Error("Failed to force unlock monitor", "monitor_id", monitorID, "pod_id", s.podID, "error", err)
		return
	}
	if !ok {
		slog.Warn("Force unlock found a newer lease", "monitor_id", monitorID, "pod_id", s.podID)
	}
}
