// Package housekeeping runs periodic maintenance that no request path owns.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger evicts dedupe keys older than a cutoff
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor purges expired dedupe keys on a cron schedule
type Janitor struct {
	purger    Purger
	spec      string
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor creates a janitor keeping keys for retention
func NewJanitor(p Purger, spec string, retention time.Duration) *Janitor {
	if spec == "" {
		spec = "@hourly"
	}
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Janitor{purger: p, spec: spec, retention: retention, now: time.Now}
}

// RunOnce purges keys created before now - retention
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dedupe keys: %w", err)
	}
	slog.Debug("Dedupe purge finished", "purged", n, "cutoff", cutoff)
	return n, nil
}

// Start schedules RunOnce
func (j *Janitor) Start(ctx context.Context) error {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := c.AddFunc(j.spec, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			slog.Error("Dedupe housekeeping failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to parse housekeeping spec %q: %w", j.spec, err)
	}

	j.mu.Lock()
	j.cron = c
	j.mu.Unlock()

	slog.Info("Starting housekeeping", "spec", j.spec, "retention", j.retention)
	c.Start()
	return nil
}

// Stop stops the schedule and waits for a running purge
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
