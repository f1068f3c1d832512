package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dandantas/sentinel/internal/checker"
	"github.com/dandantas/sentinel/internal/config"
	"github.com/dandantas/sentinel/internal/handler"
	"github.com/dandantas/sentinel/internal/health"
	"github.com/dandantas/sentinel/internal/housekeeping"
	"github.com/dandantas/sentinel/internal/hub"
	"github.com/dandantas/sentinel/internal/incident"
	"github.com/dandantas/sentinel/internal/metrics"
	"github.com/dandantas/sentinel/internal/model"
	"github.com/dandantas/sentinel/internal/notify"
	"github.com/dandantas/sentinel/internal/queue"
	"github.com/dandantas/sentinel/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

// App is one engine process: HTTP API, scheduler, both queue consumers and
// housekeeping, sharing a backend
type App struct {
	cfg     *config.Config
	backend *Backend

	Metrics   *metrics.Registry
	Hub       *hub.Hub
	Scheduler *scheduler.Scheduler
	Janitor   *housekeeping.Janitor
	Server    *http.Server

	checks *queue.Consumer
	alerts *queue.Consumer
}

// NewScheduler builds the scheduler alone, for one-shot ticks
func NewScheduler(cfg *config.Config, b *Backend, reg *metrics.Registry) *scheduler.Scheduler {
	return scheduler.NewScheduler(scheduler.Config{
		Spec:        cfg.SchedulerSpec,
		BatchSize:   cfg.SchedulerBatchSize,
		MaxBatches:  cfg.SchedulerMaxBatches,
		LeaseMargin: cfg.SchedulerLeaseMargin,
	}, b.Store, b.Checks, reg)
}

// NewNotifier registers every channel type the configuration supports
func NewNotifier(cfg *config.Config, b *Backend, reg *metrics.Registry) *notify.Dispatcher {
	client := notify.NewHTTPClient(cfg.DefaultWebhookTimeout)
	breakers := notify.BreakerConfig{}

	d := notify.NewDispatcher(b.Store, reg).
		Register(model.ChannelWebhook, notify.NewWebhookChannel(client, breakers)).
		Register(model.ChannelSlack, notify.NewSlackChannel(client, breakers)).
		Register(model.ChannelTeams, notify.NewTeamsChannel(client, breakers))

	if cfg.SMTPAddr != "" {
		d.Register(model.ChannelEmail, notify.NewEmailChannel(notify.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}))
	} else {
		slog.Info("SMTP_ADDR not set, email channels will be skipped")
	}
	return d
}

// New wires every component over b
func New(cfg *config.Config, b *Backend, version string) *App {
	reg := metrics.Default
	events := hub.New(cfg.CORSAllowedOrigins)

	prober := checker.NewDispatcher(checker.NewHTTPClient(), b.Store, checker.Config{
		HeartbeatGrace:      cfg.HeartbeatGrace,
		CloudflareStatusURL: cfg.CloudflareStatusURL,
	})
	tracker := health.NewTracker(b.Store, b.Alerts, events, reg)
	correlator := incident.NewCorrelator(b.Store, events, reg)

	checkWorker := checker.NewWorker(prober, tracker)
	alertWorker := notify.NewWorker(correlator, NewNotifier(cfg, b, reg))

	consumerCfg := queue.ConsumerConfig{
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryDelay:   cfg.QueueRetryDelay,
		PollInterval: cfg.QueuePollInterval,
	}
	checkCfg, alertCfg := consumerCfg, consumerCfg
	checkCfg.Workers = cfg.CheckWorkers
	alertCfg.Workers = cfg.AlertWorkers

	h := handler.New(b.Store, b.Checks, b.Driver, version)
	router := handler.NewRouter(h, handler.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Events:         events,
		Metrics:        reg.Handler(),
	})

	return &App{
		cfg:       cfg,
		backend:   b,
		Metrics:   reg,
		Hub:       events,
		Scheduler: NewScheduler(cfg, b, reg),
		Janitor:   housekeeping.NewJanitor(b.Store, cfg.DedupeCleanupSpec, cfg.DedupeRetention),
		Server: &http.Server{
			Addr:         ":" + cfg.HTTPPort,
			Handler:      router,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
		},
		checks: queue.NewConsumer(b.Checks, checkWorker.Handle, checkCfg, reg),
		alerts: queue.NewConsumer(b.Alerts, alertWorker.Handle, alertCfg, reg),
	}
}

// Run starts everything and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down in dependency order
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.Hub.Run(hubCtx)

	// consumers outlive ctx so in-flight messages settle during shutdown
	consumeCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	var wg sync.WaitGroup
	for _, c := range []*queue.Consumer{a.checks, a.alerts} {
		wg.Add(1)
		go func(c *queue.Consumer) {
			defer wg.Done()
			c.Run(consumeCtx)
		}(c)
	}

	if a.cfg.SchedulerEnabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	} else {
		slog.Info("Scheduler disabled; relying on external tick triggers")
	}
	if err := a.Janitor.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", a.cfg.HTTPPort)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal, initiating graceful shutdown")
	case err := <-errCh:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.Scheduler.Stop(shutdownCtx)

	slog.Info("Shutting down HTTP server...")
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	stopConsumers()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("Timeout waiting for queue consumers to drain")
	}

	a.Janitor.Stop()
	stopHub()
	return runErr
}
