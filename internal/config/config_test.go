package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SCHEDULER_BATCH_SIZE", "")
	cfg := Load()

	if cfg.StoreDriver != DriverMongo {
		t.Errorf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.SchedulerBatchSize != 200 || cfg.SchedulerMaxBatches != 5 {
		t.Errorf("unexpected batch settings %d/%d", cfg.SchedulerBatchSize, cfg.SchedulerMaxBatches)
	}
	if cfg.SchedulerLeaseMargin != 90*time.Second {
		t.Errorf("SchedulerLeaseMargin = %v", cfg.SchedulerLeaseMargin)
	}
	if cfg.DedupeRetention != 48*time.Hour {
		t.Errorf("DedupeRetention = %v", cfg.DedupeRetention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("QUEUE_POLL_INTERVAL_MS", "250")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("CHECK_WORKERS", "not-a-number")
	cfg := Load()

	if cfg.StoreDriver != DriverPostgres {
		t.Errorf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.QueuePollInterval != 250*time.Millisecond {
		t.Errorf("QueuePollInterval = %v", cfg.QueuePollInterval)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.SchedulerEnabled {
		t.Error("SchedulerEnabled should be false")
	}
	if cfg.CheckWorkers != 10 {
		t.Errorf("invalid ints should fall back to the default, got %d", cfg.CheckWorkers)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Load()
	cfg.StoreDriver = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error")
	}
}
