package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "postgres://localhost/app"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Database.DSN != "postgres://localhost/app" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 20 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("db pool defaults: %+v", cfg.Database)
	}
	if cfg.Queue.Capacity != 10000 || cfg.Queue.BatchSize != 200 || cfg.Queue.OverflowPolicy != "drop" {
		t.Errorf("queue defaults: %+v", cfg.Queue)
	}
	if cfg.Scheduler.StateTickSeconds != 60 || cfg.Scheduler.CounterTickSeconds != 300 ||
		cfg.Scheduler.CleanupTickMinutes != 60 || cfg.Scheduler.LockTTLSeconds != 120 {
		t.Errorf("scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Cleanup.PendingMerchantDays != 30 {
		t.Errorf("pending days = %d", cfg.Cleanup.PendingMerchantDays)
	}
	if cfg.Analytics.MainPathThresholdPercent != 5.0 {
		t.Errorf("main path threshold = %g", cfg.Analytics.MainPathThresholdPercent)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis enabled without addr")
	}
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
queue:
  capacity: 500
  batch_size: 50
  overflow_policy: block
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.Capacity != 500 || cfg.Queue.BatchSize != 50 || cfg.Queue.OverflowPolicy != "block" {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			"bad overflow policy",
			"queue:\n  overflow_policy: discard\n",
			"overflow_policy",
		},
		{
			"batch larger than capacity",
			"queue:\n  capacity: 10\n  batch_size: 20\n",
			"batch_size",
		},
		{
			"threshold below one",
			"analytics:\n  main_path_threshold_percent: 0.5\n",
			"main_path_threshold_percent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("QUEUE_CAPACITY", "777")
	t.Setenv("QUEUE_OVERFLOW_POLICY", "block")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Redis.Addr != "localhost:6379" || !cfg.Redis.Enabled() {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Queue.Capacity != 777 || cfg.Queue.OverflowPolicy != "block" {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadFromEnvRejectsBadOverride(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("QUEUE_CAPACITY", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("QUEUE_OVERFLOW_POLICY", "sideways")

	if _, err := LoadFromEnv(path); err == nil {
		t.Fatal("want validation error for bad overflow policy override")
	}
}
