package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all process-wide configuration for the control plane.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds the relational store location. DSN may be overridden by
// the DB_PATH / DATABASE_PATH environment variables (see storage.ResolveDSN).
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the optional Redis connection for alert fan-out and the
// scheduler tick lock. Empty Addr disables both.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// QueueConfig bounds the async task processor. Capacity, batch size and the
// overflow policy are mandatory configuration surface, not tunables buried in
// code.
type QueueConfig struct {
	Capacity            int    `yaml:"capacity"`
	BatchSize           int    `yaml:"batch_size"`
	OverflowPolicy      string `yaml:"overflow_policy"` // "block" | "drop"
	BatchTimeoutSeconds int    `yaml:"batch_timeout_seconds"`
}

// BatchTimeout returns the per-batch processing deadline.
func (c QueueConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSeconds) * time.Second
}

// SchedulerConfig holds heartbeat cadences.
type SchedulerConfig struct {
	StateTickSeconds   int `yaml:"state_tick_seconds"`
	CounterTickSeconds int `yaml:"counter_tick_seconds"`
	CleanupTickMinutes int `yaml:"cleanup_tick_minutes"`
	LockTTLSeconds     int `yaml:"lock_ttl_seconds"`
}

// StateTick returns the signal-state sweep interval.
func (c SchedulerConfig) StateTick() time.Duration {
	return time.Duration(c.StateTickSeconds) * time.Second
}

// CounterTick returns the rolling-counter recompute interval.
func (c SchedulerConfig) CounterTick() time.Duration {
	return time.Duration(c.CounterTickSeconds) * time.Second
}

// CleanupTick returns the retention sweep interval.
func (c SchedulerConfig) CleanupTick() time.Duration {
	return time.Duration(c.CleanupTickMinutes) * time.Minute
}

// CleanupConfig holds retention settings.
type CleanupConfig struct {
	PendingMerchantDays int `yaml:"pending_merchant_days"`
}

// AnalyticsConfig holds campaign-analysis thresholds.
type AnalyticsConfig struct {
	MainPathThresholdPercent float64  `yaml:"main_path_threshold_percent"`
	RootCampaignKeywords     []string `yaml:"root_campaign_keywords"`
	SecondLevelTLDFile       string   `yaml:"second_level_tld_file"`
}

// LoggingConfig holds log level and redaction settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 10000
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 200
	}
	if cfg.Queue.OverflowPolicy == "" {
		cfg.Queue.OverflowPolicy = "drop"
	}
	if cfg.Queue.BatchTimeoutSeconds == 0 {
		cfg.Queue.BatchTimeoutSeconds = 30
	}
	if cfg.Scheduler.StateTickSeconds == 0 {
		cfg.Scheduler.StateTickSeconds = 60
	}
	if cfg.Scheduler.CounterTickSeconds == 0 {
		cfg.Scheduler.CounterTickSeconds = 300
	}
	if cfg.Scheduler.CleanupTickMinutes == 0 {
		cfg.Scheduler.CleanupTickMinutes = 60
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 120
	}
	if cfg.Cleanup.PendingMerchantDays == 0 {
		cfg.Cleanup.PendingMerchantDays = 30
	}
	if cfg.Analytics.MainPathThresholdPercent == 0 {
		cfg.Analytics.MainPathThresholdPercent = 5.0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations the runtime cannot honor.
func (cfg *Config) Validate() error {
	switch cfg.Queue.OverflowPolicy {
	case "block", "drop":
	default:
		return fmt.Errorf("queue.overflow_policy must be \"block\" or \"drop\", got %q", cfg.Queue.OverflowPolicy)
	}
	if cfg.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be positive, got %d", cfg.Queue.Capacity)
	}
	if cfg.Queue.BatchSize < 1 || cfg.Queue.BatchSize > cfg.Queue.Capacity {
		return fmt.Errorf("queue.batch_size must be in [1, capacity], got %d", cfg.Queue.BatchSize)
	}
	if cfg.Analytics.MainPathThresholdPercent < 1.0 {
		return fmt.Errorf("analytics.main_path_threshold_percent must be >= 1, got %g", cfg.Analytics.MainPathThresholdPercent)
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides. A .env
// file is loaded first when present, so local secrets can stay out of yaml.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if v := os.Getenv("QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Capacity = n
		}
	}
	if v := os.Getenv("QUEUE_OVERFLOW_POLICY"); v != "" {
		cfg.Queue.OverflowPolicy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
