package rules

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/storage"
)

// ValidationError identifies the offending field of a rejected config.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateDynamicConfig checks every field against its documented range.
func ValidateDynamicConfig(c domain.DynamicConfig) error {
	if c.TimeWindowMinutes < 5 || c.TimeWindowMinutes > 120 {
		return &ValidationError{Field: "timeWindowMinutes", Message: "must be an integer in [5, 120]"}
	}
	if c.ThresholdCount < 5 {
		return &ValidationError{Field: "thresholdCount", Message: "must be >= 5"}
	}
	if c.TimeSpanThresholdMinutes < 0.5 || c.TimeSpanThresholdMinutes > 30 {
		return &ValidationError{Field: "timeSpanThresholdMinutes", Message: "must be in [0.5, 30]"}
	}
	if math.IsNaN(c.TimeSpanThresholdMinutes) || math.IsInf(c.TimeSpanThresholdMinutes, 0) {
		return &ValidationError{Field: "timeSpanThresholdMinutes", Message: "must be a finite number"}
	}
	if c.ExpirationHours < 1 {
		return &ValidationError{Field: "expirationHours", Message: "must be >= 1"}
	}
	if c.LastHitThresholdHours < 1 {
		return &ValidationError{Field: "lastHitThresholdHours", Message: "must be >= 1"}
	}
	return nil
}

// recognized dynamic_config keys; anything else round-trips through Extra.
const (
	keyEnabled          = "enabled"
	keyTimeWindow       = "timeWindowMinutes"
	keyThresholdCount   = "thresholdCount"
	keyTimeSpan         = "timeSpanThresholdMinutes"
	keyExpiration       = "expirationHours"
	keyLastHitThreshold = "lastHitThresholdHours"
)

// ConfigStore persists the dynamic-rule configuration as a key/value map.
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore creates a dynamic config store.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Load reads the config, applying defaults for missing keys and preserving
// unrecognized keys in Extra.
func (s *ConfigStore) Load(ctx context.Context) (domain.DynamicConfig, error) {
	cfg := domain.DefaultDynamicConfig()
	cfg.Extra = make(map[string]string)

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM dynamic_config`)
	if err != nil {
		return cfg, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return cfg, err
		}
		switch k {
		case keyEnabled:
			cfg.Enabled = v == "true"
		case keyTimeWindow:
			if n, err := strconv.Atoi(v); err == nil {
				cfg.TimeWindowMinutes = n
			}
		case keyThresholdCount:
			if n, err := strconv.Atoi(v); err == nil {
				cfg.ThresholdCount = n
			}
		case keyTimeSpan:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.TimeSpanThresholdMinutes = f
			}
		case keyExpiration:
			if n, err := strconv.Atoi(v); err == nil {
				cfg.ExpirationHours = n
			}
		case keyLastHitThreshold:
			if n, err := strconv.Atoi(v); err == nil {
				cfg.LastHitThresholdHours = n
			}
		default:
			cfg.Extra[k] = v
		}
	}
	return cfg, rows.Err()
}

// Save validates and writes the config in one transaction. Unknown keys in
// Extra are written back untouched.
func (s *ConfigStore) Save(ctx context.Context, cfg domain.DynamicConfig) error {
	if err := ValidateDynamicConfig(cfg); err != nil {
		return err
	}

	pairs := map[string]string{
		keyEnabled:          strconv.FormatBool(cfg.Enabled),
		keyTimeWindow:       strconv.Itoa(cfg.TimeWindowMinutes),
		keyThresholdCount:   strconv.Itoa(cfg.ThresholdCount),
		keyTimeSpan:         strconv.FormatFloat(cfg.TimeSpanThresholdMinutes, 'f', -1, 64),
		keyExpiration:       strconv.Itoa(cfg.ExpirationHours),
		keyLastHitThreshold: strconv.Itoa(cfg.LastHitThresholdHours),
	}
	for k, v := range cfg.Extra {
		if _, known := pairs[k]; !known {
			pairs[k] = v
		}
	}

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for k, v := range pairs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dynamic_config (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
			`, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
