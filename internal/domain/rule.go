package domain

import "time"

// WorkerGlobal is the reserved worker scope meaning "applies regardless of
// worker". Matching treats it as a wildcard.
const WorkerGlobal = "global"

// RuleCategory is the closed set of filter rule categories.
type RuleCategory string

const (
	CategoryWhitelist RuleCategory = "whitelist"
	CategoryBlacklist RuleCategory = "blacklist"
	CategoryDynamic   RuleCategory = "dynamic"
	CategoryWatch     RuleCategory = "watch"
)

// MatchType selects which message field a rule matches against.
type MatchType string

const (
	MatchSender  MatchType = "sender"
	MatchSubject MatchType = "subject"
	MatchDomain  MatchType = "domain"
)

// MatchMode selects the comparison applied to the pattern.
type MatchMode string

const (
	ModeExact      MatchMode = "exact"
	ModeContains   MatchMode = "contains"
	ModeStartsWith MatchMode = "startsWith"
	ModeEndsWith   MatchMode = "endsWith"
	ModeRegex      MatchMode = "regex"
)

// FilterRule is a static or auto-created filtering rule. WorkerID is empty for
// rules that apply to all workers.
type FilterRule struct {
	ID        string       `json:"id"`
	WorkerID  string       `json:"worker_id,omitempty"`
	Category  RuleCategory `json:"category"`
	MatchType MatchType    `json:"match_type"`
	MatchMode MatchMode    `json:"match_mode"`
	Pattern   string       `json:"pattern"`
	Enabled   bool         `json:"enabled"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	LastHitAt *time.Time   `json:"last_hit_at,omitempty"`
}

// RuleStats is the per-rule counter side table.
type RuleStats struct {
	RuleID         string    `json:"rule_id"`
	TotalProcessed int64     `json:"total_processed"`
	DeletedCount   int64     `json:"deleted_count"`
	ErrorCount     int64     `json:"error_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// DynamicConfig controls the dynamic-rule detector. Unknown keys read from the
// store are preserved in Extra on save.
type DynamicConfig struct {
	Enabled                  bool    `json:"enabled" yaml:"enabled"`
	TimeWindowMinutes        int     `json:"timeWindowMinutes" yaml:"time_window_minutes"`
	ThresholdCount           int     `json:"thresholdCount" yaml:"threshold_count"`
	TimeSpanThresholdMinutes float64 `json:"timeSpanThresholdMinutes" yaml:"time_span_threshold_minutes"`
	ExpirationHours          int     `json:"expirationHours" yaml:"expiration_hours"`
	LastHitThresholdHours    int     `json:"lastHitThresholdHours" yaml:"last_hit_threshold_hours"`

	Extra map[string]string `json:"-" yaml:"-"`
}

// DefaultDynamicConfig returns the documented defaults.
func DefaultDynamicConfig() DynamicConfig {
	return DynamicConfig{
		Enabled:                  true,
		TimeWindowMinutes:        30,
		ThresholdCount:           30,
		TimeSpanThresholdMinutes: 3.0,
		ExpirationHours:          48,
		LastHitThresholdHours:    72,
	}
}

// SubjectTrackerEntry is an ephemeral row recording one default-forwarded
// subject observation. Rows with a hash are purged when the detector promotes
// the subject to a dynamic rule.
type SubjectTrackerEntry struct {
	WorkerID    string    `json:"worker_id,omitempty"`
	SubjectHash uint64    `json:"subject_hash"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"received_at"`
}
