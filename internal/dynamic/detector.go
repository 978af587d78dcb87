// Package dynamic implements the "count-first, then time-span" subject
// learner that promotes bursty subjects into dynamic drop rules. Promotion is
// synchronous relative to the triggering filter evaluation: the new rule is
// inserted into the in-memory rule cache before TrackSubject returns, so the
// very message that crossed the threshold is blocked upstream.
package dynamic

import (
	"context"
	"fmt"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/rules"
)

// TrackerStore persists ephemeral subject observations.
type TrackerStore interface {
	Append(ctx context.Context, e domain.SubjectTrackerEntry) error
	CountInWindow(ctx context.Context, hash uint64, from, to time.Time) (int, error)
	// FirstTimestamps returns the first n observation times in [from, to],
	// ascending.
	FirstTimestamps(ctx context.Context, hash uint64, from, to time.Time, n int) ([]time.Time, error)
	PurgeBefore(ctx context.Context, hash uint64, cutoff time.Time) error
}

// RuleStore is the subset of the rule store the detector needs.
type RuleStore interface {
	Create(ctx context.Context, r domain.FilterRule) (*domain.FilterRule, error)
	FindDynamicByPattern(ctx context.Context, pattern string) (*domain.FilterRule, error)
	TouchLastHit(ctx context.Context, id string, at time.Time) error
}

// ConfigSource supplies the current dynamic configuration.
type ConfigSource interface {
	Load(ctx context.Context) (domain.DynamicConfig, error)
}

// Metrics describes one rule creation.
type Metrics struct {
	DetectionLatencyMs         int64 `json:"detectionLatencyMs"`
	EmailsForwardedBeforeBlock int   `json:"emailsForwardedBeforeBlock"`
}

// Detector tracks default-forwarded subjects and creates dynamic rules.
type Detector struct {
	tracker TrackerStore
	rules   RuleStore
	config  ConfigSource
	cache   *rules.Cache
}

// NewDetector wires the detector. cache may be shared with the filter engine;
// it is the coherence point for synchronous blocking.
func NewDetector(tracker TrackerStore, ruleStore RuleStore, config ConfigSource, cache *rules.Cache) *Detector {
	return &Detector{tracker: tracker, rules: ruleStore, config: config, cache: cache}
}

// TrackSubject records one observation and returns the created or existing
// dynamic rule, or nil when the subject has not crossed the detector gates.
func (d *Detector) TrackSubject(ctx context.Context, subject, workerID string, receivedAt time.Time) (*domain.FilterRule, error) {
	rule, _, err := d.TrackSubjectWithMetrics(ctx, subject, workerID, receivedAt)
	return rule, err
}

// TrackSubjectWithMetrics is TrackSubject plus creation metrics. Metrics are
// zero when the returned rule already existed.
func (d *Detector) TrackSubjectWithMetrics(ctx context.Context, subject, workerID string, receivedAt time.Time) (*domain.FilterRule, *Metrics, error) {
	cfg, err := d.config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load dynamic config: %w", err)
	}
	if !cfg.Enabled {
		return nil, nil, nil
	}

	hash := SubjectHash(subject)
	entry := domain.SubjectTrackerEntry{
		WorkerID:    workerID,
		SubjectHash: hash,
		Subject:     subject,
		ReceivedAt:  receivedAt,
	}
	if err := d.tracker.Append(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("append tracker entry: %w", err)
	}

	windowStart := receivedAt.Add(-time.Duration(cfg.TimeWindowMinutes) * time.Minute)

	// Gate 1: count within the window.
	count, err := d.tracker.CountInWindow(ctx, hash, windowStart, receivedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("count tracker window: %w", err)
	}
	if count < cfg.ThresholdCount {
		return nil, nil, nil
	}

	// Gate 2: time span of the first thresholdCount observations.
	stamps, err := d.tracker.FirstTimestamps(ctx, hash, windowStart, receivedAt, cfg.ThresholdCount)
	if err != nil {
		return nil, nil, fmt.Errorf("read tracker window: %w", err)
	}
	if len(stamps) < cfg.ThresholdCount {
		return nil, nil, nil
	}
	first := stamps[0]
	last := stamps[len(stamps)-1]
	spanMinutes := last.Sub(first).Minutes()
	if spanMinutes > cfg.TimeSpanThresholdMinutes {
		// Spread too thin: keep tracking, do not purge.
		return nil, nil, nil
	}

	// Idempotent promotion: an existing dynamic rule just gets its hit time.
	if existing, err := d.rules.FindDynamicByPattern(ctx, subject); err != nil {
		return nil, nil, fmt.Errorf("lookup dynamic rule: %w", err)
	} else if existing != nil {
		if err := d.rules.TouchLastHit(ctx, existing.ID, receivedAt); err != nil {
			logger.Warn("touch last hit failed", "rule_id", existing.ID, "error", err)
		}
		t := receivedAt
		existing.LastHitAt = &t
		d.cache.Insert(*existing)
		return existing, &Metrics{}, nil
	}

	created, err := d.rules.Create(ctx, domain.FilterRule{
		Category:  domain.CategoryDynamic,
		MatchType: domain.MatchSubject,
		MatchMode: domain.ModeContains,
		Pattern:   subject,
		Enabled:   true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create dynamic rule: %w", err)
	}

	// Visible to the in-flight evaluation before we return.
	d.cache.Insert(*created)

	if err := d.tracker.PurgeBefore(ctx, hash, windowStart); err != nil {
		logger.Warn("tracker purge failed", "subject_hash", hash, "error", err)
	}

	m := &Metrics{
		DetectionLatencyMs:         receivedAt.Sub(first).Milliseconds(),
		EmailsForwardedBeforeBlock: count - 1,
	}
	logger.Info("dynamic rule created",
		"rule_id", created.ID,
		"detection_latency_ms", m.DetectionLatencyMs,
		"forwarded_before_block", m.EmailsForwardedBeforeBlock)
	return created, m, nil
}

// Expired reports whether a dynamic rule is past its retention window: both
// created_at and last_hit_at (when set) must be older than the cutoff.
func Expired(r domain.FilterRule, cfg domain.DynamicConfig, now time.Time) bool {
	cutoff := now.Add(-time.Duration(cfg.ExpirationHours) * time.Hour)
	if !r.CreatedAt.Before(cutoff) {
		return false
	}
	return r.LastHitAt == nil || r.LastHitAt.Before(cutoff)
}
