// Package rules manages filter rules: the persistent store, the in-memory
// cache the decision path reads from, and the dynamic-rule configuration.
package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = errors.New("filter rule not found")

// Store provides CRUD over filter_rules and its counter side table.
type Store struct {
	db *sql.DB
}

// NewStore creates a rule store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, worker_id, category, match_type, match_mode, pattern,
	enabled, created_at, updated_at, last_hit_at`

func scanRule(s interface{ Scan(...interface{}) error }) (domain.FilterRule, error) {
	var r domain.FilterRule
	var lastHit sql.NullTime
	err := s.Scan(&r.ID, &r.WorkerID, &r.Category, &r.MatchType, &r.MatchMode,
		&r.Pattern, &r.Enabled, &r.CreatedAt, &r.UpdatedAt, &lastHit)
	if err != nil {
		return r, err
	}
	if lastHit.Valid {
		t := lastHit.Time
		r.LastHitAt = &t
	}
	return r, nil
}

// Create inserts a rule and its zeroed stats row.
func (s *Store) Create(ctx context.Context, r domain.FilterRule) (*domain.FilterRule, error) {
	if r.Pattern == "" {
		return nil, fmt.Errorf("rule pattern must be non-empty")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO filter_rules (id, worker_id, category, match_type, match_mode, pattern, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, r.ID, r.WorkerID, r.Category, r.MatchType, r.MatchMode, r.Pattern, r.Enabled,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO filter_rule_stats (rule_id) VALUES ($1)
		ON CONFLICT (rule_id) DO NOTHING
	`, r.ID)
	if err != nil {
		return nil, fmt.Errorf("create rule stats: %w", err)
	}
	return &r, nil
}

// Get returns a single rule by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.FilterRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM filter_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAll returns every rule in deterministic matching order: created_at
// ascending, tie-broken by id.
func (s *Store) ListAll(ctx context.Context) ([]domain.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM filter_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FilterRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByCategory returns enabled rules of one category in matching order.
func (s *Store) ListByCategory(ctx context.Context, cat domain.RuleCategory) ([]domain.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM filter_rules
		WHERE category = $1 AND enabled = TRUE
		ORDER BY created_at, id
	`, cat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FilterRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindDynamicByPattern looks up the dynamic rule whose pattern equals subject.
// Returns nil when no such rule exists.
func (s *Store) FindDynamicByPattern(ctx context.Context, pattern string) (*domain.FilterRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM filter_rules
		WHERE category = 'dynamic' AND pattern = $1
		ORDER BY created_at, id
		LIMIT 1
	`, pattern)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Update modifies mutable rule fields.
func (s *Store) Update(ctx context.Context, r domain.FilterRule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE filter_rules
		SET worker_id = $2, category = $3, match_type = $4, match_mode = $5,
		    pattern = $6, enabled = $7, updated_at = NOW()
		WHERE id = $1
	`, r.ID, r.WorkerID, r.Category, r.MatchType, r.MatchMode, r.Pattern, r.Enabled)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule (stats cascade).
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// TouchLastHit advances a rule's last_hit_at.
func (s *Store) TouchLastHit(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE filter_rules
		SET last_hit_at = GREATEST(COALESCE(last_hit_at, 'epoch'::timestamptz), $2)
		WHERE id = $1
	`, id, at)
	return err
}

// IncrementStats applies batched counter deltas to one rule's stats row.
func (s *Store) IncrementStats(ctx context.Context, tx *sql.Tx, id string, processed, deleted, errs int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO filter_rule_stats (rule_id, total_processed, deleted_count, error_count, last_updated)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (rule_id) DO UPDATE SET
			total_processed = filter_rule_stats.total_processed + EXCLUDED.total_processed,
			deleted_count   = filter_rule_stats.deleted_count + EXCLUDED.deleted_count,
			error_count     = filter_rule_stats.error_count + EXCLUDED.error_count,
			last_updated    = NOW()
	`, id, processed, deleted, errs)
	return err
}

// IncrementGlobalCounter applies a delta to one named global counter.
func (s *Store) IncrementGlobalCounter(ctx context.Context, tx *sql.Tx, name string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO global_counters (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = global_counters.value + EXCLUDED.value
	`, name, delta)
	return err
}

// Stats returns the counter row for one rule.
func (s *Store) Stats(ctx context.Context, id string) (*domain.RuleStats, error) {
	var st domain.RuleStats
	err := s.db.QueryRowContext(ctx, `
		SELECT rule_id, total_processed, deleted_count, error_count, last_updated
		FROM filter_rule_stats WHERE rule_id = $1
	`, id).Scan(&st.RuleID, &st.TotalProcessed, &st.DeletedCount, &st.ErrorCount, &st.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
