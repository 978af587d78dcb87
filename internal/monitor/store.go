package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/storage"
)

// Store persists monitoring rules, signal states, hit logs, and alerts.
type Store struct {
	db *sql.DB
}

// NewStore creates a monitoring store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, merchant, name, subject_pattern, match_mode,
	expected_interval_minutes, dead_after_minutes, worker_scope, enabled,
	created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*domain.MonitoringRule, error) {
	var r domain.MonitoringRule
	err := row.Scan(&r.ID, &r.Merchant, &r.Name, &r.SubjectPattern, &r.MatchMode,
		&r.ExpectedIntervalMinutes, &r.DeadAfterMinutes, &r.WorkerScope,
		&r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRule inserts a monitoring rule together with its signal state row,
// which starts DEAD with no last-seen and zero counters.
func (s *Store) CreateRule(ctx context.Context, r domain.MonitoringRule) (*domain.MonitoringRule, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.MatchMode == "" {
		r.MatchMode = domain.ModeContains
	}
	if r.WorkerScope == "" {
		r.WorkerScope = domain.WorkerGlobal
	}

	var created *domain.MonitoringRule
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		created, err = scanRule(tx.QueryRowContext(ctx, `
			INSERT INTO monitoring_rules
				(id, merchant, name, subject_pattern, match_mode,
				 expected_interval_minutes, dead_after_minutes, worker_scope, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+ruleColumns,
			r.ID, r.Merchant, r.Name, r.SubjectPattern, r.MatchMode,
			r.ExpectedIntervalMinutes, r.DeadAfterMinutes, r.WorkerScope, r.Enabled))
		if err != nil {
			return fmt.Errorf("insert monitoring rule: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signal_states (rule_id, state) VALUES ($1, 'DEAD')
		`, r.ID)
		if err != nil {
			return fmt.Errorf("insert signal state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetRule looks up one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*domain.MonitoringRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM monitoring_rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get monitoring rule: %w", err)
	}
	return r, nil
}

func (s *Store) listRules(ctx context.Context, where string, args ...interface{}) ([]domain.MonitoringRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM monitoring_rules `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list monitoring rules: %w", err)
	}
	defer rows.Close()

	var out []domain.MonitoringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRules returns all monitoring rules.
func (s *Store) ListRules(ctx context.Context) ([]domain.MonitoringRule, error) {
	return s.listRules(ctx, "")
}

// ListEnabledRules returns the rules the hit processor matches against.
func (s *Store) ListEnabledRules(ctx context.Context) ([]domain.MonitoringRule, error) {
	return s.listRules(ctx, "WHERE enabled")
}

// RuleUpdate carries optional rule mutations; nil fields are untouched.
type RuleUpdate struct {
	Name                    *string
	SubjectPattern          *string
	MatchMode               *domain.MatchMode
	ExpectedIntervalMinutes *int
	DeadAfterMinutes        *int
	WorkerScope             *string
	Enabled                 *bool
}

// UpdateRule applies the non-nil fields of u.
func (s *Store) UpdateRule(ctx context.Context, id string, u RuleUpdate) error {
	var sets []string
	var args []interface{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.SubjectPattern != nil {
		add("subject_pattern", *u.SubjectPattern)
	}
	if u.MatchMode != nil {
		add("match_mode", *u.MatchMode)
	}
	if u.ExpectedIntervalMinutes != nil {
		add("expected_interval_minutes", *u.ExpectedIntervalMinutes)
	}
	if u.DeadAfterMinutes != nil {
		add("dead_after_minutes", *u.DeadAfterMinutes)
	}
	if u.WorkerScope != nil {
		add("worker_scope", *u.WorkerScope)
	}
	if u.Enabled != nil {
		add("enabled", *u.Enabled)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE monitoring_rules SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update monitoring rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes the rule; state, hit logs, and alerts cascade.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitoring_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete monitoring rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func scanState(row interface{ Scan(...interface{}) error }) (*domain.SignalState, error) {
	var st domain.SignalState
	var lastSeen sql.NullTime
	err := row.Scan(&st.RuleID, &st.State, &lastSeen, &st.Count1h, &st.Count12h,
		&st.Count24h, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		st.LastSeenAt = &t
	}
	return &st, nil
}

const stateColumns = `rule_id, state, last_seen_at, count_1h, count_12h, count_24h, updated_at`

// GetState returns the signal state row of one rule.
func (s *Store) GetState(ctx context.Context, ruleID string) (*domain.SignalState, error) {
	st, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM signal_states WHERE rule_id = $1`, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal state: %w", err)
	}
	return st, nil
}

// HitMeta is the only email projection the monitoring layer persists. Fields
// map one-to-one onto the hit-log row; there is nowhere to put anything else.
type HitMeta struct {
	Sender     string
	Subject    string
	Recipient  string
	ReceivedAt time.Time
}

// HitResult reports the state transition caused by one recorded hit.
type HitResult struct {
	PreviousState domain.SignalStatus
	CurrentState  domain.SignalStatus
	State         *domain.SignalState
}

// UpdateOnHit atomically records one signal hit: reads the previous state,
// forces ACTIVE with last_seen_at = hitTime, bumps all three counters, and
// appends a hit-log row when meta is present.
func (s *Store) UpdateOnHit(ctx context.Context, ruleID string, hitTime time.Time, meta *HitMeta) (*HitResult, error) {
	var res *HitResult
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var prev domain.SignalStatus
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM signal_states WHERE rule_id = $1 FOR UPDATE`, ruleID).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateNotFound
		}
		if err != nil {
			return fmt.Errorf("lock signal state: %w", err)
		}

		st, err := scanState(tx.QueryRowContext(ctx, `
			UPDATE signal_states SET
				state        = 'ACTIVE',
				last_seen_at = $2,
				count_1h     = count_1h + 1,
				count_12h    = count_12h + 1,
				count_24h    = count_24h + 1,
				updated_at   = NOW()
			WHERE rule_id = $1
			RETURNING `+stateColumns, ruleID, hitTime))
		if err != nil {
			return fmt.Errorf("update signal state: %w", err)
		}

		if meta != nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO hit_logs (id, rule_id, sender, subject, recipient, received_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New().String(), ruleID, meta.Sender, meta.Subject, meta.Recipient, meta.ReceivedAt)
			if err != nil {
				return fmt.Errorf("insert hit log: %w", err)
			}
		}

		res = &HitResult{PreviousState: prev, CurrentState: domain.SignalActive, State: st}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetState overwrites the state value of one signal, for the scheduler sweep.
func (s *Store) SetState(ctx context.Context, ruleID string, state domain.SignalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signal_states SET state = $2, updated_at = NOW() WHERE rule_id = $1
	`, ruleID, state)
	if err != nil {
		return fmt.Errorf("set signal state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStateNotFound
	}
	return nil
}

// RecomputeCounters rebuilds all three windowed counters of every signal from
// the hit logs. Naive and correct; the scheduler calls it on its counter tick.
func (s *Store) RecomputeCounters(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signal_states ss SET
			count_1h = (SELECT COUNT(*) FROM hit_logs h
				WHERE h.rule_id = ss.rule_id AND h.received_at > $1),
			count_12h = (SELECT COUNT(*) FROM hit_logs h
				WHERE h.rule_id = ss.rule_id AND h.received_at > $2),
			count_24h = (SELECT COUNT(*) FROM hit_logs h
				WHERE h.rule_id = ss.rule_id AND h.received_at > $3),
			updated_at = NOW()
	`, now.Add(-time.Hour), now.Add(-12*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("recompute counters: %w", err)
	}
	return nil
}

// Signal pairs a rule with its state for listings and the scheduler sweep.
type Signal struct {
	Rule  domain.MonitoringRule `json:"rule"`
	State domain.SignalState    `json:"state"`
}

// ListSignals returns every rule with its state, worst first: DEAD before
// WEAK before ACTIVE, ties broken by newest rule.
func (s *Store) ListSignals(ctx context.Context) ([]Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.merchant, r.name, r.subject_pattern, r.match_mode,
		       r.expected_interval_minutes, r.dead_after_minutes, r.worker_scope,
		       r.enabled, r.created_at, r.updated_at,
		       s.rule_id, s.state, s.last_seen_at, s.count_1h, s.count_12h,
		       s.count_24h, s.updated_at
		FROM monitoring_rules r
		JOIN signal_states s ON s.rule_id = r.id
		ORDER BY CASE s.state WHEN 'DEAD' THEN 0 WHEN 'WEAK' THEN 1 ELSE 2 END,
		         r.created_at DESC, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var sig Signal
		var lastSeen sql.NullTime
		err := rows.Scan(&sig.Rule.ID, &sig.Rule.Merchant, &sig.Rule.Name,
			&sig.Rule.SubjectPattern, &sig.Rule.MatchMode,
			&sig.Rule.ExpectedIntervalMinutes, &sig.Rule.DeadAfterMinutes,
			&sig.Rule.WorkerScope, &sig.Rule.Enabled, &sig.Rule.CreatedAt,
			&sig.Rule.UpdatedAt,
			&sig.State.RuleID, &sig.State.State, &lastSeen, &sig.State.Count1h,
			&sig.State.Count12h, &sig.State.Count24h, &sig.State.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			sig.State.LastSeenAt = &t
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// InsertAlert persists one state-transition alert.
func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) (*domain.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO alerts
			(id, rule_id, alert_type, previous_state, current_state, gap_minutes,
			 count_1h, count_12h, count_24h, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, a.ID, a.RuleID, a.AlertType, a.PreviousState, a.CurrentState, a.GapMinutes,
		a.Count1h, a.Count12h, a.Count24h, a.Message).Scan(&a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return &a, nil
}

// ListAlerts returns the newest alerts first.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, alert_type, previous_state, current_state, gap_minutes,
		       count_1h, count_12h, count_24h, message, sent_at, created_at
		FROM alerts ORDER BY created_at DESC, id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var sentAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.RuleID, &a.AlertType, &a.PreviousState,
			&a.CurrentState, &a.GapMinutes, &a.Count1h, &a.Count12h, &a.Count24h,
			&a.Message, &sentAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			t := sentAt.Time
			a.SentAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertSent stamps delivery time on one alert.
func (s *Store) MarkAlertSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET sent_at = $2 WHERE id = $1`, id, at)
	return err
}

// PurgeHitLogs deletes hit-log rows older than the cutoff and returns the
// count removed.
func (s *Store) PurgeHitLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hit_logs WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge hit logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
