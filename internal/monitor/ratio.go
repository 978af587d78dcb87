package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/storage"
)

// RatioStore persists ratio monitors, their states, and their alerts.
type RatioStore struct {
	db *sql.DB
}

// NewRatioStore creates a ratio monitor store.
func NewRatioStore(db *sql.DB) *RatioStore {
	return &RatioStore{db: db}
}

const ratioColumns = `id, name, tag, first_rule_id, second_rule_id, steps,
	threshold_percent, time_window, worker_scope, enabled, created_at, updated_at`

func scanRatioMonitor(row interface{ Scan(...interface{}) error }) (*domain.RatioMonitor, error) {
	var m domain.RatioMonitor
	var steps string
	err := row.Scan(&m.ID, &m.Name, &m.Tag, &m.FirstRuleID, &m.SecondRuleID, &steps,
		&m.ThresholdPercent, &m.TimeWindow, &m.WorkerScope, &m.Enabled,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &m.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return &m, nil
}

// CreateMonitor inserts a ratio monitor with a fresh HEALTHY state row.
func (s *RatioStore) CreateMonitor(ctx context.Context, m domain.RatioMonitor) (*domain.RatioMonitor, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.WorkerScope == "" {
		m.WorkerScope = domain.WorkerGlobal
	}
	if m.TimeWindow <= 0 {
		m.TimeWindow = 60
	}
	steps, err := json.Marshal(m.Steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}

	var created *domain.RatioMonitor
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		created, err = scanRatioMonitor(tx.QueryRowContext(ctx, `
			INSERT INTO ratio_monitors
				(id, name, tag, first_rule_id, second_rule_id, steps,
				 threshold_percent, time_window, worker_scope, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+ratioColumns,
			m.ID, m.Name, m.Tag, m.FirstRuleID, m.SecondRuleID, string(steps),
			m.ThresholdPercent, m.TimeWindow, m.WorkerScope, m.Enabled))
		if err != nil {
			return fmt.Errorf("insert ratio monitor: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ratio_states (monitor_id) VALUES ($1)`, m.ID)
		if err != nil {
			return fmt.Errorf("insert ratio state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetMonitor looks up one ratio monitor.
func (s *RatioStore) GetMonitor(ctx context.Context, id string) (*domain.RatioMonitor, error) {
	m, err := scanRatioMonitor(s.db.QueryRowContext(ctx,
		`SELECT `+ratioColumns+` FROM ratio_monitors WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ratio monitor: %w", err)
	}
	return m, nil
}

// ListEnabledMonitors returns the monitors the evaluator sweeps.
func (s *RatioStore) ListEnabledMonitors(ctx context.Context) ([]domain.RatioMonitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ratioColumns+` FROM ratio_monitors WHERE enabled ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list ratio monitors: %w", err)
	}
	defer rows.Close()

	var out []domain.RatioMonitor
	for rows.Next() {
		m, err := scanRatioMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteMonitor removes the monitor; state and alerts cascade.
func (s *RatioStore) DeleteMonitor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ratio_monitors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ratio monitor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

// GetState returns the current evaluation row of one monitor.
func (s *RatioStore) GetState(ctx context.Context, monitorID string) (*domain.RatioState, error) {
	var st domain.RatioState
	err := s.db.QueryRowContext(ctx, `
		SELECT monitor_id, state, first_count, second_count, current_ratio, steps_data, updated_at
		FROM ratio_states WHERE monitor_id = $1
	`, monitorID).Scan(&st.MonitorID, &st.State, &st.FirstCount, &st.SecondCount,
		&st.CurrentRatio, &st.StepsData, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ratio state: %w", err)
	}
	return &st, nil
}

// SaveState upserts the evaluation result of one monitor.
func (s *RatioStore) SaveState(ctx context.Context, st domain.RatioState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratio_states (monitor_id, state, first_count, second_count, current_ratio, steps_data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (monitor_id) DO UPDATE SET
			state         = EXCLUDED.state,
			first_count   = EXCLUDED.first_count,
			second_count  = EXCLUDED.second_count,
			current_ratio = EXCLUDED.current_ratio,
			steps_data    = EXCLUDED.steps_data,
			updated_at    = NOW()
	`, st.MonitorID, st.State, st.FirstCount, st.SecondCount, st.CurrentRatio, st.StepsData)
	if err != nil {
		return fmt.Errorf("save ratio state: %w", err)
	}
	return nil
}

// HitCounts returns the windowed hit-log volumes of the two referenced
// signals.
func (s *RatioStore) HitCounts(ctx context.Context, firstRuleID, secondRuleID string, window time.Duration, now time.Time) (int64, int64, error) {
	cutoff := now.Add(-window)
	var first, second int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM hit_logs WHERE rule_id = $1 AND received_at > $3),
			(SELECT COUNT(*) FROM hit_logs WHERE rule_id = $2 AND received_at > $3)
	`, firstRuleID, secondRuleID, cutoff).Scan(&first, &second)
	if err != nil {
		return 0, 0, fmt.Errorf("hit counts: %w", err)
	}
	return first, second, nil
}

// InsertAlert persists one ratio state-transition alert.
func (s *RatioStore) InsertAlert(ctx context.Context, a domain.RatioAlert) (*domain.RatioAlert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ratio_alerts
			(id, monitor_id, previous_state, current_state, first_count,
			 second_count, current_ratio, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, a.ID, a.MonitorID, a.PreviousState, a.CurrentState, a.FirstCount,
		a.SecondCount, a.CurrentRatio, a.Message).Scan(&a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ratio alert: %w", err)
	}
	return &a, nil
}

// StepResult is the per-step snapshot serialized into steps_data.
type StepResult struct {
	Threshold int64 `json:"threshold"`
	Reached   bool  `json:"reached"`
}

// evaluateRatio classifies one monitor from its windowed counts. The ratio is
// second over first in percent. Below the first volume step there is not
// enough traffic to judge, so the state stays HEALTHY; a ratio under the
// threshold escalates from WARN to ALERT as more volume steps are reached.
func evaluateRatio(m domain.RatioMonitor, first, second int64) (domain.RatioHealth, float64, []StepResult) {
	var ratio float64
	if first > 0 {
		ratio = 100 * float64(second) / float64(first)
	}

	steps := make([]StepResult, len(m.Steps))
	reached := 0
	for i, threshold := range m.Steps {
		steps[i] = StepResult{Threshold: threshold, Reached: first >= threshold}
		if steps[i].Reached {
			reached++
		}
	}

	switch {
	case len(m.Steps) == 0 || reached == 0:
		return domain.RatioHealthy, ratio, steps
	case ratio >= m.ThresholdPercent:
		return domain.RatioHealthy, ratio, steps
	case reached == len(m.Steps):
		return domain.RatioAlerted, ratio, steps
	default:
		return domain.RatioWarn, ratio, steps
	}
}

// RatioPublisher fans ratio alerts out; best-effort.
type RatioPublisher interface {
	PublishRatioAlert(ctx context.Context, a domain.RatioAlert) error
}

// RatioEvaluator sweeps all enabled ratio monitors.
type RatioEvaluator struct {
	store     *RatioStore
	publisher RatioPublisher
}

// NewRatioEvaluator wires a sweep. publisher may be nil.
func NewRatioEvaluator(store *RatioStore, publisher RatioPublisher) *RatioEvaluator {
	return &RatioEvaluator{store: store, publisher: publisher}
}

// EvaluateAll recomputes every enabled monitor's state and raises an alert on
// each transition. One monitor failing does not stop the sweep.
func (e *RatioEvaluator) EvaluateAll(ctx context.Context, now time.Time) error {
	monitors, err := e.store.ListEnabledMonitors(ctx)
	if err != nil {
		return err
	}
	for _, m := range monitors {
		if err := e.evaluate(ctx, m, now); err != nil {
			logger.Error("ratio evaluation failed", "monitor_id", m.ID, "error", err)
		}
	}
	return nil
}

func (e *RatioEvaluator) evaluate(ctx context.Context, m domain.RatioMonitor, now time.Time) error {
	first, second, err := e.store.HitCounts(ctx, m.FirstRuleID, m.SecondRuleID,
		time.Duration(m.TimeWindow)*time.Minute, now)
	if err != nil {
		return err
	}

	prev, err := e.store.GetState(ctx, m.ID)
	if err != nil {
		return err
	}

	state, ratio, steps := evaluateRatio(m, first, second)
	stepsData, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode steps data: %w", err)
	}

	if err := e.store.SaveState(ctx, domain.RatioState{
		MonitorID:    m.ID,
		State:        state,
		FirstCount:   first,
		SecondCount:  second,
		CurrentRatio: ratio,
		StepsData:    string(stepsData),
	}); err != nil {
		return err
	}

	if state == prev.State {
		return nil
	}
	alert, err := e.store.InsertAlert(ctx, domain.RatioAlert{
		MonitorID:     m.ID,
		PreviousState: prev.State,
		CurrentState:  state,
		FirstCount:    first,
		SecondCount:   second,
		CurrentRatio:  ratio,
		Message: fmt.Sprintf("ratio monitor %q is %s (%.1f%% of %d/%d)",
			m.Name, state, ratio, second, first),
	})
	if err != nil {
		return err
	}
	if e.publisher != nil {
		if err := e.publisher.PublishRatioAlert(ctx, *alert); err != nil {
			logger.Warn("publish ratio alert failed", "alert_id", alert.ID, "error", err)
		}
	}
	return nil
}
