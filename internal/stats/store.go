// Package stats maintains per (subject, merchant-domain, worker) counters and
// focus flags, written in batches from the async task processor.
package stats

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// ErrStatNotFound is returned when no counter row matches.
var ErrStatNotFound = errors.New("subject stat not found")

// Store provides upserts and aggregation over subject_stats.
type Store struct {
	db *sql.DB
}

// NewStore creates a subject stats store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func hashSubject(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}

// Record increments the counter row for one observation, creating it on first
// sight. delta allows batched accumulation from the task processor.
func (s *Store) Record(ctx context.Context, subject, merchantDomain, workerName string, receivedAt time.Time, delta int64) error {
	if workerName == "" {
		workerName = domain.WorkerGlobal
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subject_stats
			(id, subject, subject_hash, merchant_domain, worker_name, email_count,
			 first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (subject_hash, merchant_domain, worker_name) DO UPDATE SET
			email_count  = subject_stats.email_count + EXCLUDED.email_count,
			last_seen_at = GREATEST(subject_stats.last_seen_at, EXCLUDED.last_seen_at),
			updated_at   = NOW()
	`, uuid.New().String(), subject, hashSubject(subject), merchantDomain, workerName, delta, receivedAt)
	return err
}

// SetFocused toggles the focus flag on one counter row.
func (s *Store) SetFocused(ctx context.Context, id string, focused bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subject_stats SET is_focused = $2, updated_at = NOW() WHERE id = $1
	`, id, focused)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrStatNotFound
	}
	return nil
}

// ListFilter narrows aggregation queries.
type ListFilter struct {
	MerchantDomain string
	WorkerName     string
	FocusedOnly    bool
	Limit          int
}

// List returns counter rows ordered by email_count descending.
func (s *Store) List(ctx context.Context, f ListFilter) ([]domain.SubjectStat, error) {
	query := `
		SELECT id, subject, subject_hash, merchant_domain, worker_name, email_count,
		       is_focused, first_seen_at, last_seen_at, created_at, updated_at
		FROM subject_stats WHERE 1=1`
	var args []interface{}
	argN := 1

	if f.MerchantDomain != "" {
		query += fmt.Sprintf(" AND merchant_domain = $%d", argN)
		args = append(args, f.MerchantDomain)
		argN++
	}
	if f.WorkerName != "" {
		query += fmt.Sprintf(" AND worker_name = $%d", argN)
		args = append(args, f.WorkerName)
		argN++
	}
	if f.FocusedOnly {
		query += ` AND is_focused = TRUE`
	}
	query += ` ORDER BY email_count DESC, last_seen_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SubjectStat
	for rows.Next() {
		var st domain.SubjectStat
		if err := rows.Scan(&st.ID, &st.Subject, &st.SubjectHash, &st.MerchantDomain,
			&st.WorkerName, &st.EmailCount, &st.IsFocused, &st.FirstSeenAt,
			&st.LastSeenAt, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// TotalsByWorker returns the summed email count per worker, an aggregation
// view for operator dashboards.
func (s *Store) TotalsByWorker(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_name, SUM(email_count) FROM subject_stats GROUP BY worker_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var worker string
		var total int64
		if err := rows.Scan(&worker, &total); err != nil {
			return nil, err
		}
		out[worker] = total
	}
	return out, rows.Err()
}
