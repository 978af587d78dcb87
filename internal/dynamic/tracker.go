package dynamic

import (
	"context"
	"database/sql"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// PostgresTracker implements TrackerStore over email_subject_tracker.
// subject_hash is stored as a signed BIGINT; the uint64 round-trips through
// the int64 cast unchanged.
type PostgresTracker struct {
	db *sql.DB
}

// NewPostgresTracker creates a tracker store.
func NewPostgresTracker(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

func (t *PostgresTracker) Append(ctx context.Context, e domain.SubjectTrackerEntry) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO email_subject_tracker (worker_id, subject_hash, subject, received_at)
		VALUES ($1, $2, $3, $4)
	`, e.WorkerID, int64(e.SubjectHash), e.Subject, e.ReceivedAt)
	return err
}

func (t *PostgresTracker) CountInWindow(ctx context.Context, hash uint64, from, to time.Time) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_subject_tracker
		WHERE subject_hash = $1 AND received_at >= $2 AND received_at <= $3
	`, int64(hash), from, to).Scan(&n)
	return n, err
}

func (t *PostgresTracker) FirstTimestamps(ctx context.Context, hash uint64, from, to time.Time, n int) ([]time.Time, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT received_at FROM email_subject_tracker
		WHERE subject_hash = $1 AND received_at >= $2 AND received_at <= $3
		ORDER BY received_at
		LIMIT $4
	`, int64(hash), from, to, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (t *PostgresTracker) PurgeBefore(ctx context.Context, hash uint64, cutoff time.Time) error {
	_, err := t.db.ExecContext(ctx, `
		DELETE FROM email_subject_tracker
		WHERE subject_hash = $1 AND received_at < $2
	`, int64(hash), cutoff)
	return err
}
