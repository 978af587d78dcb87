// Package cleanup implements the retention passes: expired dynamic rules,
// ignored and stale merchant data, old-user path pruning, and the full
// per-merchant delete. Every logical operation runs in a single transaction
// and is safe to re-run.
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/dynamic"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/rules"
	"github.com/yinz628/email-filter-sub001/internal/storage"
)

// ConfigSource supplies the dynamic-layer configuration for expiry decisions.
type ConfigSource interface {
	Load(ctx context.Context) (domain.DynamicConfig, error)
}

// Service runs the retention operations.
type Service struct {
	db          *sql.DB
	cache       *rules.Cache
	config      ConfigSource
	pendingDays int
	now         func() time.Time
}

// New wires a cleanup service. cache may be nil when no filter engine shares
// the process.
func New(db *sql.DB, cache *rules.Cache, config ConfigSource, pendingDays int) *Service {
	if pendingDays <= 0 {
		pendingDays = 30
	}
	return &Service{db: db, cache: cache, config: config, pendingDays: pendingDays, now: time.Now}
}

// RunAll is the scheduled retention pass: expired dynamic rules, globally
// ignored merchants, and stale pending merchants.
func (s *Service) RunAll(ctx context.Context) error {
	if _, err := s.CleanupExpiredDynamicRules(ctx); err != nil {
		return fmt.Errorf("expired dynamic rules: %w", err)
	}
	if _, err := s.CleanupIgnoredMerchantData(ctx, domain.WorkerGlobal); err != nil {
		return fmt.Errorf("ignored merchant data: %w", err)
	}
	if _, err := s.CleanupOldPendingData(ctx, s.pendingDays, domain.WorkerGlobal); err != nil {
		return fmt.Errorf("old pending data: %w", err)
	}
	return nil
}

// CleanupExpiredDynamicRules deletes dynamic rules past the retention window
// and evicts them from the shared rule cache. No-op while the dynamic layer
// is disabled. Returns the number of rules removed.
func (s *Service) CleanupExpiredDynamicRules(ctx context.Context) (int64, error) {
	cfg, err := s.config.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load dynamic config: %w", err)
	}
	if !cfg.Enabled {
		return 0, nil
	}

	now := s.now()
	var expired []string
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		expired = expired[:0]
		rows, err := tx.QueryContext(ctx, `
			SELECT id, created_at, last_hit_at FROM filter_rules
			WHERE category = 'dynamic'
		`)
		if err != nil {
			return fmt.Errorf("list dynamic rules: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r domain.FilterRule
			var lastHit sql.NullTime
			if err := rows.Scan(&r.ID, &r.CreatedAt, &lastHit); err != nil {
				return err
			}
			if lastHit.Valid {
				t := lastHit.Time
				r.LastHitAt = &t
			}
			if dynamic.Expired(r, cfg, now) {
				expired = append(expired, r.ID)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM filter_rules WHERE id = ANY($1)`, pq.Array(expired))
		return err
	})
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		for _, id := range expired {
			s.cache.Remove(id)
		}
	}
	if len(expired) > 0 {
		logger.Info("expired dynamic rules removed", "count", len(expired))
	}
	return int64(len(expired)), nil
}

// CleanupIgnoredMerchantData prunes data of ignored merchants. For a specific
// worker it deletes only that worker's campaign emails and the worker-status
// rows; for "global" it cascade-deletes every merchant marked ignored
// globally or in any worker.
func (s *Service) CleanupIgnoredMerchantData(ctx context.Context, worker string) (int64, error) {
	if worker == "" || worker == domain.WorkerGlobal {
		return s.deleteMerchantsWhere(ctx, `
			analysis_status = 'ignored'
			OR id IN (SELECT merchant_id FROM merchant_worker_status WHERE analysis_status = 'ignored')`)
	}
	return s.pruneWorkerData(ctx, worker, `ws.analysis_status = 'ignored'`)
}

// CleanupOldPendingData prunes merchants left pending for more than days.
// Worker semantics mirror CleanupIgnoredMerchantData.
func (s *Service) CleanupOldPendingData(ctx context.Context, days int, worker string) (int64, error) {
	if days <= 0 {
		days = s.pendingDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	if worker == "" || worker == domain.WorkerGlobal {
		return s.deleteMerchantsWhere(ctx, `
			analysis_status = 'pending' AND created_at < $1`, cutoff)
	}
	return s.pruneWorkerData(ctx, worker,
		`ws.analysis_status = 'pending' AND ws.created_at < $2`, cutoff)
}

// deleteMerchantsWhere cascade-deletes matching merchants; campaigns, emails,
// paths, and worker-status rows follow through the foreign keys.
func (s *Service) deleteMerchantsWhere(ctx context.Context, where string, args ...interface{}) (int64, error) {
	var deleted int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM merchants WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("delete merchants: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// pruneWorkerData deletes one worker's campaign emails for merchants whose
// effective status for that worker matches the condition, plus the matching
// worker-status rows. merchantCond refers to columns of the status resolution
// subquery; $1 is always the worker name.
func (s *Service) pruneWorkerData(ctx context.Context, worker, merchantCond string, extra ...interface{}) (int64, error) {
	args := append([]interface{}{worker}, extra...)
	var deleted int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM campaign_emails e
			USING campaigns c, merchant_worker_status ws
			WHERE e.campaign_id = c.id
			  AND ws.merchant_id = c.merchant_id
			  AND ws.worker_name = $1
			  AND e.worker_name = $1
			  AND `+merchantCond, args...)
		if err != nil {
			return fmt.Errorf("delete worker emails: %w", err)
		}
		deleted, _ = res.RowsAffected()

		_, err = tx.ExecContext(ctx, `
			DELETE FROM merchant_worker_status ws
			WHERE ws.worker_name = $1 AND `+merchantCond, args...)
		if err != nil {
			return fmt.Errorf("delete worker statuses: %w", err)
		}
		return nil
	})
	return deleted, err
}

// CleanupOldUserPaths trims path rows of recipients never flagged as new
// users, keeping each recipient's first entry.
func (s *Service) CleanupOldUserPaths(ctx context.Context, merchantID string) (int64, error) {
	return s.deleteOldUserPaths(ctx, merchantID, true)
}

// CleanupAllOldUserPaths removes every path row of recipients never flagged
// as new users.
func (s *Service) CleanupAllOldUserPaths(ctx context.Context, merchantID string) (int64, error) {
	return s.deleteOldUserPaths(ctx, merchantID, false)
}

func (s *Service) deleteOldUserPaths(ctx context.Context, merchantID string, keepFirst bool) (int64, error) {
	query := `
		DELETE FROM recipient_paths p
		WHERE p.merchant_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM recipient_paths q
			WHERE q.merchant_id = $1 AND q.recipient = p.recipient AND q.is_new_user
		  )`
	if keepFirst {
		query += `
		  AND p.sequence_order > (
			SELECT MIN(q.sequence_order) FROM recipient_paths q
			WHERE q.merchant_id = $1 AND q.recipient = p.recipient
		  )`
	}

	var deleted int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, merchantID)
		if err != nil {
			return fmt.Errorf("delete old-user paths: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// CleanupOldCustomerPaths removes paths of recipients never flagged as new
// users within the given worker set. Campaign emails are preserved.
func (s *Service) CleanupOldCustomerPaths(ctx context.Context, merchantID string, workers []string) (int64, error) {
	query := `
		DELETE FROM recipient_paths p
		WHERE p.merchant_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM recipient_paths q
			WHERE q.merchant_id = $1 AND q.recipient = p.recipient AND q.is_new_user
		  )`
	args := []interface{}{merchantID}
	if len(workers) > 0 {
		query += `
		  AND p.recipient IN (
			SELECT e.recipient FROM campaign_emails e
			JOIN campaigns c ON c.id = e.campaign_id
			WHERE c.merchant_id = $1 AND e.worker_name = ANY($2)
		  )`
		args = append(args, pq.Array(workers))
	}

	var deleted int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete old-customer paths: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// DeleteResult summarizes one DeleteMerchantData run.
type DeleteResult struct {
	EmailsDeleted   int64 `json:"emails_deleted"`
	PathsDeleted    int64 `json:"paths_deleted"`
	MerchantDeleted bool  `json:"merchant_deleted"`
}

// DeleteMerchantData removes one worker's footprint from a merchant: the
// worker's campaign emails, the now-orphaned recipient paths, recomputed
// campaign counters, and, when nothing remains, the merchant itself.
func (s *Service) DeleteMerchantData(ctx context.Context, merchantID, worker string) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		*res = DeleteResult{}

		var campaignIDs []string
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM campaigns WHERE merchant_id = $1`, merchantID)
		if err != nil {
			return fmt.Errorf("list campaigns: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			campaignIDs = append(campaignIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(campaignIDs) == 0 {
			return nil
		}

		del, err := tx.ExecContext(ctx, `
			DELETE FROM campaign_emails
			WHERE campaign_id = ANY($1) AND worker_name = $2
		`, pq.Array(campaignIDs), worker)
		if err != nil {
			return fmt.Errorf("delete worker emails: %w", err)
		}
		res.EmailsDeleted, _ = del.RowsAffected()

		// Recipients with no email left under this merchant lose their path.
		del, err = tx.ExecContext(ctx, `
			DELETE FROM recipient_paths p
			WHERE p.merchant_id = $1
			  AND NOT EXISTS (
				SELECT 1 FROM campaign_emails e
				WHERE e.campaign_id = ANY($2) AND e.recipient = p.recipient
			  )
		`, merchantID, pq.Array(campaignIDs))
		if err != nil {
			return fmt.Errorf("delete orphaned paths: %w", err)
		}
		res.PathsDeleted, _ = del.RowsAffected()

		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns c SET
				total_emails = (SELECT COUNT(*) FROM campaign_emails e WHERE e.campaign_id = c.id),
				unique_recipients = (SELECT COUNT(*) FROM recipient_paths p WHERE p.campaign_id = c.id)
			WHERE c.merchant_id = $1
		`, merchantID)
		if err != nil {
			return fmt.Errorf("recompute campaign counters: %w", err)
		}

		var remaining int64
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(total_emails), 0) FROM campaigns WHERE merchant_id = $1
		`, merchantID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count remaining emails: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM merchants WHERE id = $1`, merchantID); err != nil {
				return fmt.Errorf("delete merchant: %w", err)
			}
			res.MerchantDeleted = true
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE merchants SET total_emails = $2, updated_at = NOW() WHERE id = $1
		`, merchantID, remaining)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("merchant data deleted",
		"merchant_id", merchantID, "worker", worker,
		"emails_deleted", res.EmailsDeleted, "paths_deleted", res.PathsDeleted,
		"merchant_deleted", res.MerchantDeleted)
	return res, nil
}
