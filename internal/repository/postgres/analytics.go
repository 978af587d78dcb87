// Package postgres holds the database/sql repository implementations backing
// the service layer.
package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/service/analytics"
	"github.com/yinz628/email-filter-sub001/internal/storage"
)

// AnalyticsRepo implements analytics.Repository over Postgres.
type AnalyticsRepo struct {
	db *sql.DB
}

// NewAnalyticsRepo creates an analytics repository.
func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo {
	return &AnalyticsRepo{db: db}
}

const merchantColumns = `id, domain, display_name, note, analysis_status,
	total_campaigns, total_emails, created_at, updated_at`

func scanMerchant(row interface{ Scan(...interface{}) error }) (*domain.Merchant, error) {
	var m domain.Merchant
	err := row.Scan(&m.ID, &m.Domain, &m.DisplayName, &m.Note, &m.AnalysisStatus,
		&m.TotalCampaigns, &m.TotalEmails, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMerchant looks up one merchant by id.
func (r *AnalyticsRepo) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	m, err := scanMerchant(r.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analytics.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return m, nil
}

// GetMerchantByDomain looks up one merchant by its root domain.
func (r *AnalyticsRepo) GetMerchantByDomain(ctx context.Context, dom string) (*domain.Merchant, error) {
	m, err := scanMerchant(r.db.QueryRowContext(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE domain = $1`, dom))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analytics.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant by domain: %w", err)
	}
	return m, nil
}

// UpsertMerchant returns the merchant for dom, creating it with zeroed
// counters when absent. A concurrent insert of the same domain resolves to
// the surviving row.
func (r *AnalyticsRepo) UpsertMerchant(ctx context.Context, dom string) (*domain.Merchant, bool, error) {
	m, err := r.GetMerchantByDomain(ctx, dom)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, analytics.ErrMerchantNotFound) {
		return nil, false, err
	}

	m, err = scanMerchant(r.db.QueryRowContext(ctx, `
		INSERT INTO merchants (id, domain) VALUES ($1, $2)
		ON CONFLICT (domain) DO NOTHING
		RETURNING `+merchantColumns,
		uuid.New().String(), dom))
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the insert race.
		m, err = r.GetMerchantByDomain(ctx, dom)
		return m, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert merchant: %w", err)
	}
	return m, true, nil
}

// ListMerchants returns merchants matching the filter, most emails first.
func (r *AnalyticsRepo) ListMerchants(ctx context.Context, f analytics.MerchantFilter) ([]domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE 1=1`
	var args []interface{}
	argN := 1

	if f.AnalysisStatus != "" {
		query += fmt.Sprintf(" AND analysis_status = $%d", argN)
		args = append(args, f.AnalysisStatus)
		argN++
	}
	if f.Search != "" {
		query += fmt.Sprintf(" AND (domain ILIKE $%d OR display_name ILIKE $%d)", argN, argN)
		args = append(args, "%"+f.Search+"%")
		argN++
	}
	query += ` ORDER BY total_emails DESC, domain`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, f.Limit)
		argN++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer rows.Close()

	var out []domain.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMerchant applies the non-nil fields of u.
func (r *AnalyticsRepo) UpdateMerchant(ctx context.Context, id string, u analytics.MerchantUpdate) error {
	var sets []string
	var args []interface{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.DisplayName != nil {
		add("display_name", *u.DisplayName)
	}
	if u.Note != nil {
		add("note", *u.Note)
	}
	if u.AnalysisStatus != nil {
		add("analysis_status", *u.AnalysisStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE merchants SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update merchant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return analytics.ErrMerchantNotFound
	}
	return nil
}

// IncrementMerchantEmails bumps the eventually-consistent email total.
func (r *AnalyticsRepo) IncrementMerchantEmails(ctx context.Context, id string, delta int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE merchants SET total_emails = total_emails + $2, updated_at = NOW()
		WHERE id = $1`, id, delta)
	return err
}

// IncrementMerchantCampaigns bumps the campaign total.
func (r *AnalyticsRepo) IncrementMerchantCampaigns(ctx context.Context, id string, delta int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE merchants SET total_campaigns = total_campaigns + $2, updated_at = NOW()
		WHERE id = $1`, id, delta)
	return err
}

// EffectiveAnalysisStatus resolves the analysis status for one worker. Worker
// "global" reads the merchant column directly; other workers fall back to it
// when no override row exists.
func (r *AnalyticsRepo) EffectiveAnalysisStatus(ctx context.Context, merchantID, workerName string) (domain.AnalysisStatus, error) {
	var status domain.AnalysisStatus
	var err error
	if workerName == "" || workerName == domain.WorkerGlobal {
		err = r.db.QueryRowContext(ctx,
			`SELECT analysis_status FROM merchants WHERE id = $1`, merchantID).Scan(&status)
	} else {
		err = r.db.QueryRowContext(ctx, `
			SELECT COALESCE(ws.analysis_status, m.analysis_status)
			FROM merchants m
			LEFT JOIN merchant_worker_status ws
				ON ws.merchant_id = m.id AND ws.worker_name = $2
			WHERE m.id = $1`, merchantID, workerName).Scan(&status)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", analytics.ErrMerchantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("effective analysis status: %w", err)
	}
	return status, nil
}

// SetWorkerStatus upserts one per-worker override row.
func (r *AnalyticsRepo) SetWorkerStatus(ctx context.Context, s domain.MerchantWorkerStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant_worker_status (merchant_id, worker_name, analysis_status, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (merchant_id, worker_name) DO UPDATE SET
			analysis_status = EXCLUDED.analysis_status,
			display_name    = EXCLUDED.display_name,
			updated_at      = NOW()
	`, s.MerchantID, s.WorkerName, s.AnalysisStatus, s.DisplayName)
	if err != nil {
		return fmt.Errorf("set worker status: %w", err)
	}
	return nil
}

// ListWorkerStatuses returns all override rows for one merchant.
func (r *AnalyticsRepo) ListWorkerStatuses(ctx context.Context, merchantID string) ([]domain.MerchantWorkerStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT merchant_id, worker_name, analysis_status, display_name, created_at, updated_at
		FROM merchant_worker_status WHERE merchant_id = $1 ORDER BY worker_name
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list worker statuses: %w", err)
	}
	defer rows.Close()

	var out []domain.MerchantWorkerStatus
	for rows.Next() {
		var s domain.MerchantWorkerStatus
		if err := rows.Scan(&s.MerchantID, &s.WorkerName, &s.AnalysisStatus,
			&s.DisplayName, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const campaignColumns = `id, merchant_id, subject, subject_hash, tag, is_root,
	is_root_candidate, total_emails, unique_recipients, first_seen_at, last_seen_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.MerchantID, &c.Subject, &c.SubjectHash, &c.Tag,
		&c.IsRoot, &c.IsRootCandidate, &c.TotalEmails, &c.UniqueRecipients,
		&c.FirstSeenAt, &c.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaign looks up one campaign by id.
func (r *AnalyticsRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analytics.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func subjectHash(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}

// UpsertCampaign dedups by (merchant, sha256(subject)). Hits bump
// total_emails and advance last_seen_at; misses create the campaign with
// total_emails=1 and zero recipients.
func (r *AnalyticsRepo) UpsertCampaign(ctx context.Context, merchantID, subject string, receivedAt time.Time) (*domain.Campaign, bool, error) {
	hash := subjectHash(subject)

	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		UPDATE campaigns SET
			total_emails = total_emails + 1,
			last_seen_at = GREATEST(last_seen_at, $3)
		WHERE merchant_id = $1 AND subject_hash = $2
		RETURNING `+campaignColumns,
		merchantID, hash, receivedAt))
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("update campaign: %w", err)
	}

	c, err = scanCampaign(r.db.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(id, merchant_id, subject, subject_hash, total_emails, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (merchant_id, subject_hash) DO NOTHING
		RETURNING `+campaignColumns,
		uuid.New().String(), merchantID, subject, hash, receivedAt))
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the insert race; fold this email into the surviving row.
		c, err = scanCampaign(r.db.QueryRowContext(ctx, `
			UPDATE campaigns SET
				total_emails = total_emails + 1,
				last_seen_at = GREATEST(last_seen_at, $3)
			WHERE merchant_id = $1 AND subject_hash = $2
			RETURNING `+campaignColumns,
			merchantID, hash, receivedAt))
		if err != nil {
			return nil, false, fmt.Errorf("upsert campaign: %w", err)
		}
		return c, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert campaign: %w", err)
	}
	return c, true, nil
}

// ListCampaigns returns every campaign of one merchant.
func (r *AnalyticsRepo) ListCampaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE merchant_id = $1 ORDER BY first_seen_at, id`,
		merchantID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetCampaignTag sets the value tag.
func (r *AnalyticsRepo) SetCampaignTag(ctx context.Context, id string, tag int) error {
	return r.campaignExec(ctx, `UPDATE campaigns SET tag = $2 WHERE id = $1`, id, tag)
}

// SetCampaignRoot sets or clears the confirmed-root flag.
func (r *AnalyticsRepo) SetCampaignRoot(ctx context.Context, id string, isRoot bool) error {
	return r.campaignExec(ctx, `UPDATE campaigns SET is_root = $2 WHERE id = $1`, id, isRoot)
}

// MarkRootCandidate flags an auto-detected candidate root.
func (r *AnalyticsRepo) MarkRootCandidate(ctx context.Context, id string) error {
	return r.campaignExec(ctx, `UPDATE campaigns SET is_root_candidate = TRUE WHERE id = $1`, id)
}

func (r *AnalyticsRepo) campaignExec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return analytics.ErrCampaignNotFound
	}
	return nil
}

// InsertCampaignEmail appends one received email row.
func (r *AnalyticsRepo) InsertCampaignEmail(ctx context.Context, e domain.CampaignEmail) error {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	worker := e.WorkerName
	if worker == "" {
		worker = domain.WorkerGlobal
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_emails (id, campaign_id, recipient, received_at, worker_name)
		VALUES ($1, $2, $3, $4, $5)
	`, id, e.CampaignID, e.Recipient, e.ReceivedAt, worker)
	if err != nil {
		return fmt.Errorf("insert campaign email: %w", err)
	}
	return nil
}

// AppendRecipientPath inserts the next path row for (merchant, recipient,
// campaign) unless one exists. The sequence rank continues from the
// recipient's current maximum; duplicate inserts racing through the unique
// constraint are treated as already-present.
func (r *AnalyticsRepo) AppendRecipientPath(ctx context.Context, merchantID, recipient, campaignID string, receivedAt time.Time) (bool, error) {
	inserted := false
	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		inserted = false
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM recipient_paths
				WHERE merchant_id = $1 AND recipient = $2 AND campaign_id = $3
			)`, merchantID, recipient, campaignID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check path row: %w", err)
		}
		if exists {
			return nil
		}

		var seq int
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence_order), -1) + 1 FROM recipient_paths
			WHERE merchant_id = $1 AND recipient = $2
		`, merchantID, recipient).Scan(&seq)
		if err != nil {
			return fmt.Errorf("next sequence order: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipient_paths
				(merchant_id, recipient, campaign_id, sequence_order, first_received_at)
			VALUES ($1, $2, $3, $4, $5)
		`, merchantID, recipient, campaignID, seq, receivedAt)
		if storage.IsUniqueViolation(err) {
			// A concurrent append won; the row is present either way.
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert path row: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET unique_recipients = unique_recipients + 1 WHERE id = $1
		`, campaignID)
		if err != nil {
			return fmt.Errorf("bump unique recipients: %w", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

const pathColumns = `p.merchant_id, p.recipient, p.campaign_id, p.sequence_order,
	p.first_received_at, p.is_new_user, p.first_root_campaign_id`

func scanPath(row interface{ Scan(...interface{}) error }) (domain.RecipientPath, error) {
	var p domain.RecipientPath
	var firstRoot sql.NullString
	err := row.Scan(&p.MerchantID, &p.Recipient, &p.CampaignID, &p.SequenceOrder,
		&p.FirstReceivedAt, &p.IsNewUser, &firstRoot)
	p.FirstRootCampaignID = firstRoot.String
	return p, err
}

// LoadPaths returns the merchant's path rows ordered by (recipient,
// sequence_order). A non-empty worker set keeps only recipients with at
// least one campaign email from one of those workers.
func (r *AnalyticsRepo) LoadPaths(ctx context.Context, merchantID string, workers []string) ([]domain.RecipientPath, error) {
	query := `SELECT ` + pathColumns + ` FROM recipient_paths p WHERE p.merchant_id = $1`
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
	query += ` ORDER BY p.recipient, p.sequence_order`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load paths: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientPath
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClearNewUserFlags resets the new-user partition for one merchant.
func (r *AnalyticsRepo) ClearNewUserFlags(ctx context.Context, merchantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipient_paths
		SET is_new_user = FALSE, first_root_campaign_id = NULL
		WHERE merchant_id = $1`, merchantID)
	return err
}

// MarkNewUsersForRoot flags every recipient who saw rootID and has no other
// first-root yet. Returns the number of recipients flagged.
func (r *AnalyticsRepo) MarkNewUsersForRoot(ctx context.Context, merchantID, rootID string) (int64, error) {
	var recipients int64
	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		recipients = 0
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(DISTINCT p.recipient) FROM recipient_paths p
			WHERE p.merchant_id = $1 AND p.campaign_id = $2
			  AND NOT EXISTS (
				SELECT 1 FROM recipient_paths q
				WHERE q.merchant_id = $1 AND q.recipient = p.recipient
				  AND q.first_root_campaign_id IS NOT NULL
				  AND q.first_root_campaign_id <> $2
			  )`, merchantID, rootID).Scan(&recipients)
		if err != nil {
			return fmt.Errorf("count root recipients: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE recipient_paths SET is_new_user = TRUE, first_root_campaign_id = $2
			WHERE merchant_id = $1
			  AND recipient IN (
				SELECT recipient FROM recipient_paths
				WHERE merchant_id = $1 AND campaign_id = $2
			  )
			  AND NOT EXISTS (
				SELECT 1 FROM recipient_paths q
				WHERE q.merchant_id = $1 AND q.recipient = recipient_paths.recipient
				  AND q.first_root_campaign_id IS NOT NULL
				  AND q.first_root_campaign_id <> $2
			  )`, merchantID, rootID)
		if err != nil {
			return fmt.Errorf("flag new users: %w", err)
		}
		return nil
	})
	return recipients, err
}

// MarkRecipientNewUser flags all of one recipient's path rows.
func (r *AnalyticsRepo) MarkRecipientNewUser(ctx context.Context, merchantID, recipient, rootID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipient_paths SET is_new_user = TRUE, first_root_campaign_id = $3
		WHERE merchant_id = $1 AND recipient = $2
	`, merchantID, recipient, rootID)
	return err
}

// ConfirmedRootIDs lists the ids of confirmed root campaigns.
func (r *AnalyticsRepo) ConfirmedRootIDs(ctx context.Context, merchantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE merchant_id = $1 AND is_root ORDER BY first_seen_at, id`,
		merchantID)
	if err != nil {
		return nil, fmt.Errorf("list root campaigns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeletePaths removes every path row of one merchant, returning the count.
func (r *AnalyticsRepo) DeletePaths(ctx context.Context, merchantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recipient_paths WHERE merchant_id = $1`, merchantID)
	if err != nil {
		return 0, fmt.Errorf("delete paths: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReplayEmails streams the merchant's campaign emails in (recipient,
// received_at) order for a path rebuild.
func (r *AnalyticsRepo) ReplayEmails(ctx context.Context, merchantID string, workers []string) ([]analytics.ReplayRow, error) {
	query := `
		SELECT e.recipient, e.campaign_id, e.received_at
		FROM campaign_emails e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE c.merchant_id = $1`
	args := []interface{}{merchantID}
	if len(workers) > 0 {
		query += ` AND e.worker_name = ANY($2)`
		args = append(args, pq.Array(workers))
	}
	query += ` ORDER BY e.recipient, e.received_at, e.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replay emails: %w", err)
	}
	defer rows.Close()

	var out []analytics.ReplayRow
	for rows.Next() {
		var row analytics.ReplayRow
		if err := rows.Scan(&row.Recipient, &row.CampaignID, &row.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertPathRow writes one rebuilt path row. Duplicate (merchant, recipient,
// campaign) rows are ignored.
func (r *AnalyticsRepo) InsertPathRow(ctx context.Context, p domain.RecipientPath) error {
	var firstRoot interface{}
	if p.FirstRootCampaignID != "" {
		firstRoot = p.FirstRootCampaignID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipient_paths
			(merchant_id, recipient, campaign_id, sequence_order, first_received_at,
			 is_new_user, first_root_campaign_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.MerchantID, p.Recipient, p.CampaignID, p.SequenceOrder,
		p.FirstReceivedAt, p.IsNewUser, firstRoot)
	if storage.IsUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert path row: %w", err)
	}
	return nil
}

// RecountCampaignRecipients rebuilds unique_recipients from the path table.
func (r *AnalyticsRepo) RecountCampaignRecipients(ctx context.Context, merchantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns c SET unique_recipients = (
			SELECT COUNT(*) FROM recipient_paths p WHERE p.campaign_id = c.id
		)
		WHERE c.merchant_id = $1`, merchantID)
	if err != nil {
		return fmt.Errorf("recount campaign recipients: %w", err)
	}
	return nil
}

// CreateProject records one analysis project label.
func (r *AnalyticsRepo) CreateProject(ctx context.Context, p domain.AnalysisProject) (*domain.AnalysisProject, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	workers, err := json.Marshal(p.WorkerNames)
	if err != nil {
		return nil, fmt.Errorf("encode worker names: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO analysis_projects (id, name, merchant_id, worker_names, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.MerchantID, string(workers), p.Status, p.Note).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

// ListProjects returns a merchant's analysis projects, newest first.
func (r *AnalyticsRepo) ListProjects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, merchant_id, worker_names, status, note, created_at, updated_at
		FROM analysis_projects WHERE merchant_id = $1 ORDER BY created_at DESC, id
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalysisProject
	for rows.Next() {
		var p domain.AnalysisProject
		var workers string
		if err := rows.Scan(&p.ID, &p.Name, &p.MerchantID, &workers, &p.Status,
			&p.Note, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(workers), &p.WorkerNames); err != nil {
			return nil, fmt.Errorf("decode worker names: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectStatus flips a project between active and archived.
func (r *AnalyticsRepo) UpdateProjectStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE analysis_projects SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// DeleteProject removes the label row only.
func (r *AnalyticsRepo) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM analysis_projects WHERE id = $1`, id)
	return err
}
