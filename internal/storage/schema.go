package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds every table and index the pipeline owns. Statements are
// idempotent so Migrate can run on every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS filter_rules (
		id          UUID PRIMARY KEY,
		worker_id   TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL CHECK (category IN ('whitelist','blacklist','dynamic','watch')),
		match_type  TEXT NOT NULL CHECK (match_type IN ('sender','subject','domain')),
		match_mode  TEXT NOT NULL CHECK (match_mode IN ('exact','contains','startsWith','endsWith','regex')),
		pattern     TEXT NOT NULL CHECK (pattern <> ''),
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_hit_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filter_rules_category_enabled
		ON filter_rules (category, enabled)`,

	`CREATE TABLE IF NOT EXISTS filter_rule_stats (
		rule_id         UUID PRIMARY KEY REFERENCES filter_rules(id) ON DELETE CASCADE,
		total_processed BIGINT NOT NULL DEFAULT 0,
		deleted_count   BIGINT NOT NULL DEFAULT 0,
		error_count     BIGINT NOT NULL DEFAULT 0,
		last_updated    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS global_counters (
		name  TEXT PRIMARY KEY,
		value BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS dynamic_config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS email_subject_tracker (
		worker_id    TEXT NOT NULL DEFAULT '',
		subject_hash BIGINT NOT NULL,
		subject      TEXT NOT NULL,
		received_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subject_tracker_hash_time
		ON email_subject_tracker (subject_hash, received_at)`,

	`CREATE TABLE IF NOT EXISTS merchants (
		id              UUID PRIMARY KEY,
		domain          TEXT NOT NULL UNIQUE,
		display_name    TEXT NOT NULL DEFAULT '',
		note            TEXT NOT NULL DEFAULT '',
		analysis_status TEXT NOT NULL DEFAULT 'pending' CHECK (analysis_status IN ('pending','active','ignored')),
		total_campaigns BIGINT NOT NULL DEFAULT 0,
		total_emails    BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS merchant_worker_status (
		merchant_id     UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
		worker_name     TEXT NOT NULL,
		analysis_status TEXT NOT NULL DEFAULT 'pending' CHECK (analysis_status IN ('pending','active','ignored')),
		display_name    TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (merchant_id, worker_name)
	)`,

	`CREATE TABLE IF NOT EXISTS campaigns (
		id                UUID PRIMARY KEY,
		merchant_id       UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
		subject           TEXT NOT NULL,
		subject_hash      TEXT NOT NULL,
		tag               INT NOT NULL DEFAULT 0 CHECK (tag BETWEEN 0 AND 4),
		is_root           BOOLEAN NOT NULL DEFAULT FALSE,
		is_root_candidate BOOLEAN NOT NULL DEFAULT FALSE,
		total_emails      BIGINT NOT NULL DEFAULT 0,
		unique_recipients BIGINT NOT NULL DEFAULT 0,
		first_seen_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (merchant_id, subject_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_emails (
		id          UUID PRIMARY KEY,
		campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		recipient   TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		worker_name TEXT NOT NULL DEFAULT 'global'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_emails_worker
		ON campaign_emails (worker_name)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_emails_campaign_recipient
		ON campaign_emails (campaign_id, recipient)`,

	`CREATE TABLE IF NOT EXISTS recipient_paths (
		merchant_id            UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
		recipient              TEXT NOT NULL,
		campaign_id            UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		sequence_order         INT NOT NULL,
		first_received_at      TIMESTAMPTZ NOT NULL,
		is_new_user            BOOLEAN NOT NULL DEFAULT FALSE,
		first_root_campaign_id UUID,
		UNIQUE (merchant_id, recipient, campaign_id),
		UNIQUE (merchant_id, recipient, sequence_order)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recipient_paths_merchant_recipient_seq
		ON recipient_paths (merchant_id, recipient, sequence_order)`,

	`CREATE TABLE IF NOT EXISTS monitoring_rules (
		id                        UUID PRIMARY KEY,
		merchant                  TEXT NOT NULL DEFAULT '',
		name                      TEXT NOT NULL,
		subject_pattern           TEXT NOT NULL CHECK (subject_pattern <> ''),
		match_mode                TEXT NOT NULL DEFAULT 'contains',
		expected_interval_minutes INT NOT NULL,
		dead_after_minutes        INT NOT NULL,
		worker_scope              TEXT NOT NULL DEFAULT 'global',
		enabled                   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS signal_states (
		rule_id      UUID PRIMARY KEY REFERENCES monitoring_rules(id) ON DELETE CASCADE,
		state        TEXT NOT NULL DEFAULT 'DEAD' CHECK (state IN ('ACTIVE','WEAK','DEAD')),
		last_seen_at TIMESTAMPTZ,
		count_1h     BIGINT NOT NULL DEFAULT 0,
		count_12h    BIGINT NOT NULL DEFAULT 0,
		count_24h    BIGINT NOT NULL DEFAULT 0,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_states_rule
		ON signal_states (rule_id)`,

	`CREATE TABLE IF NOT EXISTS hit_logs (
		id          UUID PRIMARY KEY,
		rule_id     UUID NOT NULL REFERENCES monitoring_rules(id) ON DELETE CASCADE,
		sender      TEXT NOT NULL,
		subject     TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hit_logs_rule_received
		ON hit_logs (rule_id, received_at)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id             UUID PRIMARY KEY,
		rule_id        UUID NOT NULL REFERENCES monitoring_rules(id) ON DELETE CASCADE,
		alert_type     TEXT NOT NULL CHECK (alert_type IN ('SIGNAL_RECOVERED','SIGNAL_WEAKENED','SIGNAL_DEAD')),
		previous_state TEXT NOT NULL,
		current_state  TEXT NOT NULL,
		gap_minutes    BIGINT NOT NULL DEFAULT 0,
		count_1h       BIGINT NOT NULL DEFAULT 0,
		count_12h      BIGINT NOT NULL DEFAULT 0,
		count_24h      BIGINT NOT NULL DEFAULT 0,
		message        TEXT NOT NULL DEFAULT '',
		sent_at        TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS ratio_monitors (
		id                UUID PRIMARY KEY,
		name              TEXT NOT NULL,
		tag               TEXT NOT NULL DEFAULT '',
		first_rule_id     UUID NOT NULL REFERENCES monitoring_rules(id) ON DELETE CASCADE,
		second_rule_id    UUID NOT NULL REFERENCES monitoring_rules(id) ON DELETE CASCADE,
		steps             TEXT NOT NULL DEFAULT '[]',
		threshold_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		time_window       INT NOT NULL DEFAULT 60,
		worker_scope      TEXT NOT NULL DEFAULT 'global',
		enabled           BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS ratio_states (
		monitor_id    UUID PRIMARY KEY REFERENCES ratio_monitors(id) ON DELETE CASCADE,
		state         TEXT NOT NULL DEFAULT 'HEALTHY' CHECK (state IN ('HEALTHY','WARN','ALERT')),
		first_count   BIGINT NOT NULL DEFAULT 0,
		second_count  BIGINT NOT NULL DEFAULT 0,
		current_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
		steps_data    TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS ratio_alerts (
		id             UUID PRIMARY KEY,
		monitor_id     UUID NOT NULL REFERENCES ratio_monitors(id) ON DELETE CASCADE,
		previous_state TEXT NOT NULL,
		current_state  TEXT NOT NULL,
		first_count    BIGINT NOT NULL DEFAULT 0,
		second_count   BIGINT NOT NULL DEFAULT 0,
		current_ratio  DOUBLE PRECISION NOT NULL DEFAULT 0,
		message        TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS analysis_projects (
		id           UUID PRIMARY KEY,
		name         TEXT NOT NULL,
		merchant_id  UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
		worker_names TEXT NOT NULL DEFAULT '[]',
		status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','archived')),
		note         TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS subject_stats (
		id              UUID PRIMARY KEY,
		subject         TEXT NOT NULL,
		subject_hash    TEXT NOT NULL,
		merchant_domain TEXT NOT NULL,
		worker_name     TEXT NOT NULL DEFAULT 'global',
		email_count     BIGINT NOT NULL DEFAULT 0,
		is_focused      BOOLEAN NOT NULL DEFAULT FALSE,
		first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (subject_hash, merchant_domain, worker_name)
	)`,

	`CREATE TABLE IF NOT EXISTS filter_logs (
		id          UUID PRIMARY KEY,
		category    TEXT NOT NULL CHECK (category IN ('email_forward','email_drop','admin_action','system')),
		worker_name TEXT NOT NULL DEFAULT 'global',
		message     TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filter_logs_category_time
		ON filter_logs (category, created_at)`,
}

// Migrate creates all tables and indexes. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
