// Package storage owns the relational store: connection setup, schema, and
// the transaction helper every bulk operation runs through.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/yinz628/email-filter-sub001/internal/config"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// ErrNoDSN is returned when no database location can be resolved. The caller
// is expected to exit non-zero.
var ErrNoDSN = errors.New("no database location resolved: set DB_PATH or DATABASE_PATH")

// dsnEnvVars are consulted in order before the config value.
var dsnEnvVars = []string{"DB_PATH", "DATABASE_PATH", "DATABASE_URL"}

// ResolveDSN returns the store location: the DB_PATH / DATABASE_PATH /
// DATABASE_URL environment variables in order, then the configured DSN.
func ResolveDSN(cfg config.DatabaseConfig) (string, error) {
	for _, name := range dsnEnvVars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	return "", ErrNoDSN
}

// Open connects to Postgres and verifies the connection.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := ResolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

const (
	txMaxAttempts = 3
	txBaseBackoff = 100 * time.Millisecond
)

// WithTx runs fn inside a transaction, retrying transient failures up to
// three times with exponential backoff. The transaction is rolled back when
// fn returns an error and committed otherwise. Context cancellation stops
// retrying immediately.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
		} else {
			if err := fn(tx); err != nil {
				tx.Rollback()
				lastErr = err
			} else if err := tx.Commit(); err != nil {
				lastErr = err
			} else {
				return nil
			}
		}

		if !retryable(lastErr) || attempt == txMaxAttempts {
			break
		}
		backoff := txBaseBackoff * time.Duration(1<<(attempt-1))
		logger.Warn("transaction retry", "attempt", attempt, "backoff", backoff.String(), "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// retryable reports whether the error looks transient. Serialization and
// deadlock failures retry; constraint violations and context errors do not.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsUniqueViolation(err) {
		return false
	}
	return true
}
