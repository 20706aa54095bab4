// Package postgres implements internal/persistence's repository interfaces
// against PostgreSQL via sqlx, following the teacher's
// postgres/trades_repo.go and postgres/regime_repo.go conventions:
// context-scoped transactions, pq.Error 23505 idempotency-conflict
// detection, and ON CONFLICT upserts rather than read-then-write races.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sawpanic/stratum/internal/apperr"
)

// Open establishes a connection pool with the teacher's pooling defaults,
// tunable via config.AmbientConfig.
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the teacher's idempotency-conflict detection idiom.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// wrapWriteErr classifies a write failure into the apperr taxonomy.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindIdempotencyConflict, err, op)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.KindValidation, err, op)
	}
	return apperr.Wrap(apperr.KindUpstreamTransient, err, op)
}

// withTx runs fn inside a transaction, grounded on trades_repo.go's
// BeginTxx/commit-or-rollback pattern.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
