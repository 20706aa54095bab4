package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
)

// SignalsRepo implements persistence.SignalRepository.
type SignalsRepo struct {
	db *sqlx.DB
}

// NewSignalsRepo wraps db.
func NewSignalsRepo(db *sqlx.DB) *SignalsRepo { return &SignalsRepo{db: db} }

// Insert writes a new signal, generating its id if unset.
func (r *SignalsRepo) Insert(ctx context.Context, s domain.Signal) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO signals
			(id, event_id, market, signal_type, direction, from_value, to_value, from_price, to_price,
			 window_minutes, books_affected, velocity_minutes, time_bucket, strength_score, created_at, metadata)
		VALUES
			(:id, :event_id, :market, :signal_type, :direction, :from_value, :to_value, :from_price, :to_price,
			 :window_minutes, :books_affected, :velocity_minutes, :time_bucket, :strength_score, :created_at, :metadata)`
	_, err := r.db.NamedExecContext(ctx, q, s)
	return wrapWriteErr("signals.insert", err)
}

// Get returns a signal by id, or nil if not found.
func (r *SignalsRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	var s domain.Signal
	err := r.db.GetContext(ctx, &s, `SELECT * FROM signals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "signals.get")
	}
	return &s, nil
}

// ListSince returns signals created at or after since, optionally filtered
// by type and a minimum strength score.
func (r *SignalsRepo) ListSince(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength int) ([]domain.Signal, error) {
	q := `SELECT * FROM signals WHERE created_at >= $1 AND strength_score >= $2`
	args := []any{since, minStrength}
	if signalType != nil {
		q += ` AND signal_type = $3`
		args = append(args, *signalType)
	}
	q += ` ORDER BY created_at DESC`

	var out []domain.Signal
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "signals.list_since")
	}
	return out, nil
}

// DeleteOlderThan removes signals created before cutoff.
func (r *SignalsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signals WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "signals.delete_older_than")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
