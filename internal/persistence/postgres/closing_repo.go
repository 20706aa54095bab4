package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
)

// ClosingConsensusRepo implements persistence.ClosingConsensusRepository.
type ClosingConsensusRepo struct {
	db *sqlx.DB
}

// NewClosingConsensusRepo wraps db.
func NewClosingConsensusRepo(db *sqlx.DB) *ClosingConsensusRepo { return &ClosingConsensusRepo{db: db} }

// Upsert writes the last pre-tipoff consensus row for an outcome.
func (r *ClosingConsensusRepo) Upsert(ctx context.Context, cc domain.ClosingConsensus) error {
	const q = `
		INSERT INTO closing_consensus (event_id, market, outcome_name, close_line, close_price, close_fetched_at, computed_at)
		VALUES (:event_id, :market, :outcome_name, :close_line, :close_price, :close_fetched_at, :computed_at)
		ON CONFLICT (event_id, market, outcome_name) DO UPDATE SET
			close_line = EXCLUDED.close_line,
			close_price = EXCLUDED.close_price,
			close_fetched_at = EXCLUDED.close_fetched_at,
			computed_at = EXCLUDED.computed_at`
	_, err := r.db.NamedExecContext(ctx, q, cc)
	return wrapWriteErr("closing_consensus.upsert", err)
}

// Get returns the closing consensus row, or nil if not yet computed.
func (r *ClosingConsensusRepo) Get(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.ClosingConsensus, error) {
	var cc domain.ClosingConsensus
	err := r.db.GetContext(ctx, &cc,
		`SELECT * FROM closing_consensus WHERE event_id = $1 AND market = $2 AND outcome_name = $3`,
		eventID, market, outcomeName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "closing_consensus.get")
	}
	return &cc, nil
}

// MarketsForEvent returns the distinct markets already closed for an event.
func (r *ClosingConsensusRepo) MarketsForEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	var out []domain.Market
	err := r.db.SelectContext(ctx, &out,
		`SELECT DISTINCT market FROM closing_consensus WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "closing_consensus.markets_for_event")
	}
	return out, nil
}

// DeleteOlderThan removes closing-consensus rows computed before cutoff.
func (r *ClosingConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM closing_consensus WHERE computed_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "closing_consensus.delete_older_than")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClvRepo implements persistence.ClvRepository.
type ClvRepo struct {
	db *sqlx.DB
}

// NewClvRepo wraps db.
func NewClvRepo(db *sqlx.DB) *ClvRepo { return &ClvRepo{db: db} }

// Upsert writes a closing-line-value outcome row, keyed by signal_id.
func (r *ClvRepo) Upsert(ctx context.Context, c domain.ClvRecord) error {
	const q = `
		INSERT INTO clv_records
			(signal_id, event_id, signal_type, market, outcome_name, entry_line, entry_price,
			 close_line, close_price, clv_line, clv_prob, computed_at)
		VALUES
			(:signal_id, :event_id, :signal_type, :market, :outcome_name, :entry_line, :entry_price,
			 :close_line, :close_price, :clv_line, :clv_prob, :computed_at)
		ON CONFLICT (signal_id) DO UPDATE SET
			close_line = EXCLUDED.close_line,
			close_price = EXCLUDED.close_price,
			clv_line = EXCLUDED.clv_line,
			clv_prob = EXCLUDED.clv_prob,
			computed_at = EXCLUDED.computed_at`
	_, err := r.db.NamedExecContext(ctx, q, c)
	return wrapWriteErr("clv_records.upsert", err)
}

// ListForSignal returns the CLV record for a signal, or nil if not computed.
func (r *ClvRepo) ListForSignal(ctx context.Context, signalID string) (*domain.ClvRecord, error) {
	var c domain.ClvRecord
	err := r.db.GetContext(ctx, &c, `SELECT * FROM clv_records WHERE signal_id = $1`, signalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "clv_records.list_for_signal")
	}
	return &c, nil
}

// DeleteOlderThan removes CLV rows computed before cutoff.
func (r *ClvRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clv_records WHERE computed_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "clv_records.delete_older_than")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecentRecords returns every CLV row computed at or after since, grounded
// on original_source performance_intel.py's get_clv_performance_summary
// query shape (its grouping and averaging is done in Go by the caller
// instead of SQL, since persistence stays a thin repository layer here).
func (r *ClvRepo) RecentRecords(ctx context.Context, since time.Time) ([]domain.ClvRecord, error) {
	var out []domain.ClvRecord
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM clv_records WHERE computed_at >= $1 ORDER BY computed_at DESC`, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "clv_records.recent_records")
	}
	return out, nil
}
