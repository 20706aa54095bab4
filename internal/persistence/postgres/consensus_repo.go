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

// ConsensusRepo implements persistence.ConsensusRepository.
type ConsensusRepo struct {
	db *sqlx.DB
}

// NewConsensusRepo wraps db.
func NewConsensusRepo(db *sqlx.DB) *ConsensusRepo { return &ConsensusRepo{db: db} }

// Upsert writes the latest consensus row for (event, market, outcome).
func (r *ConsensusRepo) Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error {
	const q = `
		INSERT INTO market_consensus_snapshots
			(event_id, market, outcome_name, consensus_line, consensus_price, dispersion, books_count, fetched_at)
		VALUES
			(:event_id, :market, :outcome_name, :consensus_line, :consensus_price, :dispersion, :books_count, :fetched_at)
		ON CONFLICT (event_id, market, outcome_name) DO UPDATE SET
			consensus_line = EXCLUDED.consensus_line,
			consensus_price = EXCLUDED.consensus_price,
			dispersion = EXCLUDED.dispersion,
			books_count = EXCLUDED.books_count,
			fetched_at = EXCLUDED.fetched_at`
	_, err := r.db.NamedExecContext(ctx, q, snap)
	return wrapWriteErr("market_consensus_snapshots.upsert", err)
}

// UpsertMany writes every snapshot from one consensus cycle in a single
// transaction, grounded on trades_repo.go's BeginTxx/loop/Commit pattern so a
// mid-batch failure rolls the whole cycle back instead of partially landing.
func (r *ConsensusRepo) UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error {
	const q = `
		INSERT INTO market_consensus_snapshots
			(event_id, market, outcome_name, consensus_line, consensus_price, dispersion, books_count, fetched_at)
		VALUES
			(:event_id, :market, :outcome_name, :consensus_line, :consensus_price, :dispersion, :books_count, :fetched_at)
		ON CONFLICT (event_id, market, outcome_name) DO UPDATE SET
			consensus_line = EXCLUDED.consensus_line,
			consensus_price = EXCLUDED.consensus_price,
			dispersion = EXCLUDED.dispersion,
			books_count = EXCLUDED.books_count,
			fetched_at = EXCLUDED.fetched_at`
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, snap := range snaps {
			if _, err := tx.NamedExecContext(ctx, q, snap); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapWriteErr("market_consensus_snapshots.upsert_many", err)
}

// Latest returns the current consensus row, or nil if none exists yet.
func (r *ConsensusRepo) Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	var snap domain.MarketConsensusSnapshot
	err := r.db.GetContext(ctx, &snap,
		`SELECT * FROM market_consensus_snapshots WHERE event_id = $1 AND market = $2 AND outcome_name = $3`,
		eventID, market, outcomeName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "market_consensus_snapshots.latest")
	}
	return &snap, nil
}

// DeleteOlderThan removes consensus rows last computed before cutoff,
// grounded on original_source consensus.py's cleanup_old_consensus_snapshots.
func (r *ConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM market_consensus_snapshots WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "market_consensus_snapshots.delete_older_than")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
