package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
)

// InWindowQuery selects every raw observation across eventIDs/market within a
// window, grounded on original_source signals.py's `_detect_line_move_signals`
// / `_latest_snapshot_by_book_for_events` raw-row queries (no DISTINCT ON —
// callers need the full earliest..latest series per book).
const InWindowQuery = `
	SELECT * FROM odds_snapshots
	WHERE event_id = ANY($1) AND market = $2 AND fetched_at BETWEEN $3 AND $4
	ORDER BY event_id, fetched_at ASC`

// OddsSnapshotRepo implements persistence.OddsSnapshotRepository.
type OddsSnapshotRepo struct {
	db *sqlx.DB
}

// NewOddsSnapshotRepo wraps db.
func NewOddsSnapshotRepo(db *sqlx.DB) *OddsSnapshotRepo { return &OddsSnapshotRepo{db: db} }

// InsertBatch bulk-inserts append-only quote observations within a single
// transaction, grounded on trades_repo.go's batch-insert pattern.
func (r *OddsSnapshotRepo) InsertBatch(ctx context.Context, snapshots []domain.OddsSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	const q = `
		INSERT INTO odds_snapshots (event_id, sport_key, sportsbook_key, market, outcome_name, line, price, fetched_at)
		VALUES (:event_id, :sport_key, :sportsbook_key, :market, :outcome_name, :line, :price, :fetched_at)`

	n := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, s := range snapshots {
			if _, err := tx.NamedExecContext(ctx, q, s); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, apperr.Wrap(apperr.KindUpstreamTransient, err, "odds_snapshots.insert_batch")
	}
	return n, nil
}

// LatestSnapshotsQuery selects, per (sportsbook_key, outcome_name), the most
// recent snapshot within lookback of asOf — grounded on original_source
// consensus.py's `latest_snapshots_for_event` dedupe-to-latest-per-book rule.
const LatestSnapshotsQuery = `
	SELECT DISTINCT ON (sportsbook_key, outcome_name) *
	FROM odds_snapshots
	WHERE event_id = $1 AND market = $2 AND fetched_at BETWEEN $3 AND $4
	ORDER BY sportsbook_key, outcome_name, fetched_at DESC`

// LatestPerBook returns the latest snapshot per (book, outcome) within the
// lookback window ending at asOf.
func (r *OddsSnapshotRepo) LatestPerBook(ctx context.Context, eventID string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	var out []domain.OddsSnapshot
	err := r.db.SelectContext(ctx, &out, LatestSnapshotsQuery, eventID, market, asOf.Add(-lookback), asOf)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "odds_snapshots.latest_per_book")
	}
	return out, nil
}

// InWindow returns the full raw series (every row, not deduped) for eventIDs/market.
func (r *OddsSnapshotRepo) InWindow(ctx context.Context, eventIDs []string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var out []domain.OddsSnapshot
	err := r.db.SelectContext(ctx, &out, InWindowQuery, pq.Array(eventIDs), market, asOf.Add(-lookback), asOf)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "odds_snapshots.in_window")
	}
	return out, nil
}

// DeleteOlderThan removes raw quote observations fetched before cutoff,
// grounded on consensus_repo.go's DeleteOlderThan sibling. This is the
// highest-volume table in the schema (one row per book per poll), so it is
// swept on an hours-scale retention rather than the days-scale one the rest
// of the corpus uses.
func (r *OddsSnapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM odds_snapshots WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "odds_snapshots.delete_older_than")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
