package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
)

// QuoteMoveRepo implements persistence.QuoteMoveRepository.
type QuoteMoveRepo struct {
	db *sqlx.DB
}

// NewQuoteMoveRepo wraps db.
func NewQuoteMoveRepo(db *sqlx.DB) *QuoteMoveRepo { return &QuoteMoveRepo{db: db} }

// Insert records a single venue's line/price change and returns its id.
func (r *QuoteMoveRepo) Insert(ctx context.Context, mv domain.QuoteMoveEvent) (int64, error) {
	const q = `
		INSERT INTO quote_move_events
			(event_id, market_key, outcome_name, venue, venue_tier, old_line, new_line, delta, old_price, new_price, timestamp)
		VALUES
			(:event_id, :market_key, :outcome_name, :venue, :venue_tier, :old_line, :new_line, :delta, :old_price, :new_price, :timestamp)
		RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, q, mv)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "quote_move_events.insert")
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, apperr.Wrap(apperr.KindInternal, err, "quote_move_events.insert.scan")
		}
	}
	return id, nil
}

// RecentForOutcome returns quote moves for the outcome within a lookback
// window, ordered oldest-first for sequential threshold-crossing walks.
func (r *QuoteMoveRepo) RecentForOutcome(ctx context.Context, eventID string, market domain.Market, outcomeName string, since time.Time) ([]domain.QuoteMoveEvent, error) {
	var out []domain.QuoteMoveEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM quote_move_events
		 WHERE event_id = $1 AND market_key = $2 AND outcome_name = $3 AND timestamp >= $4
		 ORDER BY timestamp ASC`,
		eventID, market, outcomeName, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "quote_move_events.recent_for_outcome")
	}
	return out, nil
}
