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

// AlignmentRepo implements persistence.AlignmentRepository.
type AlignmentRepo struct {
	db *sqlx.DB
}

// NewAlignmentRepo wraps db.
func NewAlignmentRepo(db *sqlx.DB) *AlignmentRepo { return &AlignmentRepo{db: db} }

// Upsert writes the sportsbook-to-exchange bridge row.
func (r *AlignmentRepo) Upsert(ctx context.Context, a domain.CanonicalEventAlignment) error {
	const q = `
		INSERT INTO canonical_event_alignments
			(canonical_event_key, sport, league, home_team, away_team, start_time,
			 sportsbook_event_id, kalshi_market_id, polymarket_market_id)
		VALUES
			(:canonical_event_key, :sport, :league, :home_team, :away_team, :start_time,
			 :sportsbook_event_id, :kalshi_market_id, :polymarket_market_id)
		ON CONFLICT (canonical_event_key) DO UPDATE SET
			kalshi_market_id = EXCLUDED.kalshi_market_id,
			polymarket_market_id = EXCLUDED.polymarket_market_id`
	_, err := r.db.NamedExecContext(ctx, q, a)
	return wrapWriteErr("canonical_event_alignments.upsert", err)
}

// ByCanonicalKey looks up an alignment by its canonical event key.
func (r *AlignmentRepo) ByCanonicalKey(ctx context.Context, key string) (*domain.CanonicalEventAlignment, error) {
	var a domain.CanonicalEventAlignment
	err := r.db.GetContext(ctx, &a, `SELECT * FROM canonical_event_alignments WHERE canonical_event_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "canonical_event_alignments.by_canonical_key")
	}
	return &a, nil
}

// BySportsbookEventID looks up an alignment by the sportsbook-side event id.
func (r *AlignmentRepo) BySportsbookEventID(ctx context.Context, eventID string) (*domain.CanonicalEventAlignment, error) {
	var a domain.CanonicalEventAlignment
	err := r.db.GetContext(ctx, &a, `SELECT * FROM canonical_event_alignments WHERE sportsbook_event_id = $1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "canonical_event_alignments.by_sportsbook_event_id")
	}
	return &a, nil
}

// ListUnaligned returns alignments still missing an exchange market id.
func (r *AlignmentRepo) ListUnaligned(ctx context.Context) ([]domain.CanonicalEventAlignment, error) {
	var out []domain.CanonicalEventAlignment
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM canonical_event_alignments WHERE kalshi_market_id IS NULL AND polymarket_market_id IS NULL`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "canonical_event_alignments.list_unaligned")
	}
	return out, nil
}

// ExchangeQuoteRepo implements persistence.ExchangeQuoteRepository.
type ExchangeQuoteRepo struct {
	db *sqlx.DB
}

// NewExchangeQuoteRepo wraps db.
func NewExchangeQuoteRepo(db *sqlx.DB) *ExchangeQuoteRepo { return &ExchangeQuoteRepo{db: db} }

// InsertBatch bulk-inserts exchange probability observations.
func (r *ExchangeQuoteRepo) InsertBatch(ctx context.Context, quotes []domain.ExchangeQuoteEvent) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	const q = `
		INSERT INTO exchange_quote_events (canonical_event_key, source, market_id, outcome_name, probability, price, timestamp)
		VALUES (:canonical_event_key, :source, :market_id, :outcome_name, :probability, :price, :timestamp)`
	n := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, qt := range quotes {
			if _, err := tx.NamedExecContext(ctx, q, qt); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, apperr.Wrap(apperr.KindUpstreamTransient, err, "exchange_quote_events.insert_batch")
	}
	return n, nil
}

// RecentForMarket returns recent quotes for a canonical event/source pair.
func (r *ExchangeQuoteRepo) RecentForMarket(ctx context.Context, canonicalEventKey string, source domain.ExchangeSource, since time.Time) ([]domain.ExchangeQuoteEvent, error) {
	var out []domain.ExchangeQuoteEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM exchange_quote_events WHERE canonical_event_key = $1 AND source = $2 AND timestamp >= $3 ORDER BY timestamp ASC`,
		canonicalEventKey, source, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "exchange_quote_events.recent_for_market")
	}
	return out, nil
}

// RecentForEvent returns quotes for a canonical event across every exchange
// source, timestamp ascending.
func (r *ExchangeQuoteRepo) RecentForEvent(ctx context.Context, canonicalEventKey string, since time.Time) ([]domain.ExchangeQuoteEvent, error) {
	var out []domain.ExchangeQuoteEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM exchange_quote_events WHERE canonical_event_key = $1 AND timestamp >= $2 ORDER BY timestamp ASC`,
		canonicalEventKey, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "exchange_quote_events.recent_for_event")
	}
	return out, nil
}

// LeadLagRepo implements persistence.LeadLagRepository.
type LeadLagRepo struct {
	db *sqlx.DB
}

// NewLeadLagRepo wraps db.
func NewLeadLagRepo(db *sqlx.DB) *LeadLagRepo { return &LeadLagRepo{db: db} }

// Insert records a lead/lag pairing and returns its id.
func (r *LeadLagRepo) Insert(ctx context.Context, ev domain.CrossMarketLeadLagEvent) (int64, error) {
	const q = `
		INSERT INTO cross_market_lead_lag_events
			(canonical_event_key, threshold_type, sportsbook_threshold_value, exchange_probability_threshold,
			 lead_source, sportsbook_break_timestamp, exchange_break_timestamp, lag_seconds)
		VALUES
			(:canonical_event_key, :threshold_type, :sportsbook_threshold_value, :exchange_probability_threshold,
			 :lead_source, :sportsbook_break_timestamp, :exchange_break_timestamp, :lag_seconds)
		RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, q, ev)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "cross_market_lead_lag_events.insert")
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, apperr.Wrap(apperr.KindInternal, err, "cross_market_lead_lag_events.insert.scan")
		}
	}
	return id, nil
}

// DivergenceRepo implements persistence.DivergenceRepository.
type DivergenceRepo struct {
	db *sqlx.DB
}

// NewDivergenceRepo wraps db.
func NewDivergenceRepo(db *sqlx.DB) *DivergenceRepo { return &DivergenceRepo{db: db} }

// Upsert inserts a divergence classification row, idempotent on
// idempotency_key: a row whose key already exists is left unchanged
// (SPEC_FULL.md §8 scenario 5).
func (r *DivergenceRepo) Upsert(ctx context.Context, ev domain.CrossMarketDivergenceEvent) error {
	const q = `
		INSERT INTO cross_market_divergence_events
			(canonical_event_key, divergence_type, lead_source, sportsbook_threshold_value,
			 exchange_probability_threshold, sportsbook_break_timestamp, exchange_break_timestamp,
			 lag_seconds, resolved, resolved_at, resolution_type, idempotency_key)
		VALUES
			(:canonical_event_key, :divergence_type, :lead_source, :sportsbook_threshold_value,
			 :exchange_probability_threshold, :sportsbook_break_timestamp, :exchange_break_timestamp,
			 :lag_seconds, :resolved, :resolved_at, :resolution_type, :idempotency_key)
		ON CONFLICT (idempotency_key) DO NOTHING`
	_, err := r.db.NamedExecContext(ctx, q, ev)
	return wrapWriteErr("cross_market_divergence_events.upsert", err)
}

// Unresolved returns open divergence rows for a canonical event.
func (r *DivergenceRepo) Unresolved(ctx context.Context, canonicalEventKey string) ([]domain.CrossMarketDivergenceEvent, error) {
	var out []domain.CrossMarketDivergenceEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM cross_market_divergence_events WHERE canonical_event_key = $1 AND resolved = false`,
		canonicalEventKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "cross_market_divergence_events.unresolved")
	}
	return out, nil
}

// MarkResolved flags a divergence row resolved. Resolution does not bypass
// the signal cooldown for a subsequent divergence on the same event (Open
// Question decision in DESIGN.md).
func (r *DivergenceRepo) MarkResolved(ctx context.Context, idempotencyKey string, at time.Time, resolutionType string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE cross_market_divergence_events SET resolved = true, resolved_at = $2, resolution_type = $3 WHERE idempotency_key = $1`,
		idempotencyKey, at, resolutionType)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamTransient, err, "cross_market_divergence_events.mark_resolved")
	}
	return nil
}
