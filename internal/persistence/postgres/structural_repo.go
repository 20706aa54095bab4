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

// StructuralEventRepo implements persistence.StructuralEventRepository.
type StructuralEventRepo struct {
	db *sqlx.DB
}

// NewStructuralEventRepo wraps db.
func NewStructuralEventRepo(db *sqlx.DB) *StructuralEventRepo { return &StructuralEventRepo{db: db} }

// InsertWithParticipation writes a StructuralEvent and its per-venue
// participation rows in one transaction, the way trades_repo.go writes an
// aggregate and its child rows together.
func (r *StructuralEventRepo) InsertWithParticipation(ctx context.Context, ev domain.StructuralEvent, participation []domain.StructuralEventVenueParticipation) (int64, error) {
	const insertEvent = `
		INSERT INTO structural_events
			(event_id, market_key, outcome_name, threshold_value, threshold_type, break_direction,
			 origin_venue, origin_venue_tier, origin_timestamp, confirmation_timestamp,
			 adoption_percentage, adoption_count, active_venue_count, time_to_consensus_seconds,
			 dispersion_pre, dispersion_post, break_hold_minutes, reversal_detected, reversal_timestamp)
		VALUES
			(:event_id, :market_key, :outcome_name, :threshold_value, :threshold_type, :break_direction,
			 :origin_venue, :origin_venue_tier, :origin_timestamp, :confirmation_timestamp,
			 :adoption_percentage, :adoption_count, :active_venue_count, :time_to_consensus_seconds,
			 :dispersion_pre, :dispersion_post, :break_hold_minutes, :reversal_detected, :reversal_timestamp)
		RETURNING id`
	const insertParticipation = `
		INSERT INTO structural_event_venue_participation
			(structural_event_id, venue, venue_tier, crossed_at, line_before, line_after, delta)
		VALUES
			(:structural_event_id, :venue, :venue_tier, :crossed_at, :line_before, :line_after, :delta)`

	var id int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows, err := tx.NamedQueryContext(ctx, insertEvent, ev)
		if err != nil {
			return err
		}
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()

		for _, p := range participation {
			p.StructuralEventID = id
			if _, err := tx.NamedExecContext(ctx, insertParticipation, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "structural_events.insert_with_participation")
	}
	return id, nil
}

// OpenEvents returns structural events for the outcome that have not
// reversed, most recent first — used to decide whether a new break at the
// same threshold should be suppressed.
func (r *StructuralEventRepo) OpenEvents(ctx context.Context, eventID string, market domain.Market, outcomeName string) ([]domain.StructuralEvent, error) {
	var out []domain.StructuralEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM structural_events
		 WHERE event_id = $1 AND market_key = $2 AND outcome_name = $3 AND reversal_detected = false
		 ORDER BY confirmation_timestamp DESC`,
		eventID, market, outcomeName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "structural_events.open_events")
	}
	return out, nil
}

// MarkReversal flags id as reversed at the given time.
func (r *StructuralEventRepo) MarkReversal(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE structural_events SET reversal_detected = true, reversal_timestamp = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamTransient, err, "structural_events.mark_reversal")
	}
	return nil
}

// UpdateHoldMetrics records post-break dispersion and hold duration once
// observed, a follow-up write after the initial confirmation insert.
func (r *StructuralEventRepo) UpdateHoldMetrics(ctx context.Context, id int64, dispersionPost float64, holdMinutes float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE structural_events SET dispersion_post = $2, break_hold_minutes = $3 WHERE id = $1`,
		id, dispersionPost, holdMinutes)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamTransient, err, "structural_events.update_hold_metrics")
	}
	return nil
}

// ByEventID returns every structural event for a sportsbook event across all
// markets and outcomes, confirmation_timestamp ascending — internal/
// crossmarket walks the full set to align structural breaks with exchange
// probability crossings.
func (r *StructuralEventRepo) ByEventID(ctx context.Context, eventID string) ([]domain.StructuralEvent, error) {
	var out []domain.StructuralEvent
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM structural_events WHERE event_id = $1 ORDER BY confirmation_timestamp ASC`,
		eventID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "structural_events.by_event_id")
	}
	return out, nil
}

// LatestSince returns the most recently confirmed structural event for a
// sportsbook event confirmed at or after since, or nil if none.
func (r *StructuralEventRepo) LatestSince(ctx context.Context, eventID string, since time.Time) (*domain.StructuralEvent, error) {
	var out domain.StructuralEvent
	err := r.db.GetContext(ctx, &out,
		`SELECT * FROM structural_events WHERE event_id = $1 AND confirmation_timestamp >= $2
		 ORDER BY confirmation_timestamp DESC LIMIT 1`,
		eventID, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "structural_events.latest_since")
	}
	return &out, nil
}
