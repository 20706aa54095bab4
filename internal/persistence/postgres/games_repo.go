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

// GamesRepo implements persistence.GameRepository.
type GamesRepo struct {
	db *sqlx.DB
}

// NewGamesRepo wraps db.
func NewGamesRepo(db *sqlx.DB) *GamesRepo { return &GamesRepo{db: db} }

// Upsert inserts or updates a game row keyed by event_id.
func (r *GamesRepo) Upsert(ctx context.Context, g domain.Game) error {
	const q = `
		INSERT INTO games (event_id, sport_key, commence_time, home_team, away_team)
		VALUES (:event_id, :sport_key, :commence_time, :home_team, :away_team)
		ON CONFLICT (event_id) DO UPDATE SET
			commence_time = EXCLUDED.commence_time,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team`
	_, err := r.db.NamedExecContext(ctx, q, g)
	return wrapWriteErr("games.upsert", err)
}

// Get returns a game by event_id, or nil if not found.
func (r *GamesRepo) Get(ctx context.Context, eventID string) (*domain.Game, error) {
	var g domain.Game
	err := r.db.GetContext(ctx, &g, `SELECT * FROM games WHERE event_id = $1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "games.get")
	}
	return &g, nil
}

// ListUpcoming returns games commencing within the given window of now.
func (r *GamesRepo) ListUpcoming(ctx context.Context, within time.Duration) ([]domain.Game, error) {
	var out []domain.Game
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM games WHERE commence_time BETWEEN now() AND now() + $1::interval ORDER BY commence_time ASC`,
		within.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "games.list_upcoming")
	}
	return out, nil
}

// ListRecentlyFinished returns games with commence_time in [since, until),
// newest first — mirrors historical_backfill.py's candidate-game query
// (commence_time window plus a finished-game buffer, no has_signal/
// has_snapshot existence filter since the backfill job re-checks that
// itself against the local odds ledger).
func (r *GamesRepo) ListRecentlyFinished(ctx context.Context, since, until time.Time) ([]domain.Game, error) {
	var out []domain.Game
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM games WHERE commence_time >= $1 AND commence_time < $2 ORDER BY commence_time DESC, event_id ASC`,
		since, until)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "games.list_recently_finished")
	}
	return out, nil
}
