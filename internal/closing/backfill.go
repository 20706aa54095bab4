package closing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
)

// finishedGameBufferHours mirrors historical_backfill.py's
// FINISHED_GAME_BUFFER_HOURS — a game must be this old before it's treated
// as a backfill candidate, giving live ingestion a chance to close it first.
const finishedGameBufferHours = 4 * time.Hour

// BackfillMetrics mirrors historical_backfill.py's metrics dict.
type BackfillMetrics struct {
	GamesScanned    int
	GamesBackfilled int
	GamesSkipped    int
	Errors          int
}

// BackfillService re-derives missing closing consensus rows for recently
// finished games from the local odds ledger. Grounded on
// historical_backfill.py's _run_backfill, minus the live historical-odds
// refetch (see closing.go's package doc) — this reads from
// OddsSnapshotRepository instead of calling out to a paid endpoint.
type BackfillService struct {
	closing *Service
}

// NewBackfillService wires a BackfillService around an existing Service.
func NewBackfillService(closing *Service) *BackfillService {
	return &BackfillService{closing: closing}
}

// BackfillMissingCloses scans games commencing in the last lookbackHours
// (excluding the most recent finishedGameBufferHours) for markets still
// missing a closing consensus row, and closes up to maxGames of them.
func (b *BackfillService) BackfillMissingCloses(ctx context.Context, lookbackHours, maxGames int) BackfillMetrics {
	var metrics BackfillMetrics
	if maxGames <= 0 {
		return metrics
	}

	now := time.Now().UTC()
	if lookbackHours < 1 {
		lookbackHours = 1
	}
	since := now.Add(-time.Duration(lookbackHours) * time.Hour)
	until := now.Add(-finishedGameBufferHours)
	if until.Before(since) {
		return metrics
	}

	games, err := b.closing.games.ListRecentlyFinished(ctx, since, until)
	if err != nil {
		log.Error().Err(err).Msg("closing: backfill candidate query failed")
		metrics.Errors++
		return metrics
	}

	processed := 0
	for _, game := range games {
		metrics.GamesScanned++
		if processed >= maxGames {
			break
		}

		existingMarkets, err := b.closing.closing.MarketsForEvent(ctx, game.EventID)
		if err != nil {
			log.Error().Err(err).Str("event_id", game.EventID).Msg("closing: backfill existing-markets lookup failed")
			metrics.Errors++
			metrics.GamesSkipped++
			continue
		}
		if allCanonicalMarketsClosed(existingMarkets) {
			metrics.GamesSkipped++
			continue
		}

		processed++
		written, err := b.closing.CloseGame(ctx, game.EventID)
		if err != nil {
			log.Error().Err(err).Str("event_id", game.EventID).Msg("closing: backfill close failed")
			metrics.Errors++
			metrics.GamesSkipped++
			continue
		}
		if written > 0 {
			metrics.GamesBackfilled++
		} else {
			metrics.GamesSkipped++
		}
	}

	log.Info().
		Int("games_scanned", metrics.GamesScanned).
		Int("games_backfilled", metrics.GamesBackfilled).
		Int("games_skipped", metrics.GamesSkipped).
		Int("errors", metrics.Errors).
		Msg("closing: backfill completed")
	return metrics
}

func allCanonicalMarketsClosed(existing []domain.Market) bool {
	have := make(map[domain.Market]bool, len(existing))
	for _, m := range existing {
		have[m] = true
	}
	for _, m := range CanonicalMarkets {
		if !have[m] {
			return false
		}
	}
	return true
}
