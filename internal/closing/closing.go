// Package closing computes closing-line consensus and closing-line-value
// (C8). Grounded on original_source/backend/app/services/
// historical_backfill.py's _compute_close_points for the median-at-
// selected-timestamp algorithm, adapted to read from the append-only
// odds_snapshots ledger instead of refetching from a paid historical-odds
// endpoint: internal/persistence.OddsSnapshotRepository.InWindow already
// retains every raw per-book observation this module needs, so a game
// closed shortly after tipoff (before snapshot retention expires it) never
// requires an external refetch. See DESIGN.md for the full rationale.
package closing

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

// CanonicalMarkets mirrors historical_backfill.py's CANONICAL_MARKETS set.
var CanonicalMarkets = []domain.Market{domain.MarketSpreads, domain.MarketTotals, domain.MarketH2H}

// closeWindowBefore/After bound the odds_snapshots query around tipoff,
// matching the widest spread in HISTORY_OFFSETS_MINUTES (-180..+60).
const (
	closeWindowBefore = 180 * time.Minute
	closeWindowAfter  = 60 * time.Minute
)

// closePoint is the per-(market,outcome) selection result, ported as
// _ClosePoint.
type closePoint struct {
	market        domain.Market
	outcomeName   string
	closeLine     *float64
	closePrice    *float64
	closeFetchedAt time.Time
	inferred      bool
}

// Service computes and persists closing consensus and CLV rows.
type Service struct {
	games    persistence.GameRepository
	snapshots persistence.OddsSnapshotRepository
	closing  persistence.ClosingConsensusRepository
}

// NewService wires a Service to its dependencies.
func NewService(games persistence.GameRepository, snapshots persistence.OddsSnapshotRepository, closing persistence.ClosingConsensusRepository) *Service {
	return &Service{games: games, snapshots: snapshots, closing: closing}
}

// CloseGame derives and upserts the closing consensus for every canonical
// market of one game, anchored at its commence_time. Returns the number of
// (market, outcome) rows written. Safe to call repeatedly — re-running
// after tipoff with the same ledger reproduces the same selection.
func (s *Service) CloseGame(ctx context.Context, eventID string) (int, error) {
	game, err := s.games.Get(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if game == nil {
		return 0, nil
	}

	now := time.Now().UTC()
	windowEnd := game.CommenceTime.Add(closeWindowAfter)
	if windowEnd.After(now) {
		windowEnd = now
	}

	var rows []domain.OddsSnapshot
	for _, market := range CanonicalMarkets {
		lookback := windowEnd.Sub(game.CommenceTime.Add(-closeWindowBefore))
		if lookback <= 0 {
			continue
		}
		mrows, err := s.snapshots.InWindow(ctx, []string{eventID}, market, lookback, windowEnd)
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Str("market", string(market)).Msg("closing: failed to load snapshots")
			continue
		}
		rows = append(rows, mrows...)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	points := computeClosePoints(rows, game.CommenceTime, CanonicalMarkets)
	written := 0
	for _, p := range points {
		if p.inferred {
			log.Warn().Str("event_id", eventID).Str("market", string(p.market)).Str("outcome", p.outcomeName).
				Time("close_fetched_at", p.closeFetchedAt).Msg("closing: inferred close from post-tipoff snapshot")
		}
		cc := domain.ClosingConsensus{
			EventID:        eventID,
			Market:         p.market,
			OutcomeName:    p.outcomeName,
			CloseLine:      p.closeLine,
			ClosePrice:     p.closePrice,
			CloseFetchedAt: p.closeFetchedAt,
			ComputedAt:     now,
		}
		if err := s.closing.Upsert(ctx, cc); err != nil {
			log.Error().Err(err).Str("event_id", eventID).Str("market", string(p.market)).Str("outcome", p.outcomeName).
				Msg("closing: upsert failed")
			continue
		}
		written++
	}
	return written, nil
}

// computeClosePoints ports historical_backfill.py's _compute_close_points:
// group raw rows by (market, outcome) then by exact fetched_at timestamp,
// select the latest timestamp at-or-before tipoff (else the earliest
// available, flagged inferred), and median the rows at that timestamp.
func computeClosePoints(rows []domain.OddsSnapshot, commenceTime time.Time, allowedMarkets []domain.Market) []closePoint {
	allowed := make(map[domain.Market]bool, len(allowedMarkets))
	for _, m := range allowedMarkets {
		allowed[m] = true
	}

	type key struct {
		market      domain.Market
		outcomeName string
	}
	grouped := make(map[key]map[time.Time][]domain.OddsSnapshot)
	for _, r := range rows {
		if !allowed[r.Market] {
			continue
		}
		k := key{market: r.Market, outcomeName: r.OutcomeName}
		byTS, ok := grouped[k]
		if !ok {
			byTS = make(map[time.Time][]domain.OddsSnapshot)
			grouped[k] = byTS
		}
		ts := r.FetchedAt.UTC()
		byTS[ts] = append(byTS[ts], r)
	}

	var out []closePoint
	for k, byTS := range grouped {
		timestamps := make([]time.Time, 0, len(byTS))
		for ts := range byTS {
			timestamps = append(timestamps, ts)
		}
		sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

		var selected time.Time
		inferred := false
		atOrBefore := timestamps[:0:0]
		for _, ts := range timestamps {
			if !ts.After(commenceTime.UTC()) {
				atOrBefore = append(atOrBefore, ts)
			}
		}
		if len(atOrBefore) > 0 {
			selected = atOrBefore[len(atOrBefore)-1]
		} else {
			selected = timestamps[0]
			inferred = true
		}

		selectedRows := byTS[selected]
		prices := make([]float64, 0, len(selectedRows))
		lines := make([]float64, 0, len(selectedRows))
		for _, r := range selectedRows {
			prices = append(prices, float64(r.Price))
			if r.Line != nil {
				lines = append(lines, *r.Line)
			}
		}

		var closeLine *float64
		if k.market != domain.MarketH2H {
			closeLine = domain.Median(lines)
		}
		closePrice := domain.Median(prices)
		if closeLine == nil && closePrice == nil {
			continue
		}

		out = append(out, closePoint{
			market:         k.market,
			outcomeName:    k.outcomeName,
			closeLine:      closeLine,
			closePrice:     closePrice,
			closeFetchedAt: selected,
			inferred:       inferred,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].market != out[j].market {
			return out[i].market < out[j].market
		}
		return out[i].outcomeName < out[j].outcomeName
	})
	return out
}
