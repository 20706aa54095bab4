package signals

import (
	"context"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

type steamBookWindow struct {
	sportsbookKey string
	earliestLine  float64
	latestLine    float64
	move          float64
}

type steamCandidate struct {
	signal    domain.Signal
	strength  int
	totalMove float64
	books     int
	dedupeKey string
}

func steamMarketThreshold(cfg steamThresholds, market domain.Market) float64 {
	if market == domain.MarketSpreads {
		return maxF(0, cfg.minMoveSpread)
	}
	return maxF(0, cfg.minMoveTotal)
}

type steamThresholds struct {
	minMoveSpread float64
	minMoveTotal  float64
}

func steamMinPerBookMove(cfg steamThresholds, market domain.Market) float64 {
	return maxF(0.05, steamMarketThreshold(cfg, market)*0.4)
}

// detectSteam groups per-book earliest->latest line moves (spreads/totals
// only) by (event, market, outcome, direction) and triggers when at least
// SteamMinBooks books move in sync beyond the market threshold. Ported as
// `detect_steam_v2`.
func (d *Detector) detectSteam(ctx context.Context, snaps []domain.OddsSnapshot, commenceMap map[string]time.Time, now time.Time) []domain.Signal {
	cfg := d.cfg.Steam
	if !cfg.Enabled {
		return nil
	}
	thresholds := steamThresholds{minMoveSpread: cfg.MinMoveSpread, minMoveTotal: cfg.MinMoveTotal}
	windowMinutes := maxInt(cfg.WindowMinutes, 1)

	type bookKey struct{ eventID, market, outcome, book string }
	byBook := make(map[bookKey][]domain.OddsSnapshot)
	for _, s := range snaps {
		if s.Market != domain.MarketSpreads && s.Market != domain.MarketTotals {
			continue
		}
		if s.Line == nil {
			continue
		}
		k := bookKey{s.EventID, string(s.Market), s.OutcomeName, s.SportsbookKey}
		byBook[k] = append(byBook[k], s)
	}

	type groupKey struct {
		eventID, market, outcome string
		direction                domain.SignalDirection
	}
	byDirection := make(map[groupKey][]steamBookWindow)
	for k, obs := range byBook {
		if len(obs) < 2 {
			continue
		}
		sort.Slice(obs, func(i, j int) bool { return obs[i].FetchedAt.Before(obs[j].FetchedAt) })
		earliest, latest := obs[0], obs[len(obs)-1]
		if earliest.Line == nil || latest.Line == nil {
			continue
		}
		move := *latest.Line - *earliest.Line
		if absF(move) < steamMinPerBookMove(thresholds, domain.Market(k.market)) {
			continue
		}
		direction := Direction(*earliest.Line, *latest.Line)
		if direction == domain.SignalDirectionFlat {
			continue
		}
		gk := groupKey{k.eventID, k.market, k.outcome, direction}
		byDirection[gk] = append(byDirection[gk], steamBookWindow{
			sportsbookKey: k.book,
			earliestLine:  *earliest.Line,
			latestLine:    *latest.Line,
			move:          move,
		})
	}

	candidatesByEvent := make(map[string][]steamCandidate)
	for gk, moves := range byDirection {
		if len(moves) < cfg.MinBooks {
			continue
		}
		market := domain.Market(gk.market)
		startLine := domain.Median(lines(moves, func(m steamBookWindow) float64 { return m.earliestLine }))
		endLine := domain.Median(lines(moves, func(m steamBookWindow) float64 { return m.latestLine }))
		if startLine == nil || endLine == nil {
			continue
		}
		totalMove := *endLine - *startLine
		threshold := steamMarketThreshold(thresholds, market)
		if absF(totalMove) < threshold {
			continue
		}

		speed := absF(totalMove) / float64(windowMinutes)
		books := make([]string, 0, len(moves))
		for _, m := range moves {
			books = append(books, m.sportsbookKey)
		}
		sort.Strings(books)

		strength := ComputeStrengthSteam(totalMove, speed, len(books), market, threshold, windowMinutes, cfg.MinBooks)

		var minutesToTip *float64
		if ct, ok := commenceMap[gk.eventID]; ok {
			m := ct.UTC().Sub(now.UTC()).Minutes()
			minutesToTip = &m
		}

		sig := domain.Signal{
			EventID:         gk.eventID,
			Market:          market,
			SignalType:      domain.SignalTypeSteam,
			Direction:       gk.direction,
			FromValue:       startLine,
			ToValue:         endLine,
			WindowMinutes:   windowMinutes,
			BooksAffected:   len(books),
			VelocityMinutes: float64(windowMinutes),
			TimeBucket:      domain.ComputeTimeBucket(minutesToTip),
			StrengthScore:   strength,
			CreatedAt:       now,
			Metadata: domain.NewSteamMetadata(domain.SteamMetadata{
				OutcomeName: gk.outcome,
				Books:       books,
				StartMedian: *startLine,
				EndMedian:   *endLine,
				Speed:       speed,
			}),
		}

		candidatesByEvent[gk.eventID] = append(candidatesByEvent[gk.eventID], steamCandidate{
			signal:    sig,
			strength:  strength,
			totalMove: totalMove,
			books:     len(books),
			dedupeKey: "signal:steam:" + gk.eventID + ":" + gk.market + ":" + gk.outcome + ":" + string(gk.direction),
		})
	}

	var created []domain.Signal
	maxPerEvent := maxInt(cfg.MaxSignalsPerEvent, 1)
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	for _, candidates := range candidatesByEvent {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].strength != candidates[j].strength {
				return candidates[i].strength > candidates[j].strength
			}
			if absF(candidates[i].totalMove) != absF(candidates[j].totalMove) {
				return absF(candidates[i].totalMove) > absF(candidates[j].totalMove)
			}
			return candidates[i].books > candidates[j].books
		})
		if len(candidates) > maxPerEvent {
			candidates = candidates[:maxPerEvent]
		}
		for _, c := range candidates {
			if dedupeSignal(ctx, d.store, c.dedupeKey, cooldown) {
				continue
			}
			created = append(created, c.signal)
		}
	}
	return created
}

func lines(moves []steamBookWindow, f func(steamBookWindow) float64) []float64 {
	out := make([]float64, len(moves))
	for i, m := range moves {
		out[i] = f(m)
	}
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
