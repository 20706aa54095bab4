package signals

import (
	"context"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

// detectLiveShocks restricts to events within -240..5 minutes of tipoff and
// fires on outsized 5-minute moves; strength is fixed at 100. Ported as
// `_detect_live_shock_signals`.
func (d *Detector) detectLiveShocks(ctx context.Context, eventIDs []string, commenceMap map[string]time.Time, now time.Time, load func(ctx context.Context, eventIDs []string, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error)) []domain.Signal {
	var live []string
	for _, id := range eventIDs {
		ct, ok := commenceMap[id]
		if !ok {
			continue
		}
		m := ct.UTC().Sub(now.UTC()).Minutes()
		if m >= -240 && m <= 5 {
			live = append(live, id)
		}
	}
	if len(live) == 0 {
		return nil
	}

	windowMinutes := 5
	snaps, err := load(ctx, live, 5*time.Minute, now)
	if err != nil || len(snaps) == 0 {
		return nil
	}

	type groupKey struct{ eventID, market, outcome string }
	groups := make(map[groupKey][]domain.OddsSnapshot)
	for _, s := range snaps {
		k := groupKey{s.EventID, string(s.Market), s.OutcomeName}
		groups[k] = append(groups[k], s)
	}

	cooldown := time.Duration(windowMinutes) * time.Minute
	var created []domain.Signal
	for k, obs := range groups {
		if len(obs) < 2 {
			continue
		}
		sort.Slice(obs, func(i, j int) bool { return obs[i].FetchedAt.Before(obs[j].FetchedAt) })
		from, to := obs[0], obs[len(obs)-1]
		fromValue := valueOf(from)
		toValue := valueOf(to)
		magnitude := absF(toValue - fromValue)
		market := domain.Market(k.market)

		triggered := false
		switch market {
		case domain.MarketSpreads:
			triggered = magnitude >= 4.5
		case domain.MarketTotals:
			triggered = magnitude >= 6.5
		case domain.MarketH2H:
			probFrom := domain.AmericanToImpliedProb(from.Price)
			probTo := domain.AmericanToImpliedProb(to.Price)
			if probFrom != nil && probTo != nil && absF(*probTo-*probFrom) >= 0.15 {
				triggered = true
			}
		}
		if !triggered {
			continue
		}

		direction := Direction(fromValue, toValue)
		dedupeKey := "signal:" + k.eventID + ":" + k.market + ":LIVE_SHOCK:" + string(direction) + ":" + k.outcome
		if dedupeSignal(ctx, d.store, dedupeKey, cooldown) {
			continue
		}

		books := distinctBooks(obs)
		var minutesToTip *float64
		if ct, ok := commenceMap[k.eventID]; ok {
			m := ct.UTC().Sub(now.UTC()).Minutes()
			minutesToTip = &m
		}
		velocity := to.FetchedAt.Sub(from.FetchedAt).Minutes()
		if velocity < 0.1 {
			velocity = 0.1
		}
		fromPrice, toPrice := from.Price, to.Price

		created = append(created, domain.Signal{
			EventID:         k.eventID,
			Market:          market,
			SignalType:      domain.SignalTypeLiveShock,
			Direction:       direction,
			FromValue:       &fromValue,
			ToValue:         &toValue,
			FromPrice:       &fromPrice,
			ToPrice:         &toPrice,
			WindowMinutes:   windowMinutes,
			BooksAffected:   len(books),
			VelocityMinutes: velocity,
			TimeBucket:      domain.ComputeTimeBucket(minutesToTip),
			StrengthScore:   100,
			CreatedAt:       now,
			Metadata: domain.NewLiveShockMetadata(domain.LiveShockMetadata{
				OutcomeName:  k.outcome,
				Books:        books,
				MinutesToTip: derefOr(minutesToTip, 0),
				Magnitude:    magnitude,
			}),
		})
	}
	return created
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
