package signals

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
)

type dislocationCandidate struct {
	signal    domain.Signal
	strength  int
	delta     float64
	dedupeKey string
}

// detectDislocations compares each book's latest quote against the event's
// recent consensus, emitting the top DislocationMaxSignalsPerEvent candidates
// per event ranked by (strength, |delta|). Ported as `detect_dislocations`.
func (d *Detector) detectDislocations(ctx context.Context, eventIDs []string, commenceMap map[string]time.Time, now time.Time) []domain.Signal {
	cfg := d.cfg.Dislocation
	if !cfg.Enabled || len(eventIDs) == 0 {
		return nil
	}
	minBooks := maxInt(cfg.MinBooks, d.cfg.Consensus.MinBooks)
	lookback := time.Duration(maxInt(cfg.LookbackMinutes, 1)) * time.Minute

	candidatesByEvent := make(map[string][]dislocationCandidate)
	markets := []domain.Market{domain.MarketSpreads, domain.MarketTotals, domain.MarketH2H}

	for _, eventID := range eventIDs {
		for _, market := range markets {
			rows, err := d.snapshots.LatestPerBook(ctx, eventID, market, lookback, now)
			if err != nil {
				log.Error().Err(err).Str("event_id", eventID).Msg("signals: dislocation snapshot load failed")
				continue
			}
			if len(rows) == 0 {
				continue
			}
			byOutcome := groupByOutcome(rows)
			for outcomeName, obs := range byOutcome {
				if len(obs) < minBooks {
					continue
				}
				cons, err := d.consensus.Latest(ctx, eventID, market, outcomeName)
				if err != nil || cons == nil || cons.BooksCount < minBooks {
					continue
				}
				for _, snap := range obs {
					cand, ok := d.buildDislocationCandidate(eventID, market, outcomeName, *cons, snap, commenceMap, now)
					if !ok {
						continue
					}
					candidatesByEvent[eventID] = append(candidatesByEvent[eventID], cand)
				}
			}
		}
	}

	var created []domain.Signal
	maxPerEvent := maxInt(cfg.MaxSignalsPerEvent, 1)
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	for _, candidates := range candidatesByEvent {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].strength != candidates[j].strength {
				return candidates[i].strength > candidates[j].strength
			}
			return absF(candidates[i].delta) > absF(candidates[j].delta)
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

func groupByOutcome(rows []domain.OddsSnapshot) map[string][]domain.OddsSnapshot {
	out := make(map[string][]domain.OddsSnapshot)
	for _, r := range rows {
		out[r.OutcomeName] = append(out[r.OutcomeName], r)
	}
	return out
}

func (d *Detector) buildDislocationCandidate(eventID string, market domain.Market, outcomeName string, cons domain.MarketConsensusSnapshot, snap domain.OddsSnapshot, commenceMap map[string]time.Time, now time.Time) (dislocationCandidate, bool) {
	cfg := d.cfg.Dislocation
	var fromValue, toValue, delta float64
	var fromPrice, toPrice *int
	var bookLine, consensusLine *float64
	var consensusPrice *float64

	switch market {
	case domain.MarketSpreads, domain.MarketTotals:
		if cons.ConsensusLine == nil || snap.Line == nil {
			return dislocationCandidate{}, false
		}
		threshold := cfg.SpreadLineDelta
		if market == domain.MarketTotals {
			threshold = cfg.TotalLineDelta
		}
		fromValue, toValue = *cons.ConsensusLine, *snap.Line
		delta = toValue - fromValue
		if absF(delta) < threshold {
			return dislocationCandidate{}, false
		}
		bookLine, consensusLine = snap.Line, cons.ConsensusLine
		if cons.ConsensusPrice != nil {
			p := int(round2(*cons.ConsensusPrice))
			fromPrice = &p
		}
		tp := snap.Price
		toPrice = &tp
		consensusPrice = cons.ConsensusPrice
	default: // h2h
		if cons.ConsensusPrice == nil {
			return dislocationCandidate{}, false
		}
		consProb := domain.AmericanToImpliedProbFloat(*cons.ConsensusPrice)
		bookProb := domain.AmericanToImpliedProb(snap.Price)
		if consProb == nil || bookProb == nil {
			return dislocationCandidate{}, false
		}
		fromValue, toValue = *consProb, *bookProb
		delta = toValue - fromValue
		if absF(delta) < cfg.MLImpliedProbDelta {
			return dislocationCandidate{}, false
		}
		p := int(round2(*cons.ConsensusPrice))
		fromPrice = &p
		tp := snap.Price
		toPrice = &tp
		consensusPrice = cons.ConsensusPrice
	}

	strength := ComputeStrengthDislocation(absF(delta), cons.Dispersion, cons.BooksCount, market,
		cfg.SpreadLineDelta, cfg.TotalLineDelta, cfg.MLImpliedProbDelta)

	var minutesToTip *float64
	if ct, ok := commenceMap[eventID]; ok {
		m := ct.UTC().Sub(now.UTC()).Minutes()
		minutesToTip = &m
	}

	sig := domain.Signal{
		EventID:         eventID,
		Market:          market,
		SignalType:      domain.SignalTypeDislocation,
		Direction:       Direction(fromValue, toValue),
		FromValue:       &fromValue,
		ToValue:         &toValue,
		FromPrice:       fromPrice,
		ToPrice:         toPrice,
		WindowMinutes:   cfg.LookbackMinutes,
		BooksAffected:   1,
		VelocityMinutes: 0.1,
		TimeBucket:      domain.ComputeTimeBucket(minutesToTip),
		StrengthScore:   strength,
		CreatedAt:       now,
		Metadata: domain.NewDislocationMetadata(domain.DislocationMetadata{
			OutcomeName:    outcomeName,
			BookKey:        snap.SportsbookKey,
			BookLine:       bookLine,
			BookPrice:      &snap.Price,
			ConsensusLine:  consensusLine,
			ConsensusPrice: consensusPrice,
			Delta:          delta,
			BooksCount:     cons.BooksCount,
		}),
	}

	return dislocationCandidate{
		signal:    sig,
		strength:  strength,
		delta:     delta,
		dedupeKey: "signal:dislocation:" + eventID + ":" + string(market) + ":" + outcomeName + ":" + snap.SportsbookKey,
	}, true
}
