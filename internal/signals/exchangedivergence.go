package signals

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
)

type exchangeDivergenceCandidate struct {
	signal    domain.Signal
	strength  int
	dedupeKey string
}

// detectExchangeDivergence promotes unresolved, actionable
// CrossMarketDivergenceEvent rows (EXCHANGE_LEADS, SPORTSBOOK_LEADS, OPPOSED)
// into user-facing Signals, one per event within a per-event cap. Ported as
// `detect_exchange_divergence_signals`.
func (d *Detector) detectExchangeDivergence(ctx context.Context, eventIDs []string, commenceMap map[string]time.Time, now time.Time) []domain.Signal {
	cfg := d.cfg.ExchangeDivergence
	if !cfg.Enabled || len(eventIDs) == 0 {
		return nil
	}
	lookback := time.Duration(maxInt(cfg.LookbackMinutes, 1)) * time.Minute
	cutoff := now.Add(-lookback)
	actionable := map[domain.DivergenceType]bool{
		domain.DivergenceExchangeLeads:   true,
		domain.DivergenceSportsbookLeads: true,
		domain.DivergenceOpposed:         true,
	}

	candidatesByEvent := make(map[string][]exchangeDivergenceCandidate)
	for _, eventID := range eventIDs {
		alignment, err := d.alignments.BySportsbookEventID(ctx, eventID)
		if err != nil || alignment == nil {
			continue
		}
		events, err := d.divergence.Unresolved(ctx, alignment.CanonicalEventKey)
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("signals: exchange divergence load failed")
			continue
		}
		for _, ev := range events {
			if !actionable[ev.DivergenceType] {
				continue
			}
			if ev.SportsbookBreakTimestamp != nil && ev.SportsbookBreakTimestamp.Before(cutoff) {
				continue
			}

			strength := ComputeStrengthExchangeDivergence(ev.DivergenceType, ev.LagSeconds, ev.ExchangeProbabilityThreshold)
			direction := domain.SignalDirectionUp
			if ev.ExchangeProbabilityThreshold != nil && *ev.ExchangeProbabilityThreshold < 0.5 {
				direction = domain.SignalDirectionDown
			}

			var minutesToTip *float64
			if ct, ok := commenceMap[eventID]; ok {
				m := ct.UTC().Sub(now.UTC()).Minutes()
				minutesToTip = &m
			}

			fromValue := derefOr(ev.SportsbookThresholdValue, 0)
			toValue := derefOr(ev.ExchangeProbabilityThreshold, 0)
			velocity := 0.0
			if ev.LagSeconds != nil {
				velocity = round2(float64(*ev.LagSeconds) / 60.0)
			}

			sig := domain.Signal{
				EventID:         eventID,
				Market:          "exchange",
				SignalType:      domain.SignalTypeExchangeDivergence,
				Direction:       direction,
				FromValue:       &fromValue,
				ToValue:         &toValue,
				WindowMinutes:   cfg.LookbackMinutes,
				BooksAffected:   1,
				VelocityMinutes: velocity,
				TimeBucket:      domain.ComputeTimeBucket(minutesToTip),
				StrengthScore:   strength,
				CreatedAt:       now,
				Metadata: domain.NewExchangeDivergenceMetadata(domain.ExchangeDivergenceMetadata{
					CanonicalEventKey: ev.CanonicalEventKey,
					DivergenceType:    string(ev.DivergenceType),
					LagSeconds:        ev.LagSeconds,
				}),
			}

			candidatesByEvent[eventID] = append(candidatesByEvent[eventID], exchangeDivergenceCandidate{
				signal:    sig,
				strength:  strength,
				dedupeKey: "signal:exchange_divergence:" + eventID + ":" + string(ev.DivergenceType),
			})
		}
	}

	var created []domain.Signal
	maxPerEvent := maxInt(cfg.MaxSignalsPerEvent, 1)
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	for _, candidates := range candidatesByEvent {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].strength > candidates[j].strength })
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
