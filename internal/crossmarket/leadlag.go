package crossmarket

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

// LeadLagService aligns sportsbook structural events with exchange
// probability crossings for the same canonical event and persists the
// nearest pairing. Ported from `CrossMarketLeadLagService.compute_lead_lag`.
type LeadLagService struct {
	alignments persistence.AlignmentRepository
	structural persistence.StructuralEventRepository
	quotes     persistence.ExchangeQuoteRepository
	leadlag    persistence.LeadLagRepository
}

// NewLeadLagService wires a LeadLagService to its dependencies.
func NewLeadLagService(alignments persistence.AlignmentRepository, structural persistence.StructuralEventRepository, quotes persistence.ExchangeQuoteRepository, leadlag persistence.LeadLagRepository) *LeadLagService {
	return &LeadLagService{alignments: alignments, structural: structural, quotes: quotes, leadlag: leadlag}
}

// ComputeLeadLag runs the full pipeline for one canonical event and returns
// the number of lead/lag rows inserted.
func (s *LeadLagService) ComputeLeadLag(ctx context.Context, canonicalEventKey string) (int, error) {
	alignment, err := s.alignments.ByCanonicalKey(ctx, canonicalEventKey)
	if err != nil {
		return 0, err
	}
	if alignment == nil {
		return 0, nil
	}

	structuralEvents, err := s.structural.ByEventID(ctx, alignment.SportsbookEventID)
	if err != nil {
		return 0, err
	}
	if len(structuralEvents) == 0 {
		return 0, nil
	}

	quotes, err := s.quotes.RecentForEvent(ctx, canonicalEventKey, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, nil
	}

	crossings := DetectProbabilityCrossings(quotes)
	if len(crossings) == 0 {
		return 0, nil
	}

	inserted := 0
	for _, se := range structuralEvents {
		best := findNearestCrossing(se.ConfirmationTimestamp, crossings)
		if best == nil {
			continue
		}

		leadSource := domain.LeadSourceSportsbook
		if best.Timestamp.Before(se.ConfirmationTimestamp) {
			leadSource = domain.LeadSourceExchange
		}
		lagSeconds := int64(se.ConfirmationTimestamp.Sub(best.Timestamp).Abs().Seconds())

		ev := domain.CrossMarketLeadLagEvent{
			CanonicalEventKey:            canonicalEventKey,
			ThresholdType:                se.ThresholdType,
			SportsbookThresholdValue:     se.ThresholdValue,
			ExchangeProbabilityThreshold: best.Threshold,
			LeadSource:                   leadSource,
			SportsbookBreakTimestamp:     se.ConfirmationTimestamp,
			ExchangeBreakTimestamp:       best.Timestamp,
			LagSeconds:                   lagSeconds,
		}
		if _, err := s.leadlag.Insert(ctx, ev); err != nil {
			log.Error().Err(err).Str("canonical_event_key", canonicalEventKey).Msg("crossmarket: lead-lag insert failed")
			continue
		}
		inserted++
	}

	log.Info().
		Str("canonical_event_key", canonicalEventKey).
		Int("structural_events", len(structuralEvents)).
		Int("exchange_crossings", len(crossings)).
		Int("lead_lag_inserted", inserted).
		Msg("crossmarket: lead-lag computed")
	return inserted, nil
}

// findNearestCrossing returns the crossing closest in time to sportsbookTS,
// considering only crossings within ±AlignWindowMinutes. Ties break on
// smaller absolute delta, then earlier crossing timestamp. Ported as
// `_find_nearest_crossing`.
func findNearestCrossing(sportsbookTS time.Time, crossings []ProbabilityCrossing) *ProbabilityCrossing {
	window := time.Duration(AlignWindowMinutes) * time.Minute
	var best *ProbabilityCrossing
	var bestDelta time.Duration

	for i := range crossings {
		c := crossings[i]
		delta := c.Timestamp.Sub(sportsbookTS).Abs()
		if delta > window {
			continue
		}
		if best == nil || delta < bestDelta || (delta == bestDelta && c.Timestamp.Before(best.Timestamp)) {
			best = &crossings[i]
			bestDelta = delta
		}
	}
	return best
}
