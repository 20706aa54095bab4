package crossmarket

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

const (
	// DivergenceConfirmWindowMinutes bounds how late the other side may move
	// and still count as confirming EXCHANGE_LEADS/SPORTSBOOK_LEADS.
	DivergenceConfirmWindowMinutes = 10
	// DivergenceFreshnessMinutes is how far back a structural break or
	// exchange quote may be and still be considered for classification.
	DivergenceFreshnessMinutes = 15
	// DivergenceReversalWindowMinutes bounds how soon after a lead move an
	// opposite-direction move must occur to count as a reversal.
	DivergenceReversalWindowMinutes = 30
)

// classification is the resolved divergence outcome before persistence.
type classification struct {
	divergenceType           domain.DivergenceType
	leadSource               domain.LeadSource
	sportsbookTimestamp      *time.Time
	exchangeTimestamp        *time.Time
	sportsbookThresholdValue *float64
	exchangeThreshold        *float64
}

// DivergenceService classifies the relationship between the most recent
// sportsbook structural break and the most recent exchange probability
// crossing for a canonical event. Ported from
// `CrossMarketDivergenceService.compute_divergence`.
type DivergenceService struct {
	alignments  persistence.AlignmentRepository
	structural  persistence.StructuralEventRepository
	quotes      persistence.ExchangeQuoteRepository
	divergences persistence.DivergenceRepository
	now         func() time.Time
}

// NewDivergenceService wires a DivergenceService to its dependencies.
func NewDivergenceService(alignments persistence.AlignmentRepository, structural persistence.StructuralEventRepository, quotes persistence.ExchangeQuoteRepository, divergences persistence.DivergenceRepository) *DivergenceService {
	return &DivergenceService{alignments: alignments, structural: structural, quotes: quotes, divergences: divergences, now: time.Now}
}

// ComputeDivergence runs the classification pipeline for one canonical
// event and returns 1 once a classification has been written through
// Upsert, 0 when there is nothing to classify. Upsert does not report
// whether the idempotency key already existed, so a repeated classification
// of the same state also returns 1.
func (s *DivergenceService) ComputeDivergence(ctx context.Context, canonicalEventKey string) (int, error) {
	alignment, err := s.alignments.ByCanonicalKey(ctx, canonicalEventKey)
	if err != nil {
		return 0, err
	}
	if alignment == nil {
		return 0, nil
	}

	now := s.now().UTC()
	freshnessCutoff := now.Add(-time.Duration(DivergenceFreshnessMinutes) * time.Minute)

	latestStructural, err := s.structural.LatestSince(ctx, alignment.SportsbookEventID, freshnessCutoff)
	if err != nil {
		return 0, err
	}

	quotes, err := s.quotes.RecentForEvent(ctx, canonicalEventKey, freshnessCutoff)
	if err != nil {
		return 0, err
	}
	var crossings []ProbabilityCrossing
	if len(quotes) > 0 {
		crossings = DetectProbabilityCrossings(quotes)
	}
	var latestCrossing *ProbabilityCrossing
	if len(crossings) > 0 {
		latestCrossing = &crossings[len(crossings)-1]
	}

	result := classifyDivergence(latestStructural, latestCrossing, quotes, crossings)
	if result == nil {
		return 0, nil
	}

	idempotencyKey := buildIdempotencyKey(canonicalEventKey, *result)
	ev := domain.CrossMarketDivergenceEvent{
		CanonicalEventKey:            canonicalEventKey,
		DivergenceType:               result.divergenceType,
		LeadSource:                   result.leadSource,
		SportsbookThresholdValue:     result.sportsbookThresholdValue,
		ExchangeProbabilityThreshold: result.exchangeThreshold,
		SportsbookBreakTimestamp:     result.sportsbookTimestamp,
		ExchangeBreakTimestamp:       result.exchangeTimestamp,
		LagSeconds:                   lagSeconds(result),
		Resolved:                     false,
		IdempotencyKey:               idempotencyKey,
	}

	if err := s.divergences.Upsert(ctx, ev); err != nil {
		return 0, err
	}

	s.resolvePriorEvents(ctx, canonicalEventKey, result.divergenceType, now)

	log.Info().
		Str("canonical_event_key", canonicalEventKey).
		Str("divergence_type", string(result.divergenceType)).
		Str("lead_source", string(result.leadSource)).
		Msg("crossmarket: divergence computed")
	return 1, nil
}

func lagSeconds(c *classification) *int64 {
	if c.sportsbookTimestamp == nil || c.exchangeTimestamp == nil {
		return nil
	}
	s := int64(c.sportsbookTimestamp.Sub(*c.exchangeTimestamp).Abs().Seconds())
	return &s
}

// resolvePriorEvents marks prior unresolved EXCHANGE_LEADS/SPORTSBOOK_LEADS
// rows resolved once an ALIGNED or REVERTED outcome is recorded. Ported as
// `_resolve_prior_events`.
func (s *DivergenceService) resolvePriorEvents(ctx context.Context, canonicalEventKey string, divergenceType domain.DivergenceType, now time.Time) {
	var resolution string
	switch divergenceType {
	case domain.DivergenceAligned:
		resolution = "ALIGNED"
	case domain.DivergenceReverted:
		resolution = "REVERTED"
	default:
		return
	}

	unresolved, err := s.divergences.Unresolved(ctx, canonicalEventKey)
	if err != nil {
		log.Error().Err(err).Str("canonical_event_key", canonicalEventKey).Msg("crossmarket: resolve prior events lookup failed")
		return
	}
	for _, u := range unresolved {
		if u.DivergenceType != domain.DivergenceExchangeLeads && u.DivergenceType != domain.DivergenceSportsbookLeads {
			continue
		}
		if err := s.divergences.MarkResolved(ctx, u.IdempotencyKey, now, resolution); err != nil {
			log.Error().Err(err).Str("idempotency_key", u.IdempotencyKey).Msg("crossmarket: mark resolved failed")
		}
	}
}

// buildIdempotencyKey deterministically encodes the classification so the
// same observed state never double-inserts. Ported as
// `_build_idempotency_key`.
func buildIdempotencyKey(canonicalEventKey string, c classification) string {
	sbISO := "NONE"
	if c.sportsbookTimestamp != nil {
		sbISO = c.sportsbookTimestamp.Format(time.RFC3339Nano)
	}
	exISO := "NONE"
	if c.exchangeTimestamp != nil {
		exISO = c.exchangeTimestamp.Format(time.RFC3339Nano)
	}
	sbThr := "NONE"
	if c.sportsbookThresholdValue != nil {
		sbThr = fmt.Sprintf("%v", *c.sportsbookThresholdValue)
	}
	exThr := "NONE"
	if c.exchangeThreshold != nil {
		exThr = fmt.Sprintf("%v", *c.exchangeThreshold)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", canonicalEventKey, c.divergenceType, sbISO, exISO, sbThr, exThr)
}

// classifyDivergence resolves the 6-state classification given the most
// recent structural break and exchange crossing. Ported line-for-line as
// `_classify_divergence`, branch order preserved: REVERTED first, then
// OPPOSED/ALIGNED within the alignment window, then EXCHANGE_LEADS/
// SPORTSBOOK_LEADS for a late or absent side, then UNCONFIRMED.
func classifyDivergence(structural *domain.StructuralEvent, crossing *ProbabilityCrossing, quotes []domain.ExchangeQuoteEvent, crossings []ProbabilityCrossing) *classification {
	hasStructural := structural != nil
	hasCrossing := crossing != nil
	if !hasStructural && !hasCrossing {
		return nil
	}

	var sbTS, exTS *time.Time
	var sbThr, exThr *float64
	var sbDir domain.BreakDirection
	var exDir string

	if hasStructural {
		ts := structural.ConfirmationTimestamp
		sbTS = &ts
		thr := structural.ThresholdValue
		sbThr = &thr
		sbDir = structural.BreakDirection
	}
	if hasCrossing {
		ts := crossing.Timestamp
		exTS = &ts
		thr := crossing.Threshold
		exThr = &thr
		exDir = crossingDirection(quotes)
	}

	confirmWindow := time.Duration(DivergenceConfirmWindowMinutes) * time.Minute
	alignWindow := time.Duration(AlignWindowMinutes) * time.Minute
	reversalWindow := time.Duration(DivergenceReversalWindowMinutes) * time.Minute

	if hasStructural && hasCrossing {
		leadingSide := domain.LeadSourceSportsbook
		if exTS.Before(*sbTS) {
			leadingSide = domain.LeadSourceExchange
		}
		if leadingSide == domain.LeadSourceExchange && hasReversalCrossing(crossings, *crossing, reversalWindow) {
			return &classification{divergenceType: domain.DivergenceReverted, leadSource: domain.LeadSourceExchange, sportsbookTimestamp: sbTS, exchangeTimestamp: exTS, sportsbookThresholdValue: sbThr, exchangeThreshold: exThr}
		}
		if leadingSide == domain.LeadSourceSportsbook && structural.ReversalDetected {
			return &classification{divergenceType: domain.DivergenceReverted, leadSource: domain.LeadSourceSportsbook, sportsbookTimestamp: sbTS, exchangeTimestamp: exTS, sportsbookThresholdValue: sbThr, exchangeThreshold: exThr}
		}
	}

	if hasStructural && hasCrossing {
		delta := sbTS.Sub(*exTS).Abs()
		if delta <= alignWindow {
			if sbDir != "" && exDir != "" && string(sbDir) != exDir {
				return &classification{divergenceType: domain.DivergenceOpposed, leadSource: domain.LeadSourceNone, sportsbookTimestamp: sbTS, exchangeTimestamp: exTS, sportsbookThresholdValue: sbThr, exchangeThreshold: exThr}
			}
			return &classification{divergenceType: domain.DivergenceAligned, leadSource: domain.LeadSourceNone, sportsbookTimestamp: sbTS, exchangeTimestamp: exTS, sportsbookThresholdValue: sbThr, exchangeThreshold: exThr}
		}
	}

	if hasCrossing && (!hasStructural || sbTS.After(exTS.Add(confirmWindow))) {
		return &classification{divergenceType: domain.DivergenceExchangeLeads, leadSource: domain.LeadSourceExchange, sportsbookTimestamp: sbTS, exchangeTimestamp: exTS, sportsbookThresholdValue: sbThr, exchangeThreshold: exThr}
	}

	if hasStructural && (!hasCrossing || exTS.After(sbTS.Add(confirmWindow))) {
		return &classification{divergenceType: domain.DivergenceSportsbookLeads, leadSource: domain.LeadSourceSportsbook, sportsbookTimestamp: sbTS, exchangeTimestamp: exTS, sportsbookThresholdValue: sbThr, exchangeThreshold: exThr}
	}

	if hasStructural && !hasCrossing && len(quotes) > 0 {
		return &classification{divergenceType: domain.DivergenceUnconfirmed, leadSource: domain.LeadSourceSportsbook, sportsbookTimestamp: sbTS, sportsbookThresholdValue: sbThr}
	}
	if hasCrossing && !hasStructural {
		return &classification{divergenceType: domain.DivergenceUnconfirmed, leadSource: domain.LeadSourceExchange, exchangeTimestamp: exTS, exchangeThreshold: exThr}
	}

	return nil
}

// crossingDirection infers net direction from raw quote probabilities: a
// single quote or a tie is treated as UP. Ported as `_crossing_direction`.
func crossingDirection(quotes []domain.ExchangeQuoteEvent) string {
	if len(quotes) < 2 {
		return "UP"
	}
	first := quotes[0].Probability
	last := quotes[len(quotes)-1].Probability
	if last > first {
		return "UP"
	}
	if last < first {
		return "DOWN"
	}
	return "UP"
}

// hasReversalCrossing reports whether an opposite-direction crossing occurs
// after lead within reversalWindow. Ported as `_has_reversal_crossing`.
func hasReversalCrossing(crossings []ProbabilityCrossing, lead ProbabilityCrossing, reversalWindow time.Duration) bool {
	cutoff := lead.Timestamp.Add(reversalWindow)
	var afterLead []ProbabilityCrossing
	for _, c := range crossings {
		if c.Timestamp.After(lead.Timestamp) && !c.Timestamp.After(cutoff) {
			afterLead = append(afterLead, c)
		}
	}
	if len(afterLead) == 0 {
		return false
	}
	latest := afterLead[len(afterLead)-1]
	if lead.Threshold > 0.5 {
		return latest.Threshold < lead.Threshold
	}
	return latest.Threshold > lead.Threshold
}
