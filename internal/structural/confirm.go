// Package structural builds deterministic threshold-break telemetry from the
// quote-move ledger built in internal/quotemoves (C6). Grounded on
// original_source/backend/app/services/structural_events.py and structurally
// on the teacher's internal/premove/gates.go "2-of-3 confirmation"
// GateEvaluator: the Tier-1-OR-2-venue rule is the same OR-of-conditions gate
// pattern, renamed into ConfirmationInput/ConfirmationResult.
package structural

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

const (
	AdoptionWindowMinutes          = 5
	DispersionWindowMinutes        = 5
	ReversalWindowMinutes          = 30
	ActiveSnapshotFreshnessMinutes = 3
)

// ConfirmationInput is one grid-boundary crossing observed at a single venue.
// Mirrors the teacher's ConfirmationData shape: a flat struct of everything
// the gate needs to evaluate one candidate.
type ConfirmationInput struct {
	EventID        string
	Market         domain.Market
	OutcomeName    string
	ThresholdValue float64
	Direction      domain.BreakDirection
	Venue          string
	VenueTier      domain.VenueTier
	Timestamp      time.Time
	LineBefore     *float64
	LineAfter      *float64
	Delta          *float64
}

// ConfirmationResult is a confirmed threshold-break group, ready for metric
// computation and persistence.
type ConfirmationResult struct {
	EventID               string
	Market                domain.Market
	OutcomeName           string
	ThresholdValue        float64
	ThresholdType         domain.ThresholdType
	BreakDirection        domain.BreakDirection
	OriginVenue           string
	OriginVenueTier       domain.VenueTier
	OriginTimestamp       time.Time
	ConfirmationTimestamp time.Time
	Candidates            []ConfirmationInput
}

// GateEvaluator groups quote-move crossings into confirmed structural events
// and computes their adoption/dispersion/reversal telemetry.
type GateEvaluator struct {
	moves     persistence.QuoteMoveRepository
	snapshots persistence.OddsSnapshotRepository
	events    persistence.StructuralEventRepository
}

// NewGateEvaluator wires a GateEvaluator to its dependencies.
func NewGateEvaluator(moves persistence.QuoteMoveRepository, snapshots persistence.OddsSnapshotRepository, events persistence.StructuralEventRepository) *GateEvaluator {
	return &GateEvaluator{moves: moves, snapshots: snapshots, events: events}
}

// DetectAndPersist loads the event's spreads-market quote moves, confirms
// threshold-break groups, computes their metrics, and upserts both the
// event rows and their venue-participation rows.
func (g *GateEvaluator) DetectAndPersist(ctx context.Context, eventID string, outcomeNames []string) (int, error) {
	var allMoves []domain.QuoteMoveEvent
	for _, outcome := range outcomeNames {
		moves, err := g.moves.RecentForOutcome(ctx, eventID, domain.MarketSpreads, outcome, time.Time{})
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Str("outcome", outcome).Msg("structural: quote move load failed")
			continue
		}
		allMoves = append(allMoves, moves...)
	}
	if len(allMoves) == 0 {
		return 0, nil
	}

	groups := BuildConfirmedGroups(allMoves)
	persisted := 0
	for _, group := range groups {
		metrics := g.computeMetrics(ctx, group, allMoves)
		ev, participation := toStorageRows(group, metrics)
		if _, err := g.events.InsertWithParticipation(ctx, ev, participation); err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("structural: persist failed")
			continue
		}
		persisted++
	}
	return persisted, nil
}

type groupKey struct {
	eventID, market, outcome string
	threshold                float64
	direction                domain.BreakDirection
}

// BuildConfirmedGroups groups crossing candidates by (event, market,
// outcome, threshold, direction), applies the confirmation rule, and
// returns one ConfirmationResult per confirmed group, ordered by
// confirmation timestamp. Ported as `_build_confirmed_groups`.
func BuildConfirmedGroups(moves []domain.QuoteMoveEvent) []ConfirmationResult {
	grouped := make(map[groupKey][]ConfirmationInput)
	for _, mv := range moves {
		if mv.OldLine == nil || mv.NewLine == nil {
			continue
		}
		direction := lineDirection(*mv.OldLine, *mv.NewLine)
		if direction == "" {
			continue
		}
		for _, threshold := range domain.LineCrossings(*mv.OldLine, *mv.NewLine) {
			k := groupKey{mv.EventID, string(mv.MarketKey), mv.OutcomeName, threshold, direction}
			grouped[k] = append(grouped[k], ConfirmationInput{
				EventID:        mv.EventID,
				Market:         mv.MarketKey,
				OutcomeName:    mv.OutcomeName,
				ThresholdValue: threshold,
				Direction:      direction,
				Venue:          mv.Venue,
				VenueTier:      mv.VenueTier,
				Timestamp:      mv.Timestamp,
				LineBefore:     mv.OldLine,
				LineAfter:      mv.NewLine,
				Delta:          mv.Delta,
			})
		}
	}

	var results []ConfirmationResult
	for k, candidates := range grouped {
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
				return candidates[i].Timestamp.Before(candidates[j].Timestamp)
			}
			return candidates[i].Venue < candidates[j].Venue
		})
		confirmedAt := findConfirmationTimestamp(candidates)
		if confirmedAt == nil {
			continue
		}
		origin := candidates[0]
		results = append(results, ConfirmationResult{
			EventID:               k.eventID,
			Market:                domain.Market(k.market),
			OutcomeName:           k.outcome,
			ThresholdValue:        k.threshold,
			ThresholdType:         domain.HalfPointThresholdType(k.threshold),
			BreakDirection:        k.direction,
			OriginVenue:           origin.Venue,
			OriginVenueTier:       origin.VenueTier,
			OriginTimestamp:       origin.Timestamp,
			ConfirmationTimestamp: *confirmedAt,
			Candidates:            candidates,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].ConfirmationTimestamp.Equal(results[j].ConfirmationTimestamp) {
			return results[i].ConfirmationTimestamp.Before(results[j].ConfirmationTimestamp)
		}
		if results[i].EventID != results[j].EventID {
			return results[i].EventID < results[j].EventID
		}
		if results[i].OutcomeName != results[j].OutcomeName {
			return results[i].OutcomeName < results[j].OutcomeName
		}
		return results[i].ThresholdValue < results[j].ThresholdValue
	})
	return results
}

// findConfirmationTimestamp walks candidates in (timestamp, venue) order and
// returns the timestamp at which either a Tier-1 venue has crossed, or 2+
// distinct venues have. Ported as `_find_confirmation_timestamp`.
func findConfirmationTimestamp(candidates []ConfirmationInput) *time.Time {
	venues := make(map[string]bool)
	t1Seen := false
	for _, c := range candidates {
		venues[c.Venue] = true
		if c.VenueTier == domain.VenueTierT1 {
			t1Seen = true
		}
		if len(venues) >= 2 || t1Seen {
			ts := c.Timestamp
			return &ts
		}
	}
	return nil
}

func lineDirection(oldLine, newLine float64) domain.BreakDirection {
	if newLine > oldLine {
		return domain.BreakDirectionUp
	}
	if newLine < oldLine {
		return domain.BreakDirectionDown
	}
	return ""
}

func oppositeDirection(d domain.BreakDirection) domain.BreakDirection {
	if d == domain.BreakDirectionUp {
		return domain.BreakDirectionDown
	}
	return domain.BreakDirectionUp
}
