package structural

import (
	"context"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

// metrics is the computed telemetry for one confirmed ConfirmationResult.
// Mirrors the original's StructuralMetrics dataclass.
type metrics struct {
	adoptionPercentage  float64
	adoptionCount       int
	activeVenueCount    int
	timeToConsensusSecs int64
	dispersionPre       *float64
	dispersionPost      *float64
	breakHoldMinutes    float64
	reversalDetected    bool
	reversalTimestamp   *time.Time
	participatingVenues []ConfirmationInput
}

// computeMetrics derives adoption/dispersion/reversal telemetry for a
// confirmed group. Ported as `compute_event_metrics`.
func (g *GateEvaluator) computeMetrics(ctx context.Context, group ConfirmationResult, allMoves []domain.QuoteMoveEvent) metrics {
	origin := group.OriginTimestamp
	adoptionEnd := origin.Add(AdoptionWindowMinutes * time.Minute)

	participating := make(venueMap)
	var ordered []ConfirmationInput
	for _, c := range group.Candidates {
		if c.Timestamp.Before(origin) || c.Timestamp.After(adoptionEnd) {
			continue
		}
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Venue < ordered[j].Venue
	})
	for _, c := range ordered {
		if _, seen := participating[c.Venue]; !seen {
			participating[c.Venue] = c
		}
	}

	activeVenueCount := g.computeActiveVenueCount(ctx, group, origin)
	adoptionPct := 0.0
	if activeVenueCount > 0 {
		adoptionPct = float64(len(participating)) / float64(activeVenueCount)
	}

	dispersionPre := g.computeDispersionWindow(ctx, group, origin.Add(-DispersionWindowMinutes*time.Minute), origin)
	dispersionPost := g.computeDispersionWindow(ctx, group, origin, origin.Add(DispersionWindowMinutes*time.Minute))

	reversalDetected, reversalTimestamp := detectReversal(group, allMoves)
	holdMinutes := computeBreakHoldMinutes(group, allMoves, reversalTimestamp)

	return metrics{
		adoptionPercentage:  adoptionPct,
		adoptionCount:       len(participating),
		activeVenueCount:    activeVenueCount,
		timeToConsensusSecs: int64(group.ConfirmationTimestamp.Sub(origin).Seconds()),
		dispersionPre:       dispersionPre,
		dispersionPost:      dispersionPost,
		breakHoldMinutes:    holdMinutes,
		reversalDetected:    reversalDetected,
		reversalTimestamp:   reversalTimestamp,
		participatingVenues: participating.values(),
	}
}

func (m venueMap) values() []ConfirmationInput {
	out := make([]ConfirmationInput, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}

type venueMap map[string]ConfirmationInput

func (g *GateEvaluator) computeActiveVenueCount(ctx context.Context, group ConfirmationResult, origin time.Time) int {
	windowStart := origin.Add(-AdoptionWindowMinutes * time.Minute)
	freshnessCutoff := origin.Add(-ActiveSnapshotFreshnessMinutes * time.Minute)
	lowerBound := windowStart
	if freshnessCutoff.After(lowerBound) {
		lowerBound = freshnessCutoff
	}
	upperBound := origin.Add(AdoptionWindowMinutes * time.Minute)
	lines := g.latestLinesByVenue(ctx, group, lowerBound, upperBound)
	return len(lines)
}

func (g *GateEvaluator) computeDispersionWindow(ctx context.Context, group ConfirmationResult, start, end time.Time) *float64 {
	lines := g.latestLinesByVenue(ctx, group, start, end)
	if len(lines) < 2 {
		return nil
	}
	values := make([]float64, 0, len(lines))
	for _, v := range lines {
		values = append(values, v)
	}
	return domain.PopulationStdDev(values)
}

func (g *GateEvaluator) latestLinesByVenue(ctx context.Context, group ConfirmationResult, start, end time.Time) map[string]float64 {
	out := make(map[string]float64)
	if end.Before(start) {
		return out
	}
	lookback := end.Sub(start)
	rows, err := g.snapshots.InWindow(ctx, []string{group.EventID}, group.Market, lookback, end)
	if err != nil {
		return out
	}
	latestAt := make(map[string]time.Time)
	for _, r := range rows {
		if r.OutcomeName != group.OutcomeName || r.Line == nil {
			continue
		}
		if r.FetchedAt.Before(start) || r.FetchedAt.After(end) {
			continue
		}
		if prev, ok := latestAt[r.SportsbookKey]; !ok || r.FetchedAt.After(prev) {
			latestAt[r.SportsbookKey] = r.FetchedAt
			out[r.SportsbookKey] = *r.Line
		}
	}
	return out
}

// detectReversal applies the confirmation rule to opposite-direction
// crossings of the exact same threshold within the reversal window. Ported
// as `detect_reversal`.
func detectReversal(group ConfirmationResult, allMoves []domain.QuoteMoveEvent) (bool, *time.Time) {
	windowEnd := group.ConfirmationTimestamp.Add(ReversalWindowMinutes * time.Minute)
	opposite := oppositeDirection(group.BreakDirection)

	var candidates []ConfirmationInput
	for _, mv := range allMoves {
		if mv.MarketKey != group.Market || mv.OutcomeName != group.OutcomeName {
			continue
		}
		if !mv.Timestamp.After(group.ConfirmationTimestamp) || mv.Timestamp.After(windowEnd) {
			continue
		}
		if mv.OldLine == nil || mv.NewLine == nil {
			continue
		}
		if lineDirection(*mv.OldLine, *mv.NewLine) != opposite {
			continue
		}
		for _, threshold := range domain.LineCrossings(*mv.OldLine, *mv.NewLine) {
			if threshold != group.ThresholdValue {
				continue
			}
			candidates = append(candidates, ConfirmationInput{
				EventID: mv.EventID, Market: mv.MarketKey, OutcomeName: mv.OutcomeName,
				ThresholdValue: threshold, Direction: opposite, Venue: mv.Venue,
				VenueTier: mv.VenueTier, Timestamp: mv.Timestamp, LineBefore: mv.OldLine, LineAfter: mv.NewLine, Delta: mv.Delta,
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		}
		return candidates[i].Venue < candidates[j].Venue
	})
	confirmedAt := findConfirmationTimestamp(candidates)
	if confirmedAt == nil {
		return false, nil
	}
	return true, confirmedAt
}

// computeBreakHoldMinutes returns the minutes from confirmation to the
// earlier of a reversal, the end of the reversal window, or the last
// relevant observation. Ported as `_compute_break_hold_minutes`.
func computeBreakHoldMinutes(group ConfirmationResult, allMoves []domain.QuoteMoveEvent, reversalTimestamp *time.Time) float64 {
	windowEnd := group.ConfirmationTimestamp.Add(ReversalWindowMinutes * time.Minute)
	var holdEnd time.Time
	if reversalTimestamp != nil {
		holdEnd = *reversalTimestamp
	} else {
		var lastObserved *time.Time
		for _, mv := range allMoves {
			if mv.MarketKey != group.Market || mv.OutcomeName != group.OutcomeName {
				continue
			}
			if !mv.Timestamp.After(group.ConfirmationTimestamp) || mv.Timestamp.After(windowEnd) {
				continue
			}
			if lastObserved == nil || mv.Timestamp.After(*lastObserved) {
				ts := mv.Timestamp
				lastObserved = &ts
			}
		}
		if lastObserved != nil && lastObserved.Before(windowEnd) {
			holdEnd = *lastObserved
		} else {
			holdEnd = windowEnd
		}
	}
	minutes := holdEnd.Sub(group.ConfirmationTimestamp).Minutes()
	if minutes < 0 {
		return 0
	}
	return minutes
}
