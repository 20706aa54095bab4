// Package signals implements the detector (C5): a set of rules that scan
// recent odds snapshots, consensus rows, and cross-market divergence events
// for actionable line-move patterns and emit scored, deduped Signal rows.
// Grounded on original_source/backend/app/services/signals.py — component
// weights and caps are carried over exactly into the functions below.
package signals

import (
	"math"

	"github.com/sawpanic/stratum/internal/domain"
)

// ScoreComponents is the reproducible breakdown behind a strength score,
// stored verbatim in the signal's metadata "components" field.
type ScoreComponents map[string]float64

// ComputeStrengthScore is the MOVE/KEY_CROSS/MULTIBOOK_SYNC scorer. When
// minutesToTip is nil it uses the context-free component set (magnitude 50 /
// speed 30 / books 20); otherwise it uses the timing-aware set (40/25/15 +
// timingComponent).
func ComputeStrengthScore(magnitude, velocityMinutes float64, windowMinutes, booksAffected int, minutesToTip *float64) (int, ScoreComponents) {
	window := float64(windowMinutes)
	if minutesToTip == nil {
		magnitudeComponent := math.Min(50.0, math.Abs(magnitude)*20.0)
		cappedVelocity := clamp(velocityMinutes, 0.01, window)
		speedComponent := math.Min(30.0, ((window-cappedVelocity)/window)*30.0)
		booksComponent := math.Min(20.0, float64(maxInt(booksAffected, 1))*4.0)

		score := clampScore(magnitudeComponent + speedComponent + booksComponent)
		return score, ScoreComponents{
			"magnitude_component": round2(magnitudeComponent),
			"speed_component":     round2(speedComponent),
			"books_component":     round2(booksComponent),
		}
	}

	magnitudeComponent := math.Min(40.0, math.Abs(magnitude)*16.0)
	cappedVelocity := clamp(velocityMinutes, 0.01, window)
	speedComponent := math.Min(25.0, ((window-cappedVelocity)/window)*25.0)
	booksComponent := math.Min(15.0, float64(maxInt(booksAffected, 1))*3.0)
	timingComponent := TimingComponent(*minutesToTip)

	score := clampScore(magnitudeComponent + speedComponent + booksComponent + timingComponent)
	return score, ScoreComponents{
		"magnitude_component": round2(magnitudeComponent),
		"speed_component":     round2(speedComponent),
		"books_component":     round2(booksComponent),
		"timing_component":    round2(timingComponent),
	}
}

// TimingComponent rewards signals fired earlier pre-tip and decays sharply
// after tipoff (ported as `_timing_component`).
func TimingComponent(minutesToTip float64) float64 {
	if minutesToTip >= 0 {
		preTip := math.Min(minutesToTip, 240.0)
		return 4.0 + (preTip/240.0)*16.0
	}
	postTip := math.Min(math.Abs(minutesToTip), 180.0)
	return math.Max(-8.0, 4.0-(postTip/15.0))
}

// ComputeStrengthDislocation scores a DISLOCATION candidate (ported as
// `compute_strength_dislocation`).
func ComputeStrengthDislocation(delta float64, dispersion *float64, booksCount int, market domain.Market, spreadBaseline, totalBaseline, mlBaseline float64) int {
	baseline := spreadBaseline
	switch market {
	case domain.MarketTotals:
		baseline = totalBaseline
	case domain.MarketH2H:
		baseline = mlBaseline
	}
	baseline = math.Max(baseline, 0.0001)

	deltaRatio := math.Max(delta, 0.0) / baseline
	deltaComponent := math.Min(55.0, deltaRatio*20.0)

	var dispersionComponent float64
	if dispersion == nil {
		dispersionComponent = 5.0
	} else {
		dispersionComponent = clamp(20.0/(1.0+math.Abs(*dispersion)*2.5), 0.0, 20.0)
	}

	booksComponent := math.Min(15.0, math.Max(0.0, float64(booksCount-4)*2.0))
	return clampScore(8.0 + deltaComponent + dispersionComponent + booksComponent)
}

// ComputeStrengthSteam scores a STEAM candidate (ported as `compute_strength_steam`).
func ComputeStrengthSteam(totalMove, speed float64, booksCount int, market domain.Market, threshold float64, windowMinutes, minBooks int) int {
	threshold = math.Max(threshold, 0.0001)
	window := math.Max(1.0, float64(windowMinutes))

	moveRatio := math.Abs(totalMove) / threshold
	moveComponent := math.Min(40.0, moveRatio*16.0)

	booksAboveMin := maxInt(0, booksCount-minBooks+1)
	booksComponent := math.Min(22.0, float64(booksAboveMin)*5.5)

	baselineSpeed := threshold / window
	speedRatio := speed / math.Max(baselineSpeed, 0.0001)
	speedComponent := math.Min(18.0, speedRatio*6.0)

	return clampScore(8.0 + moveComponent + booksComponent + speedComponent)
}

// ComputeStrengthExchangeDivergence scores an EXCHANGE_DIVERGENCE candidate
// (ported as `compute_strength_exchange_divergence`).
func ComputeStrengthExchangeDivergence(divergenceType domain.DivergenceType, lagSeconds *int64, exchangeProbability *float64) int {
	typeComponent := 15.0
	switch divergenceType {
	case domain.DivergenceOpposed:
		typeComponent = 40.0
	case domain.DivergenceExchangeLeads:
		typeComponent = 28.0
	case domain.DivergenceSportsbookLeads:
		typeComponent = 22.0
	}

	var lagComponent float64
	switch {
	case lagSeconds == nil:
		lagComponent = 15.0
	case *lagSeconds <= 30:
		lagComponent = 30.0
	case *lagSeconds <= 120:
		lagComponent = 22.0
	case *lagSeconds <= 300:
		lagComponent = 14.0
	default:
		lagComponent = 6.0
	}

	var probComponent float64
	if exchangeProbability != nil {
		probDistance := math.Abs(*exchangeProbability - 0.5)
		probComponent = math.Min(30.0, probDistance*60.0)
	} else {
		probComponent = 10.0
	}

	return clampScore(typeComponent + lagComponent + probComponent)
}

func clampScore(raw float64) int {
	v := int(math.Round(raw))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Direction classifies a from/to move.
func Direction(from, to float64) domain.SignalDirection {
	switch {
	case to > from:
		return domain.SignalDirectionUp
	case to < from:
		return domain.SignalDirectionDown
	default:
		return domain.SignalDirectionFlat
	}
}
