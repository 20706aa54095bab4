package retention

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

// KpiSummary is the rolling cycle-health and CLV-performance dashboard
// SPEC_FULL.md §4.10 describes as the "performance dashboards" half of C11's
// responsibility, supplemented from original_source performance_intel.py's
// get_clv_performance_summary and get_clv_trust_scorecards (the cycle-level
// half is persistence.CycleKpiSummary, already computed in SQL by
// CycleKpiRepository.RecentSummary).
type KpiSummary struct {
	Since      time.Time                 `json:"since"`
	Cycles     persistence.CycleKpiSummary `json:"cycles"`
	ClvByGroup []ClvGroupPerformance     `json:"clv_by_group"`
}

// ClvGroupPerformance aggregates CLV outcomes for one (signal_type, market)
// pair, mirroring performance_intel.py's per-group row shape.
type ClvGroupPerformance struct {
	SignalType      domain.SignalType `json:"signal_type"`
	Market          domain.Market     `json:"market"`
	Count           int               `json:"count"`
	PctPositiveClv  float64           `json:"pct_positive_clv"`
	AvgClvLine      *float64          `json:"avg_clv_line,omitempty"`
	AvgClvProb      *float64          `json:"avg_clv_prob,omitempty"`
	ConfidenceScore int               `json:"confidence_score"`
	ConfidenceTier  string            `json:"confidence_tier"`
}

// AggregateWindow builds a KpiSummary over every CycleKpi and ClvRecord row
// since the given time.
func (s *Sweeper) AggregateWindow(ctx context.Context, since time.Time) (KpiSummary, error) {
	cycles, err := s.kpiRepo.RecentSummary(ctx, since)
	if err != nil {
		return KpiSummary{}, err
	}

	records, err := s.clvRepo.RecentRecords(ctx, since)
	if err != nil {
		return KpiSummary{}, err
	}

	return KpiSummary{
		Since:      since,
		Cycles:     cycles,
		ClvByGroup: groupClvPerformance(records),
	}, nil
}

type clvGroupKey struct {
	signalType domain.SignalType
	market     domain.Market
}

// groupClvPerformance buckets records by (signal_type, market) and computes
// the same sample/edge/stability confidence score performance_intel.py's
// get_clv_trust_scorecards derives, minus the Postgres stddev_pop step
// (computed here in Go over the already-fetched rows instead).
func groupClvPerformance(records []domain.ClvRecord) []ClvGroupPerformance {
	buckets := map[clvGroupKey][]domain.ClvRecord{}
	for _, rec := range records {
		key := clvGroupKey{signalType: rec.SignalType, market: rec.Market}
		buckets[key] = append(buckets[key], rec)
	}

	out := make([]ClvGroupPerformance, 0, len(buckets))
	for key, recs := range buckets {
		lineVals := make([]float64, 0, len(recs))
		probVals := make([]float64, 0, len(recs))
		positive := 0
		for _, rec := range recs {
			if (rec.ClvLine != nil && *rec.ClvLine > 0) || (rec.ClvProb != nil && *rec.ClvProb > 0) {
				positive++
			}
			if rec.ClvLine != nil {
				lineVals = append(lineVals, *rec.ClvLine)
			}
			if rec.ClvProb != nil {
				probVals = append(probVals, *rec.ClvProb)
			}
		}

		count := len(recs)
		pctPositive := 0.0
		if count > 0 {
			pctPositive = float64(positive) / float64(count) * 100.0
		}
		avgLine, stddevLine := meanAndStddev(lineVals)
		avgProb, stddevProb := meanAndStddev(probVals)

		lineRatio := stabilityRatio(avgLine, stddevLine)
		probRatio := stabilityRatio(avgProb, stddevProb)
		effectiveRatio := lineRatio
		if effectiveRatio == nil {
			effectiveRatio = probRatio
		} else if probRatio != nil && *probRatio < *effectiveRatio {
			effectiveRatio = probRatio
		}

		confidence := samplePoints(count) + edgePoints(pctPositive) + stabilityPoints(effectiveRatio)
		if confidence < 1 {
			confidence = 1
		}
		if confidence > 100 {
			confidence = 100
		}

		out = append(out, ClvGroupPerformance{
			SignalType:      key.signalType,
			Market:          key.market,
			Count:           count,
			PctPositiveClv:  pctPositive,
			AvgClvLine:      avgLine,
			AvgClvProb:      avgProb,
			ConfidenceScore: confidence,
			ConfidenceTier:  confidenceTier(count, pctPositive, confidence),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].SignalType != out[j].SignalType {
			return out[i].SignalType < out[j].SignalType
		}
		return out[i].Market < out[j].Market
	})
	return out
}

func meanAndStddev(values []float64) (mean *float64, stddev *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	if len(values) < 2 {
		return &avg, nil
	}
	var sumSq float64
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	sd := math.Sqrt(sumSq / float64(len(values)))
	return &avg, &sd
}

func stabilityRatio(avg, stddev *float64) *float64 {
	if avg == nil || stddev == nil {
		return nil
	}
	denom := math.Abs(*avg)
	if denom < 1e-9 {
		return nil
	}
	ratio := *stddev / denom
	return &ratio
}

func stabilityPoints(ratio *float64) int {
	if ratio == nil {
		return 4
	}
	switch {
	case *ratio <= 1.0:
		return 20
	case *ratio <= 1.5:
		return 14
	case *ratio <= 2.0:
		return 9
	case *ratio <= 3.0:
		return 5
	default:
		return 2
	}
}

func samplePoints(count int) int {
	switch {
	case count >= 200:
		return 45
	case count >= 100:
		return 35
	case count >= 60:
		return 28
	case count >= 30:
		return 20
	case count >= 15:
		return 12
	default:
		return 6
	}
}

func edgePoints(pctPositive float64) int {
	edge := math.Abs(pctPositive - 50.0)
	switch {
	case edge >= 20.0:
		return 25
	case edge >= 15.0:
		return 20
	case edge >= 10.0:
		return 14
	case edge >= 5.0:
		return 8
	default:
		return 3
	}
}

func confidenceTier(count int, pctPositive float64, confidence int) string {
	if count >= 100 && confidence >= 70 && pctPositive >= 54.0 {
		return "A"
	}
	if count >= 30 && confidence >= 50 && pctPositive >= 52.0 {
		return "B"
	}
	return "C"
}
