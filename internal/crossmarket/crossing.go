// Package crossmarket aligns sportsbook structural breaks (internal/
// structural) with exchange probability crossings, grounded on
// original_source/backend/app/services/cross_market_lead_lag.py and
// cross_market_divergence.py. Two services share the same crossing
// detection: LeadLagService finds the nearest exchange crossing for every
// structural event; DivergenceService classifies the relationship between
// the most recent structural break and the most recent exchange crossing.
package crossmarket

import (
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

// AlignWindowMinutes bounds how far apart a structural break and an
// exchange crossing can be and still be considered the same move.
const AlignWindowMinutes = 10

// ProbabilityCrossing is one detected 0.025-grid boundary crossing on an
// exchange market. Mirrors the Python ProbabilityCrossing dataclass.
type ProbabilityCrossing struct {
	Timestamp time.Time
	MarketID  string
	Source    domain.ExchangeSource
	Threshold float64
}

// DetectProbabilityCrossings groups quotes by (source, market_id), walks
// each group in chronological order, and emits one ProbabilityCrossing per
// 0.025 boundary crossed between consecutive observations. Ported as
// `detect_probability_crossings`; reuses domain.ProbCrossings for the
// scaled-integer boundary walk instead of reimplementing Decimal arithmetic.
func DetectProbabilityCrossings(quotes []domain.ExchangeQuoteEvent) []ProbabilityCrossing {
	type groupKey struct {
		source   domain.ExchangeSource
		marketID string
	}
	groups := make(map[groupKey][]domain.ExchangeQuoteEvent)
	for _, q := range quotes {
		k := groupKey{q.Source, q.MarketID}
		groups[k] = append(groups[k], q)
	}

	var out []ProbabilityCrossing
	for k, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
		for i := 1; i < len(group); i++ {
			prev, cur := group[i-1], group[i]
			for _, threshold := range domain.ProbCrossings(prev.Probability, cur.Probability) {
				out = append(out, ProbabilityCrossing{
					Timestamp: cur.Timestamp,
					MarketID:  k.marketID,
					Source:    k.source,
					Threshold: threshold,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Threshold < out[j].Threshold
	})
	return out
}
