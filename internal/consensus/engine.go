// Package consensus computes per-(event, market, outcome) median/dispersion
// rows from recent odds snapshots (C3). Grounded on
// original_source/backend/app/services/consensus.py's
// compute_and_persist_consensus for the exact skip/threshold structure,
// reimplemented with the teacher's transaction-per-cycle pattern
// (trades_repo.go's BeginTxx/loop/Commit).
package consensus

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

// Config holds the consensus thresholds from SPEC_FULL.md §6.
type Config struct {
	LookbackMinutes int
	MinBooks        int
	MinMarkets      int
	Markets         []domain.Market
}

// Engine computes and persists consensus snapshots.
type Engine struct {
	cfg       Config
	snapshots persistence.OddsSnapshotRepository
	consensus persistence.ConsensusRepository
}

// NewEngine wires an Engine to its dependencies.
func NewEngine(cfg Config, snapshots persistence.OddsSnapshotRepository, consensusRepo persistence.ConsensusRepository) *Engine {
	return &Engine{cfg: cfg, snapshots: snapshots, consensus: consensusRepo}
}

// Result reports how many outcomes were written versus skipped for insufficient books.
type Result struct {
	Written int
	Skipped int
}

// Compute runs the consensus algorithm for each given event_id, across every
// configured market. All rows computed in this call share one fetchedAt
// timestamp (§4.3: "All computed rows for one cycle share a single
// fetched_at timestamp").
func (e *Engine) Compute(ctx context.Context, eventIDs []string) (Result, error) {
	fetchedAt := time.Now().UTC()
	lookback := time.Duration(e.cfg.LookbackMinutes) * time.Minute
	result := Result{}

	type outcomeOutput struct {
		market domain.Market
		snap   domain.MarketConsensusSnapshot
	}
	var cycle []outcomeOutput

	for _, eventID := range eventIDs {
		eligibleMarkets := 0
		var pending []outcomeOutput

		for _, market := range e.cfg.Markets {
			rows, err := e.snapshots.LatestPerBook(ctx, eventID, market, lookback, fetchedAt)
			if err != nil {
				log.Error().Err(err).Str("event_id", eventID).Str("market", string(market)).Msg("consensus: failed to load snapshots")
				continue
			}
			byOutcome := groupByOutcome(rows)
			marketHasEligible := false
			for outcomeName, obs := range byOutcome {
				if len(obs) < e.cfg.MinBooks {
					log.Debug().Str("event_id", eventID).Str("market", string(market)).Str("outcome", outcomeName).
						Int("books", len(obs)).Msg("consensus: skipped, insufficient books")
					result.Skipped++
					continue
				}
				marketHasEligible = true
				snap := computeOutcome(eventID, market, outcomeName, obs, fetchedAt)
				pending = append(pending, outcomeOutput{market: market, snap: snap})
			}
			if marketHasEligible {
				eligibleMarkets++
			}
		}

		if eligibleMarkets < e.cfg.MinMarkets {
			log.Debug().Str("event_id", eventID).Int("eligible_markets", eligibleMarkets).
				Msg("consensus: event skipped, too few eligible markets")
			continue
		}

		cycle = append(cycle, pending...)
	}

	if len(cycle) == 0 {
		return result, nil
	}

	snaps := make([]domain.MarketConsensusSnapshot, len(cycle))
	for i, c := range cycle {
		snaps[i] = c.snap
	}
	if err := e.consensus.UpsertMany(ctx, snaps); err != nil {
		log.Error().Err(err).Int("rows", len(snaps)).Msg("consensus: cycle upsert failed, no rows written")
		return result, err
	}
	result.Written = len(snaps)

	return result, nil
}

func groupByOutcome(rows []domain.OddsSnapshot) map[string][]domain.OddsSnapshot {
	out := make(map[string][]domain.OddsSnapshot)
	for _, r := range rows {
		out[r.OutcomeName] = append(out[r.OutcomeName], r)
	}
	return out
}

// computeOutcome applies the h2h vs non-h2h branch from §4.3.
func computeOutcome(eventID string, market domain.Market, outcomeName string, obs []domain.OddsSnapshot, fetchedAt time.Time) domain.MarketConsensusSnapshot {
	prices := make([]float64, 0, len(obs))
	for _, o := range obs {
		prices = append(prices, float64(o.Price))
	}

	snap := domain.MarketConsensusSnapshot{
		EventID:     eventID,
		Market:      market,
		OutcomeName: outcomeName,
		BooksCount:  len(obs),
		FetchedAt:   fetchedAt,
	}

	if market == domain.MarketH2H {
		snap.ConsensusPrice = domain.Median(prices)
		probs := make([]float64, 0, len(obs))
		for _, o := range obs {
			if p := domain.AmericanToImpliedProb(o.Price); p != nil {
				probs = append(probs, *p)
			}
		}
		snap.Dispersion = domain.PopulationStdDev(probs)
		return snap
	}

	lines := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.Line != nil {
			lines = append(lines, *o.Line)
		}
	}
	snap.ConsensusLine = domain.Median(lines)
	snap.ConsensusPrice = domain.Median(prices)
	snap.Dispersion = domain.PopulationStdDev(lines)
	return snap
}
