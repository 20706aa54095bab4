package signals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/kv"
	"github.com/sawpanic/stratum/internal/persistence"
)

// Detector runs every rule in SPEC_FULL.md §4.4 across a cycle's candidate
// event_ids and persists the resulting signals. Grounded on
// original_source/backend/app/services/signals.py's `detect_market_movements`
// orchestration, minus the Kalshi liquidity-skew gate (app/services/
// kalshi_gating.py) — no SPEC_FULL.md component exercises per-signal Kalshi
// skew gating, so it is left out rather than carried as dead code (see
// DESIGN.md).
type Detector struct {
	cfg        config.Config
	snapshots  persistence.OddsSnapshotRepository
	consensus  persistence.ConsensusRepository
	games      persistence.GameRepository
	alignments persistence.AlignmentRepository
	divergence persistence.DivergenceRepository
	signalRepo persistence.SignalRepository
	store      *kv.Store
}

// NewDetector wires a Detector to its dependencies.
func NewDetector(cfg config.Config, snapshots persistence.OddsSnapshotRepository, consensus persistence.ConsensusRepository, games persistence.GameRepository, alignments persistence.AlignmentRepository, divergence persistence.DivergenceRepository, signalRepo persistence.SignalRepository, store *kv.Store) *Detector {
	return &Detector{
		cfg:        cfg,
		snapshots:  snapshots,
		consensus:  consensus,
		games:      games,
		alignments: alignments,
		divergence: divergence,
		signalRepo: signalRepo,
		store:      store,
	}
}

// Result reports how many signals were persisted versus attempted, plus the
// signals themselves (IDs stamped before insert) so a caller can fan them
// out to internal/alerts without a re-query.
type Result struct {
	Created int
	Failed  int
	Signals []domain.Signal
}

// RunCycle runs every rule across eventIDs and inserts the resulting signals.
func (d *Detector) RunCycle(ctx context.Context, eventIDs []string) (Result, error) {
	if len(eventIDs) == 0 {
		return Result{}, nil
	}
	now := time.Now().UTC()
	commenceMap := d.commenceTimeByEvent(ctx, eventIDs)

	var all []domain.Signal

	spreadSnaps, err := d.snapshots.InWindow(ctx, eventIDs, domain.MarketSpreads, 10*time.Minute, now)
	if err != nil {
		log.Error().Err(err).Msg("signals: spreads window load failed")
	} else {
		for _, c := range detectLineMoves(spreadSnaps, domain.MarketSpreads, 10, d.cfg.Ingestion.KeyNumbersSpreads) {
			if dedupeSignal(ctx, d.store, moveDedupeKey(c), 10*time.Minute) {
				continue
			}
			all = append(all, c.toSignal(minutesToTipFor(c.eventID, commenceMap, now), now))
		}
	}

	totalSnaps, err := d.snapshots.InWindow(ctx, eventIDs, domain.MarketTotals, 15*time.Minute, now)
	if err != nil {
		log.Error().Err(err).Msg("signals: totals window load failed")
	} else {
		for _, c := range detectLineMoves(totalSnaps, domain.MarketTotals, 15, nil) {
			if dedupeSignal(ctx, d.store, moveDedupeKey(c), 15*time.Minute) {
				continue
			}
			all = append(all, c.toSignal(minutesToTipFor(c.eventID, commenceMap, now), now))
		}
	}

	multibookSnaps := append(append([]domain.OddsSnapshot{}, spreadSnaps...), totalSnaps...)
	for _, c := range detectMultibookSync(multibookSnaps, 5) {
		if dedupeSignal(ctx, d.store, multibookDedupeKey(c), 5*time.Minute) {
			continue
		}
		all = append(all, c.toSignal(minutesToTipFor(c.eventID, commenceMap, now), now))
	}

	all = append(all, d.detectDislocations(ctx, eventIDs, commenceMap, now)...)

	steamSnaps, err := d.snapshots.InWindow(ctx, eventIDs, domain.MarketSpreads, time.Duration(d.cfg.Steam.WindowMinutes)*time.Minute, now)
	if err != nil {
		log.Error().Err(err).Msg("signals: steam spreads window load failed")
	}
	steamTotals, err := d.snapshots.InWindow(ctx, eventIDs, domain.MarketTotals, time.Duration(d.cfg.Steam.WindowMinutes)*time.Minute, now)
	if err != nil {
		log.Error().Err(err).Msg("signals: steam totals window load failed")
	}
	all = append(all, d.detectSteam(ctx, append(steamSnaps, steamTotals...), commenceMap, now)...)

	all = append(all, d.detectLiveShocks(ctx, eventIDs, commenceMap, now, d.loadLiveShockWindow)...)

	all = append(all, d.detectExchangeDivergence(ctx, eventIDs, commenceMap, now)...)

	result := Result{}
	for _, sig := range all {
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if err := d.signalRepo.Insert(ctx, sig); err != nil {
			log.Error().Err(err).Str("event_id", sig.EventID).Str("signal_type", string(sig.SignalType)).Msg("signals: insert failed")
			result.Failed++
			continue
		}
		result.Created++
		result.Signals = append(result.Signals, sig)
	}
	return result, nil
}

func (d *Detector) loadLiveShockWindow(ctx context.Context, eventIDs []string, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	var out []domain.OddsSnapshot
	for _, m := range []domain.Market{domain.MarketSpreads, domain.MarketTotals, domain.MarketH2H} {
		rows, err := d.snapshots.InWindow(ctx, eventIDs, m, lookback, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (d *Detector) commenceTimeByEvent(ctx context.Context, eventIDs []string) map[string]time.Time {
	out := make(map[string]time.Time, len(eventIDs))
	for _, id := range eventIDs {
		g, err := d.games.Get(ctx, id)
		if err != nil || g == nil {
			continue
		}
		out[id] = g.CommenceTime
	}
	return out
}

func minutesToTipFor(eventID string, commenceMap map[string]time.Time, now time.Time) *float64 {
	ct, ok := commenceMap[eventID]
	if !ok {
		return nil
	}
	m := ct.UTC().Sub(now.UTC()).Minutes()
	return &m
}
