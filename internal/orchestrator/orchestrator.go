// Package orchestrator runs the single cycle loop SPEC_FULL.md §4.9
// describes: one poll of the odds and exchange providers, consensus and
// quote-move computation, structural confirmation and cross-market
// divergence, signal detection, alert fan-out, and a closing KPI row —
// then picks how long to sleep before the next cycle. Grounded on the
// teacher's internal/scheduler/scheduler.go Start(ctx) ticker loop, adapted
// from a fixed-interval cron runner into a single adaptive cycle (the
// teacher polls many independent jobs on their own cron schedules; this
// engine has exactly one job whose own interval changes with provider
// credit and game density).
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/stratum/internal/alerts"
	"github.com/sawpanic/stratum/internal/closing"
	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/consensus"
	"github.com/sawpanic/stratum/internal/crossmarket"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/kv"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/sawpanic/stratum/internal/providers"
	"github.com/sawpanic/stratum/internal/providers/breaker"
	"github.com/sawpanic/stratum/internal/providers/oddsapi"
	"github.com/sawpanic/stratum/internal/quotemoves"
	"github.com/sawpanic/stratum/internal/signals"
	"github.com/sawpanic/stratum/internal/structural"
	"github.com/sawpanic/stratum/internal/telemetry/metrics"
)

const liveSignalChannel = "stratum:live:signals"

// Orchestrator wires every detection-pipeline stage into one adaptive
// cycle. Each field is a package this project already built; nothing here
// implements domain logic itself.
type Orchestrator struct {
	cfg config.Config

	oddsIngestor     *oddsapi.Ingestor
	exchangeIngestor *providers.ExchangeIngestor
	consensusEngine  *consensus.Engine
	quoteBuilder     *quotemoves.Builder
	detector         *signals.Detector
	gateEvaluator    *structural.GateEvaluator
	divergenceSvc    *crossmarket.DivergenceService
	leadLagSvc       *crossmarket.LeadLagService
	dispatcher       *alerts.Dispatcher
	closingSvc       *closing.Service
	clvSvc           *closing.ClvService
	backfillSvc      *closing.BackfillService

	games      persistence.GameRepository
	alignments persistence.AlignmentRepository
	kpiRepo    persistence.CycleKpiRepository

	breakerMgr *breaker.Manager
	store      *kv.Store
	registry   *metrics.Registry

	lastClvRun time.Time
}

// Deps collects every dependency NewOrchestrator wires together, kept as
// its own struct since the constructor's field count would otherwise make
// call sites unreadable.
type Deps struct {
	Config config.Config

	OddsIngestor     *oddsapi.Ingestor
	ExchangeIngestor *providers.ExchangeIngestor
	ConsensusEngine  *consensus.Engine
	QuoteBuilder     *quotemoves.Builder
	Detector         *signals.Detector
	GateEvaluator    *structural.GateEvaluator
	DivergenceSvc    *crossmarket.DivergenceService
	LeadLagSvc       *crossmarket.LeadLagService
	Dispatcher       *alerts.Dispatcher
	ClosingSvc       *closing.Service
	ClvSvc           *closing.ClvService
	BackfillSvc      *closing.BackfillService

	Games      persistence.GameRepository
	Alignments persistence.AlignmentRepository
	KpiRepo    persistence.CycleKpiRepository

	BreakerMgr *breaker.Manager
	Store      *kv.Store
	Registry   *metrics.Registry
}

// New builds an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:              deps.Config,
		oddsIngestor:     deps.OddsIngestor,
		exchangeIngestor: deps.ExchangeIngestor,
		consensusEngine:  deps.ConsensusEngine,
		quoteBuilder:     deps.QuoteBuilder,
		detector:         deps.Detector,
		gateEvaluator:    deps.GateEvaluator,
		divergenceSvc:    deps.DivergenceSvc,
		leadLagSvc:       deps.LeadLagSvc,
		dispatcher:       deps.Dispatcher,
		closingSvc:       deps.ClosingSvc,
		clvSvc:           deps.ClvSvc,
		backfillSvc:      deps.BackfillSvc,
		games:            deps.Games,
		alignments:       deps.Alignments,
		kpiRepo:          deps.KpiRepo,
		breakerMgr:       deps.BreakerMgr,
		store:            deps.Store,
		registry:         deps.Registry,
	}
}

// Run drives the cycle loop until ctx is cancelled, the shape grounded on
// scheduler.go's Start(ctx): a timer plus a select on ctx.Done()/timer.C,
// except the timer is Reset to an interval chosen anew after each cycle
// instead of firing at a fixed cadence.
func (o *Orchestrator) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			next := o.runCycle(ctx)
			timer.Reset(next)
		}
	}
}

// runCycle executes one full pipeline pass and returns how long to sleep
// before the next one. It never returns an error: every sub-step failure
// is logged, marks the cycle degraded, and the pipeline continues to the
// next stage on whatever partial data it has, per SPEC_FULL.md §4.9's
// degraded-mode rule.
func (o *Orchestrator) runCycle(ctx context.Context) time.Duration {
	cycleID := uuid.NewString()
	startedAt := time.Now().UTC()
	kpi := domain.CycleKpi{
		CycleID:              cycleID,
		StartedAt:            startedAt,
		SignalsCreatedByType: map[string]int{},
	}
	degraded := false

	var oddsResult oddsapi.CycleResult
	if o.breakerMgr != nil && o.breakerMgr.State(ctx, "oddsapi") == gobreaker.StateOpen {
		log.Warn().Str("cycle_id", cycleID).Msg("orchestrator: oddsapi breaker open, skipping odds poll this cycle")
		degraded = true
	} else {
		res, err := o.executeBreaker(ctx, "oddsapi", func() (any, error) {
			return o.oddsIngestor.IngestCycle(ctx)
		})
		if err != nil {
			log.Error().Err(err).Str("cycle_id", cycleID).Msg("orchestrator: odds ingest failed")
			degraded = true
		} else {
			oddsResult = res.(oddsapi.CycleResult)
			kpi.EventsProcessed = oddsResult.EventsSeen
			kpi.SnapshotsInserted = oddsResult.SnapshotsInserted
			kpi.RequestsUsedDelta = oddsResult.Counters.Used
		}
	}
	eventIDs := oddsResult.EventIDs

	canonicalKeys := o.canonicalKeysForEvents(ctx, eventIDs)
	if o.exchangeIngestor != nil && len(canonicalKeys) > 0 {
		if _, err := o.exchangeIngestor.IngestCycle(ctx, canonicalKeys); err != nil {
			log.Error().Err(err).Str("cycle_id", cycleID).Msg("orchestrator: exchange ingest failed")
			degraded = true
		}
	}

	if len(eventIDs) > 0 {
		consResult, err := o.consensusEngine.Compute(ctx, eventIDs)
		if err != nil {
			log.Error().Err(err).Str("cycle_id", cycleID).Msg("orchestrator: consensus compute failed")
			degraded = true
		} else {
			kpi.ConsensusPointsWritten = consResult.Written
		}
	}

	o.runClosing(ctx, eventIDs, &degraded)
	o.appendQuoteMoves(ctx, eventIDs, &degraded)
	o.runStructural(ctx, eventIDs, &degraded)
	// C7 runs before C5 so that internal/signals' detectExchangeDivergence
	// rule (bundled into the same RunCycle call below) sees this cycle's
	// freshly computed divergence/lead-lag rows rather than last cycle's.
	o.runCrossMarket(ctx, canonicalKeys, &degraded)

	var sigResult signals.Result
	if len(eventIDs) > 0 {
		res, err := o.detector.RunCycle(ctx, eventIDs)
		if err != nil {
			log.Error().Err(err).Str("cycle_id", cycleID).Msg("orchestrator: signal detection failed")
			degraded = true
		} else {
			sigResult = res
			kpi.SignalsCreatedTotal = sigResult.Created
			for _, sig := range sigResult.Signals {
				kpi.SignalsCreatedByType[string(sig.SignalType)]++
			}
		}
	}

	if o.dispatcher != nil && len(sigResult.Signals) > 0 {
		sent, err := o.dispatcher.DispatchSignals(ctx, sigResult.Signals)
		if err != nil {
			log.Error().Err(err).Str("cycle_id", cycleID).Msg("orchestrator: signal dispatch failed")
			degraded = true
		}
		kpi.AlertsSent += sent
	}
	o.publishLive(ctx, sigResult.Signals)

	o.runClvCycle(ctx, &kpi, &degraded)

	completedAt := time.Now().UTC()
	kpi.CompletedAt = completedAt
	kpi.DurationMS = completedAt.Sub(startedAt).Milliseconds()
	kpi.Degraded = degraded
	if o.registry != nil {
		outcome := "ok"
		if degraded {
			outcome = "degraded"
		}
		o.registry.CycleDuration.WithLabelValues(outcome).Observe(completedAt.Sub(startedAt).Seconds())
	}
	if err := o.kpiRepo.Insert(ctx, kpi); err != nil {
		log.Error().Err(err).Str("cycle_id", cycleID).Msg("orchestrator: kpi insert failed")
	}

	return o.nextInterval(ctx, oddsResult)
}

func (o *Orchestrator) executeBreaker(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	if o.breakerMgr == nil {
		return fn()
	}
	return o.breakerMgr.Execute(ctx, name, fn)
}

// canonicalKeysForEvents resolves which canonical exchange alignments this
// cycle's sportsbook events touch, so C2/C7 only do work for events that
// actually moved.
func (o *Orchestrator) canonicalKeysForEvents(ctx context.Context, eventIDs []string) []string {
	if o.alignments == nil {
		return nil
	}
	var keys []string
	for _, eventID := range eventIDs {
		align, err := o.alignments.BySportsbookEventID(ctx, eventID)
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("orchestrator: alignment lookup failed")
			continue
		}
		if align == nil {
			continue
		}
		keys = append(keys, align.CanonicalEventKey)
	}
	return keys
}

func (o *Orchestrator) appendQuoteMoves(ctx context.Context, eventIDs []string, degraded *bool) {
	if o.quoteBuilder == nil {
		return
	}
	lookback := time.Duration(o.cfg.Consensus.LookbackMinutes) * time.Minute
	for _, eventID := range eventIDs {
		for _, market := range o.cfg.Consensus.Markets {
			if _, err := o.quoteBuilder.Append(ctx, eventID, domain.Market(market), lookback); err != nil {
				log.Error().Err(err).Str("event_id", eventID).Str("market", market).Msg("orchestrator: quote move append failed")
				*degraded = true
			}
		}
	}
}

// runClosing closes any touched game whose commence time has already
// passed, the way internal/closing.Service is meant to be driven as soon
// as a game goes live, rather than waiting for the backfill job's 4-hour
// buffer to pick it up.
func (o *Orchestrator) runClosing(ctx context.Context, eventIDs []string, degraded *bool) {
	if o.closingSvc == nil || o.games == nil {
		return
	}
	now := time.Now().UTC()
	for _, eventID := range eventIDs {
		game, err := o.games.Get(ctx, eventID)
		if err != nil || game == nil || game.CommenceTime.After(now) {
			continue
		}
		if _, err := o.closingSvc.CloseGame(ctx, eventID); err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("orchestrator: closing failed")
			*degraded = true
		}
	}
}

func (o *Orchestrator) runStructural(ctx context.Context, eventIDs []string, degraded *bool) {
	if o.gateEvaluator == nil {
		return
	}
	for _, eventID := range eventIDs {
		outcomes := o.outcomeNamesForEvent(ctx, eventID)
		if len(outcomes) == 0 {
			continue
		}
		if _, err := o.gateEvaluator.DetectAndPersist(ctx, eventID, outcomes); err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("orchestrator: structural gate evaluation failed")
			*degraded = true
		}
	}
}

func (o *Orchestrator) outcomeNamesForEvent(ctx context.Context, eventID string) []string {
	if o.games == nil {
		return nil
	}
	game, err := o.games.Get(ctx, eventID)
	if err != nil || game == nil {
		return nil
	}
	return []string{game.HomeTeam, game.AwayTeam}
}

func (o *Orchestrator) runCrossMarket(ctx context.Context, canonicalKeys []string, degraded *bool) {
	for _, key := range canonicalKeys {
		if o.divergenceSvc != nil {
			if _, err := o.divergenceSvc.ComputeDivergence(ctx, key); err != nil {
				log.Error().Err(err).Str("canonical_event_key", key).Msg("orchestrator: divergence compute failed")
				*degraded = true
			}
		}
		if o.leadLagSvc != nil {
			if _, err := o.leadLagSvc.ComputeLeadLag(ctx, key); err != nil {
				log.Error().Err(err).Str("canonical_event_key", key).Msg("orchestrator: lead-lag compute failed")
				*degraded = true
			}
		}
	}
}

// runClvCycle runs the backfill and CLV jobs on their own JobIntervalMinutes
// cadence rather than every poll cycle — both scan the full signal/game
// history each run, so running them every 60s would be wasted DB load for
// no fresher data (SPEC_FULL.md §4.7/§4.8 only require these to settle
// within a few minutes of a game closing).
func (o *Orchestrator) runClvCycle(ctx context.Context, kpi *domain.CycleKpi, degraded *bool) {
	if !o.cfg.CLV.Enabled || o.clvSvc == nil {
		return
	}
	interval := time.Duration(o.cfg.CLV.JobIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if !o.lastClvRun.IsZero() && time.Since(o.lastClvRun) < interval {
		return
	}
	o.lastClvRun = time.Now().UTC()

	if o.backfillSvc != nil {
		metrics := o.backfillSvc.BackfillMissingCloses(ctx, o.cfg.CLV.BackfillLookbackHours, o.cfg.CLV.BackfillMaxGames)
		if metrics.Errors > 0 {
			*degraded = true
		}
	}

	_, records, err := o.clvSvc.ComputeCLV(ctx, o.cfg.CLV.LookbackDays, o.cfg.CLV.MinutesAfterCommence)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: clv compute failed")
		*degraded = true
		return
	}
	if o.dispatcher != nil && len(records) > 0 {
		sent, err := o.dispatcher.DispatchCLV(ctx, records)
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: clv dispatch failed")
			*degraded = true
		}
		kpi.AlertsSent += sent
	}
}

// publishLive fans freshly created signals out to internal/wsfeed's
// subscribers over Redis pub/sub, best-effort: a publish failure is logged
// and does not affect cycle outcome (SPEC_FULL.md §4.11).
func (o *Orchestrator) publishLive(ctx context.Context, sigs []domain.Signal) {
	if o.store == nil {
		return
	}
	for _, sig := range sigs {
		payload, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		if err := o.store.Publish(ctx, liveSignalChannel, payload); err != nil {
			log.Warn().Err(err).Str("signal_id", sig.ID).Msg("orchestrator: live feed publish failed")
		}
	}
}

// nextInterval picks the next cycle's delay: the low-credit interval takes
// priority over the idle interval (a provider running low on quota should
// slow down even during a busy slate), falling back to the base poll
// interval otherwise.
func (o *Orchestrator) nextInterval(ctx context.Context, oddsResult oddsapi.CycleResult) time.Duration {
	cfg := o.cfg.Ingestion
	base := time.Duration(cfg.PollIntervalSeconds) * time.Second

	if cfg.LowCreditThreshold > 0 && oddsResult.Counters.Remaining > 0 && oddsResult.Counters.Remaining < cfg.LowCreditThreshold {
		return time.Duration(cfg.LowCreditIntervalSeconds) * time.Second
	}

	if o.games != nil {
		upcoming, err := o.games.ListUpcoming(ctx, 24*time.Hour)
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: upcoming games lookup failed, using base interval")
			return base
		}
		if len(upcoming) == 0 {
			return time.Duration(cfg.IdleIntervalSeconds) * time.Second
		}
	}
	return base
}
