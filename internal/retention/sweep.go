// Package retention runs the TTL sweeps SPEC_FULL.md §4.10 names
// (OddsSnapshot, Signal, MarketConsensusSnapshot, ClvRecord, ClosingConsensus,
// CycleKpi) on their own cadence, separate from the per-tick orchestrator
// loop, plus the rolling KPI/CLV performance dashboard. Grounded on
// internal/scheduler/scheduler.go's Start(ctx) ticker loop, adapted the same
// way internal/orchestrator adapts it: one job per tick instead of cron-style
// per-job schedules, since every sweep shares a single configured cadence
// (RETENTION_SWEEP_INTERVAL_MINUTES).
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/consensus"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/sawpanic/stratum/internal/signals"
)

// Sweeper owns the retention config and every repository a sweep touches.
// It takes the full config.Config rather than just RetentionConfig because
// CLV record retention (CLV_RETENTION_DAYS) lives under the CLV section, not
// Retention — the two were specified in separate config blocks upstream.
type Sweeper struct {
	cfg config.Config

	snapshots     persistence.OddsSnapshotRepository
	consensusRepo persistence.ConsensusRepository
	signalRepo    persistence.SignalRepository
	closingRepo   persistence.ClosingConsensusRepository
	clvRepo       persistence.ClvRepository
	kpiRepo       persistence.CycleKpiRepository
}

// NewSweeper wires a Sweeper to its dependencies.
func NewSweeper(cfg config.Config, snapshots persistence.OddsSnapshotRepository, consensusRepo persistence.ConsensusRepository, signalRepo persistence.SignalRepository, closingRepo persistence.ClosingConsensusRepository, clvRepo persistence.ClvRepository, kpiRepo persistence.CycleKpiRepository) *Sweeper {
	return &Sweeper{
		cfg:           cfg,
		snapshots:     snapshots,
		consensusRepo: consensusRepo,
		signalRepo:    signalRepo,
		closingRepo:   closingRepo,
		clvRepo:       clvRepo,
		kpiRepo:       kpiRepo,
	}
}

// Report tallies rows deleted per table for one sweep pass.
type Report struct {
	SnapshotsDeleted        int64
	SignalsDeleted          int64
	ConsensusDeleted        int64
	ClosingConsensusDeleted int64
	ClvRecordsDeleted       int64
	KpiRowsDeleted          int64
}

// Run blocks, sweeping every SweepIntervalMinutes until ctx is cancelled.
// A sweep runs immediately on start the same way internal/orchestrator's
// cycle loop fires its first tick immediately rather than waiting a full
// interval.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Retention.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			report, err := s.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("retention: sweep failed")
			} else {
				log.Info().
					Int64("snapshots_deleted", report.SnapshotsDeleted).
					Int64("signals_deleted", report.SignalsDeleted).
					Int64("consensus_deleted", report.ConsensusDeleted).
					Int64("closing_consensus_deleted", report.ClosingConsensusDeleted).
					Int64("clv_records_deleted", report.ClvRecordsDeleted).
					Int64("kpi_rows_deleted", report.KpiRowsDeleted).
					Msg("retention: sweep completed")
			}
			timer.Reset(interval)
		}
	}
}

// RunOnce performs one pass of every TTL sweep, continuing past individual
// failures so a single stuck table doesn't block the rest of the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	now := time.Now().UTC()
	ret := s.cfg.Retention
	var report Report

	if n, err := s.snapshots.DeleteOlderThan(ctx, now.Add(-time.Duration(ret.SnapshotRetentionHours)*time.Hour)); err != nil {
		log.Error().Err(err).Msg("retention: odds_snapshots sweep failed")
	} else {
		report.SnapshotsDeleted = n
	}

	if n, err := signals.PurgeOlderThan(ctx, s.signalRepo, ret.SignalRetentionDays); err != nil {
		log.Error().Err(err).Msg("retention: signals sweep failed")
	} else {
		report.SignalsDeleted = n
	}

	if n, err := consensus.PurgeOlderThan(ctx, s.consensusRepo, ret.ConsensusRetentionDays); err != nil {
		log.Error().Err(err).Msg("retention: market_consensus_snapshots sweep failed")
	} else {
		report.ConsensusDeleted = n
	}

	if n, err := s.closingRepo.DeleteOlderThan(ctx, now.AddDate(0, 0, -ret.ClosingConsensusRetentionDays)); err != nil {
		log.Error().Err(err).Msg("retention: closing_consensus sweep failed")
	} else {
		report.ClosingConsensusDeleted = n
	}

	if n, err := s.clvRepo.DeleteOlderThan(ctx, now.AddDate(0, 0, -s.cfg.CLV.RetentionDays)); err != nil {
		log.Error().Err(err).Msg("retention: clv_records sweep failed")
	} else {
		report.ClvRecordsDeleted = n
	}

	if n, err := s.kpiRepo.DeleteOlderThan(ctx, now.AddDate(0, 0, -ret.KPIRetentionDays)); err != nil {
		log.Error().Err(err).Msg("retention: cycle_kpis sweep failed")
	} else {
		report.KpiRowsDeleted = n
	}

	return report, nil
}
