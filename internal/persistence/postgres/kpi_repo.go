package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

// CycleKpiRepo implements persistence.CycleKpiRepository.
type CycleKpiRepo struct {
	db *sqlx.DB
}

// NewCycleKpiRepo wraps db.
func NewCycleKpiRepo(db *sqlx.DB) *CycleKpiRepo { return &CycleKpiRepo{db: db} }

type cycleKpiRow struct {
	domain.CycleKpi
	SignalsCreatedByTypeJSON []byte `db:"signals_created_by_type"`
}

// Insert writes one per-cycle audit row.
func (r *CycleKpiRepo) Insert(ctx context.Context, k domain.CycleKpi) error {
	byType, err := json.Marshal(k.SignalsCreatedByType)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "cycle_kpis.insert.marshal")
	}
	const q = `
		INSERT INTO cycle_kpis
			(cycle_id, started_at, completed_at, duration_ms, requests_used_delta, events_processed,
			 snapshots_inserted, consensus_points_written, signals_created_total, signals_created_by_type,
			 alerts_sent, alerts_failed, degraded, notes)
		VALUES
			(:cycle_id, :started_at, :completed_at, :duration_ms, :requests_used_delta, :events_processed,
			 :snapshots_inserted, :consensus_points_written, :signals_created_total, :signals_created_by_type,
			 :alerts_sent, :alerts_failed, :degraded, :notes)`
	row := cycleKpiRow{CycleKpi: k, SignalsCreatedByTypeJSON: byType}
	_, execErr := r.db.NamedExecContext(ctx, q, map[string]any{
		"cycle_id":                 row.CycleID,
		"started_at":               row.StartedAt,
		"completed_at":             row.CompletedAt,
		"duration_ms":              row.DurationMS,
		"requests_used_delta":      row.RequestsUsedDelta,
		"events_processed":         row.EventsProcessed,
		"snapshots_inserted":       row.SnapshotsInserted,
		"consensus_points_written": row.ConsensusPointsWritten,
		"signals_created_total":    row.SignalsCreatedTotal,
		"signals_created_by_type":  row.SignalsCreatedByTypeJSON,
		"alerts_sent":              row.AlertsSent,
		"alerts_failed":            row.AlertsFailed,
		"degraded":                 row.Degraded,
		"notes":                    row.Notes,
	})
	return wrapWriteErr("cycle_kpis.insert", execErr)
}

// DeleteOlderThan removes KPI rows started before cutoff.
func (r *CycleKpiRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cycle_kpis WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamTransient, err, "cycle_kpis.delete_older_than")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecentSummary aggregates cycle KPIs since the given time, grounded on
// original_source performance_intel.py's rollup queries.
func (r *CycleKpiRepo) RecentSummary(ctx context.Context, since time.Time) (persistence.CycleKpiSummary, error) {
	var summary persistence.CycleKpiSummary
	err := r.db.GetContext(ctx, &summary, `
		SELECT
			count(*) AS cycle_count,
			coalesce(avg(duration_ms), 0) AS avg_duration_ms,
			coalesce(sum(signals_created_total), 0) AS total_signals,
			coalesce(sum(alerts_sent), 0) AS total_alerts_sent,
			coalesce(sum(alerts_failed), 0) AS total_alerts_failed,
			coalesce(sum(CASE WHEN degraded THEN 1 ELSE 0 END), 0) AS degraded_cycle_count
		FROM cycle_kpis WHERE started_at >= $1`, since)
	if err != nil {
		return persistence.CycleKpiSummary{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "cycle_kpis.recent_summary")
	}
	return summary, nil
}
