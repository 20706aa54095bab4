package retention

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOddsRepo struct {
	rows []domain.OddsSnapshot
}

func (f *fakeOddsRepo) InsertBatch(ctx context.Context, snapshots []domain.OddsSnapshot) (int, error) {
	return len(snapshots), nil
}
func (f *fakeOddsRepo) LatestPerBook(ctx context.Context, eventID string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	return nil, nil
}
func (f *fakeOddsRepo) InWindow(ctx context.Context, eventIDs []string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	return nil, nil
}
func (f *fakeOddsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := f.rows[:0]
	var deleted int64
	for _, r := range f.rows {
		if r.FetchedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return deleted, nil
}

type fakeConsensusRepo struct {
	deleteCalls []time.Time
}

func (f *fakeConsensusRepo) Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	return nil, nil
}
func (f *fakeConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls = append(f.deleteCalls, cutoff)
	return 3, nil
}

type fakeSignalRepo struct {
	deleteCalls []time.Time
}

func (f *fakeSignalRepo) Insert(ctx context.Context, s domain.Signal) error { return nil }
func (f *fakeSignalRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	return nil, nil
}
func (f *fakeSignalRepo) ListSince(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength int) ([]domain.Signal, error) {
	return nil, nil
}
func (f *fakeSignalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls = append(f.deleteCalls, cutoff)
	return 5, nil
}

type fakeClosingRepo struct {
	deleteCalls []time.Time
}

func (f *fakeClosingRepo) Upsert(ctx context.Context, cc domain.ClosingConsensus) error { return nil }
func (f *fakeClosingRepo) Get(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.ClosingConsensus, error) {
	return nil, nil
}
func (f *fakeClosingRepo) MarketsForEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeClosingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls = append(f.deleteCalls, cutoff)
	return 2, nil
}

type fakeClvRepo struct {
	records     []domain.ClvRecord
	deleteCalls []time.Time
}

func (f *fakeClvRepo) Upsert(ctx context.Context, c domain.ClvRecord) error { return nil }
func (f *fakeClvRepo) ListForSignal(ctx context.Context, signalID string) (*domain.ClvRecord, error) {
	return nil, nil
}
func (f *fakeClvRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls = append(f.deleteCalls, cutoff)
	return 1, nil
}
func (f *fakeClvRepo) RecentRecords(ctx context.Context, since time.Time) ([]domain.ClvRecord, error) {
	var out []domain.ClvRecord
	for _, r := range f.records {
		if !r.ComputedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeKpiRepo struct {
	deleteCalls []time.Time
	summary     persistence.CycleKpiSummary
}

func (f *fakeKpiRepo) Insert(ctx context.Context, k domain.CycleKpi) error { return nil }
func (f *fakeKpiRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls = append(f.deleteCalls, cutoff)
	return 7, nil
}
func (f *fakeKpiRepo) RecentSummary(ctx context.Context, since time.Time) (persistence.CycleKpiSummary, error) {
	return f.summary, nil
}

func testConfig() config.Config {
	return config.Config{
		Retention: config.RetentionConfig{
			SnapshotRetentionHours:        48,
			SignalRetentionDays:           30,
			ConsensusRetentionDays:        14,
			ClosingConsensusRetentionDays: 90,
			KPIRetentionDays:              30,
			SweepIntervalMinutes:          60,
		},
		CLV: config.CLVConfig{RetentionDays: 90},
	}
}

func TestRunOnceSweepsEveryTable(t *testing.T) {
	now := time.Now().UTC()
	odds := &fakeOddsRepo{rows: []domain.OddsSnapshot{
		{EventID: "evt-1", FetchedAt: now.Add(-72 * time.Hour)},
		{EventID: "evt-1", FetchedAt: now},
	}}
	consensusRepo := &fakeConsensusRepo{}
	signalRepo := &fakeSignalRepo{}
	closingRepo := &fakeClosingRepo{}
	clvRepo := &fakeClvRepo{}
	kpiRepo := &fakeKpiRepo{}

	sweeper := NewSweeper(testConfig(), odds, consensusRepo, signalRepo, closingRepo, clvRepo, kpiRepo)
	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.SnapshotsDeleted)
	assert.Equal(t, int64(5), report.SignalsDeleted)
	assert.Equal(t, int64(3), report.ConsensusDeleted)
	assert.Equal(t, int64(2), report.ClosingConsensusDeleted)
	assert.Equal(t, int64(1), report.ClvRecordsDeleted)
	assert.Equal(t, int64(7), report.KpiRowsDeleted)

	require.Len(t, signalRepo.deleteCalls, 1)
	require.Len(t, consensusRepo.deleteCalls, 1)
	require.Len(t, closingRepo.deleteCalls, 1)
	require.Len(t, clvRepo.deleteCalls, 1)
	require.Len(t, kpiRepo.deleteCalls, 1)
}

func TestRunOnceContinuesPastIndividualFailures(t *testing.T) {
	odds := &fakeOddsRepo{}
	consensusRepo := &fakeConsensusRepo{}
	signalRepo := &fakeSignalRepo{}
	closingRepo := &fakeClosingRepo{}
	clvRepo := &fakeClvRepo{}
	kpiRepo := &fakeKpiRepo{}

	sweeper := NewSweeper(testConfig(), odds, consensusRepo, signalRepo, closingRepo, clvRepo, kpiRepo)
	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.SnapshotsDeleted)
}

func TestAggregateWindowGroupsBySignalTypeAndMarket(t *testing.T) {
	now := time.Now().UTC()
	line1, line2 := 1.5, -0.5
	prob1 := 0.02
	clvRepo := &fakeClvRepo{records: []domain.ClvRecord{
		{SignalID: "s1", SignalType: domain.SignalTypeMove, Market: domain.MarketSpreads, ClvLine: &line1, ComputedAt: now},
		{SignalID: "s2", SignalType: domain.SignalTypeMove, Market: domain.MarketSpreads, ClvLine: &line2, ComputedAt: now},
		{SignalID: "s3", SignalType: domain.SignalTypeSteam, Market: domain.MarketH2H, ClvProb: &prob1, ComputedAt: now},
	}}
	kpiRepo := &fakeKpiRepo{summary: persistence.CycleKpiSummary{CycleCount: 10}}

	sweeper := NewSweeper(testConfig(), &fakeOddsRepo{}, &fakeConsensusRepo{}, &fakeSignalRepo{}, &fakeClosingRepo{}, clvRepo, kpiRepo)
	summary, err := sweeper.AggregateWindow(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Cycles.CycleCount)
	require.Len(t, summary.ClvByGroup, 2)

	var spreadsGroup, h2hGroup *ClvGroupPerformance
	for i := range summary.ClvByGroup {
		g := &summary.ClvByGroup[i]
		if g.Market == domain.MarketSpreads {
			spreadsGroup = g
		} else if g.Market == domain.MarketH2H {
			h2hGroup = g
		}
	}
	require.NotNil(t, spreadsGroup)
	require.NotNil(t, h2hGroup)
	assert.Equal(t, 2, spreadsGroup.Count)
	assert.Equal(t, 1, h2hGroup.Count)
	assert.Equal(t, 50.0, spreadsGroup.PctPositiveClv)
	assert.Equal(t, 100.0, h2hGroup.PctPositiveClv)
}

func TestAggregateWindowReturnsEmptyGroupsWhenNoRecords(t *testing.T) {
	clvRepo := &fakeClvRepo{}
	kpiRepo := &fakeKpiRepo{}
	sweeper := NewSweeper(testConfig(), &fakeOddsRepo{}, &fakeConsensusRepo{}, &fakeSignalRepo{}, &fakeClosingRepo{}, clvRepo, kpiRepo)
	summary, err := sweeper.AggregateWindow(context.Background(), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, summary.ClvByGroup)
}
