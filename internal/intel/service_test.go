package intel

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/sawpanic/stratum/internal/retention"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsensusRepo struct {
	snap *domain.MarketConsensusSnapshot
}

func (f *fakeConsensusRepo) Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	return f.snap, nil
}
func (f *fakeConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSignalRepo struct {
	signals []domain.Signal
}

func (f *fakeSignalRepo) Insert(ctx context.Context, s domain.Signal) error { return nil }
func (f *fakeSignalRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	for _, s := range f.signals {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}
func (f *fakeSignalRepo) ListSince(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength int) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, s := range f.signals {
		if s.CreatedAt.Before(since) {
			continue
		}
		if signalType != nil && s.SignalType != *signalType {
			continue
		}
		if s.StrengthScore < minStrength {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeSignalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeClosingRepo struct{}

func (f *fakeClosingRepo) Upsert(ctx context.Context, cc domain.ClosingConsensus) error { return nil }
func (f *fakeClosingRepo) Get(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.ClosingConsensus, error) {
	return nil, nil
}
func (f *fakeClosingRepo) MarketsForEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeClosingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeClvRepo struct {
	byID map[string]domain.ClvRecord
}

func (f *fakeClvRepo) Upsert(ctx context.Context, c domain.ClvRecord) error { return nil }
func (f *fakeClvRepo) ListForSignal(ctx context.Context, signalID string) (*domain.ClvRecord, error) {
	if c, ok := f.byID[signalID]; ok {
		return &c, nil
	}
	return nil, nil
}
func (f *fakeClvRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeClvRepo) RecentRecords(ctx context.Context, since time.Time) ([]domain.ClvRecord, error) {
	var out []domain.ClvRecord
	for _, c := range f.byID {
		if !c.ComputedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeKpiRepo struct{}

func (f *fakeKpiRepo) Insert(ctx context.Context, k domain.CycleKpi) error { return nil }
func (f *fakeKpiRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeKpiRepo) RecentSummary(ctx context.Context, since time.Time) (persistence.CycleKpiSummary, error) {
	return persistence.CycleKpiSummary{CycleCount: 5}, nil
}

func newTestService(sigs []domain.Signal, clv map[string]domain.ClvRecord) *Service {
	signalRepo := &fakeSignalRepo{signals: sigs}
	clvRepo := &fakeClvRepo{byID: clv}
	sweeper := retention.NewSweeper(
		config.Config{},
		nil, &fakeConsensusRepo{}, signalRepo, &fakeClosingRepo{}, clvRepo, &fakeKpiRepo{},
	)
	return NewService(&fakeConsensusRepo{}, signalRepo, &fakeClosingRepo{}, clvRepo, sweeper)
}

func TestSignalWeeklySummaryGroupsBySignalType(t *testing.T) {
	now := time.Now().UTC()
	sigs := []domain.Signal{
		{ID: "s1", SignalType: domain.SignalTypeMove, StrengthScore: 60, CreatedAt: now.Add(-time.Hour)},
		{ID: "s2", SignalType: domain.SignalTypeMove, StrengthScore: 80, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "s3", SignalType: domain.SignalTypeSteam, StrengthScore: 40, CreatedAt: now.Add(-3 * time.Hour)},
	}
	svc := newTestService(sigs, nil)

	rows, err := svc.SignalWeeklySummary(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, r := range rows {
		if r.SignalType == domain.SignalTypeMove {
			assert.Equal(t, 2, r.Count)
			assert.Equal(t, 70.0, r.AvgStrength)
		}
	}
}

func TestOpportunitiesSortsByStrengthDescending(t *testing.T) {
	now := time.Now().UTC()
	sigs := []domain.Signal{
		{ID: "s1", StrengthScore: 30, CreatedAt: now},
		{ID: "s2", StrengthScore: 90, CreatedAt: now},
		{ID: "s3", StrengthScore: 60, CreatedAt: now},
	}
	svc := newTestService(sigs, nil)

	ops, err := svc.Opportunities(context.Background(), now.Add(-time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "s2", ops[0].Signal.ID)
	assert.Equal(t, 1, ops[0].Rank)
	assert.Equal(t, "s3", ops[1].Signal.ID)
}

func TestPublicTeaserOpportunitiesExcludesRecentAndRedactsIDs(t *testing.T) {
	now := time.Now().UTC()
	sigs := []domain.Signal{
		{ID: "s1", Market: domain.MarketSpreads, SignalType: domain.SignalTypeSteam, StrengthScore: 85, CreatedAt: now.Add(-20 * time.Minute)},
		{ID: "s2", Market: domain.MarketTotals, SignalType: domain.SignalTypeMove, StrengthScore: 85, CreatedAt: now.Add(-2 * time.Minute)},
	}
	svc := newTestService(sigs, nil)

	out, err := svc.PublicTeaserOpportunities(context.Background(), 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.MarketSpreads, out[0].Market)
	assert.Equal(t, "very_strong", out[0].StrengthBand)
}

func TestSignalLifecycleReturnsNotFoundForMissingSignal(t *testing.T) {
	svc := newTestService(nil, nil)
	_, err := svc.SignalLifecycle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignalLifecycleIncludesClvFinalizedStage(t *testing.T) {
	now := time.Now().UTC()
	sig := domain.Signal{ID: "s1", CreatedAt: now.Add(-time.Hour)}
	clv := domain.ClvRecord{SignalID: "s1", ComputedAt: now}
	svc := newTestService([]domain.Signal{sig}, map[string]domain.ClvRecord{"s1": clv})

	stages, err := svc.SignalLifecycle(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "detected", stages[0].Stage)
	assert.Equal(t, "clv_finalized", stages[1].Stage)
}

func TestStrengthBandBoundaries(t *testing.T) {
	assert.Equal(t, "very_strong", strengthBand(80))
	assert.Equal(t, "strong", strengthBand(60))
	assert.Equal(t, "moderate", strengthBand(40))
	assert.Equal(t, "weak", strengthBand(10))
}
