package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotRepo struct {
	byEventMarket map[string][]domain.OddsSnapshot
}

func (f *fakeSnapshotRepo) InsertBatch(ctx context.Context, snapshots []domain.OddsSnapshot) (int, error) {
	return len(snapshots), nil
}

func (f *fakeSnapshotRepo) LatestPerBook(ctx context.Context, eventID string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	return f.byEventMarket[eventID+":"+string(market)], nil
}

func (f *fakeSnapshotRepo) InWindow(ctx context.Context, eventIDs []string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	var out []domain.OddsSnapshot
	for _, id := range eventIDs {
		out = append(out, f.byEventMarket[id+":"+string(market)]...)
	}
	return out, nil
}

func (f *fakeSnapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeConsensusRepo struct {
	upserted []domain.MarketConsensusSnapshot
}

func (f *fakeConsensusRepo) Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error {
	f.upserted = append(f.upserted, snap)
	return nil
}
func (f *fakeConsensusRepo) UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error {
	f.upserted = append(f.upserted, snaps...)
	return nil
}
func (f *fakeConsensusRepo) Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	return nil, nil
}
func (f *fakeConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func line(v float64) *float64 { return &v }

func TestEngineComputeSpreadsMedianAndDispersion(t *testing.T) {
	snapRepo := &fakeSnapshotRepo{byEventMarket: map[string][]domain.OddsSnapshot{
		"evt-1:spreads": {
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "dk", Line: line(-3.0), Price: -110},
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "fd", Line: line(-3.5), Price: -108},
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "mgm", Line: line(-3.0), Price: -112},
		},
	}}
	consRepo := &fakeConsensusRepo{}
	eng := NewEngine(Config{
		LookbackMinutes: 10,
		MinBooks:        3,
		MinMarkets:      1,
		Markets:         []domain.Market{domain.MarketSpreads},
	}, snapRepo, consRepo)

	result, err := eng.Compute(context.Background(), []string{"evt-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, consRepo.upserted, 1)
	assert.Equal(t, -3.0, *consRepo.upserted[0].ConsensusLine)
	assert.Equal(t, 3, consRepo.upserted[0].BooksCount)
}

func TestEngineComputeSkipsInsufficientBooks(t *testing.T) {
	snapRepo := &fakeSnapshotRepo{byEventMarket: map[string][]domain.OddsSnapshot{
		"evt-1:spreads": {
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "dk", Line: line(-3.0), Price: -110},
		},
	}}
	consRepo := &fakeConsensusRepo{}
	eng := NewEngine(Config{
		LookbackMinutes: 10,
		MinBooks:        5,
		MinMarkets:      1,
		Markets:         []domain.Market{domain.MarketSpreads},
	}, snapRepo, consRepo)

	result, err := eng.Compute(context.Background(), []string{"evt-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Written)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, consRepo.upserted)
}

func TestEngineComputeH2HUsesImpliedProbabilityDispersion(t *testing.T) {
	snapRepo := &fakeSnapshotRepo{byEventMarket: map[string][]domain.OddsSnapshot{
		"evt-1:h2h": {
			{EventID: "evt-1", Market: domain.MarketH2H, OutcomeName: "HOME", SportsbookKey: "dk", Price: -150},
			{EventID: "evt-1", Market: domain.MarketH2H, OutcomeName: "HOME", SportsbookKey: "fd", Price: -140},
			{EventID: "evt-1", Market: domain.MarketH2H, OutcomeName: "HOME", SportsbookKey: "mgm", Price: -160},
		},
	}}
	consRepo := &fakeConsensusRepo{}
	eng := NewEngine(Config{
		LookbackMinutes: 10,
		MinBooks:        3,
		MinMarkets:      1,
		Markets:         []domain.Market{domain.MarketH2H},
	}, snapRepo, consRepo)

	_, err := eng.Compute(context.Background(), []string{"evt-1"})
	require.NoError(t, err)
	require.Len(t, consRepo.upserted, 1)
	assert.Nil(t, consRepo.upserted[0].ConsensusLine)
	assert.NotNil(t, consRepo.upserted[0].Dispersion)
}
