package closing

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(v float64) *float64 { return &v }

func snapshot(eventID string, market domain.Market, outcome string, sportsbook string, l *float64, price int, ts time.Time) domain.OddsSnapshot {
	return domain.OddsSnapshot{
		EventID:       eventID,
		SportsbookKey: sportsbook,
		Market:        market,
		OutcomeName:   outcome,
		Line:          l,
		Price:         price,
		FetchedAt:     ts,
	}
}

func TestComputeClosePointsSelectsLatestAtOrBeforeTipoff(t *testing.T) {
	tipoff := time.Now().UTC()
	rows := []domain.OddsSnapshot{
		snapshot("evt-1", domain.MarketSpreads, "Lakers", "draftkings", line(-3.5), -110, tipoff.Add(-30*time.Minute)),
		snapshot("evt-1", domain.MarketSpreads, "Lakers", "fanduel", line(-3.5), -108, tipoff.Add(-30*time.Minute)),
		snapshot("evt-1", domain.MarketSpreads, "Lakers", "draftkings", line(-4.0), -105, tipoff.Add(10*time.Minute)),
	}
	points := computeClosePoints(rows, tipoff, CanonicalMarkets)
	require.Len(t, points, 1)
	assert.False(t, points[0].inferred)
	assert.InDelta(t, -3.5, *points[0].closeLine, 1e-9)
	assert.True(t, points[0].closeFetchedAt.Equal(tipoff.Add(-30*time.Minute)))
}

func TestComputeClosePointsInfersFromPostTipoffWhenNoEarlierRows(t *testing.T) {
	tipoff := time.Now().UTC()
	rows := []domain.OddsSnapshot{
		snapshot("evt-1", domain.MarketTotals, "Over", "draftkings", line(220.5), -110, tipoff.Add(5*time.Minute)),
	}
	points := computeClosePoints(rows, tipoff, CanonicalMarkets)
	require.Len(t, points, 1)
	assert.True(t, points[0].inferred)
}

func TestComputeClosePointsH2HHasNoLine(t *testing.T) {
	tipoff := time.Now().UTC()
	rows := []domain.OddsSnapshot{
		snapshot("evt-1", domain.MarketH2H, "Lakers", "draftkings", nil, -150, tipoff.Add(-5*time.Minute)),
	}
	points := computeClosePoints(rows, tipoff, CanonicalMarkets)
	require.Len(t, points, 1)
	assert.Nil(t, points[0].closeLine)
	require.NotNil(t, points[0].closePrice)
	assert.InDelta(t, -150, *points[0].closePrice, 1e-9)
}

func TestCloseGameUpsertsPerOutcome(t *testing.T) {
	tipoff := time.Now().UTC().Add(-2 * time.Hour)
	games := &fakeGameRepo{byID: map[string]domain.Game{
		"evt-1": {EventID: "evt-1", SportKey: "basketball_nba", CommenceTime: tipoff, HomeTeam: "Lakers", AwayTeam: "Celtics"},
	}}
	snapshots := &fakeOddsSnapshotRepo{rows: []domain.OddsSnapshot{
		snapshot("evt-1", domain.MarketSpreads, "Lakers", "draftkings", line(-3.5), -110, tipoff.Add(-20*time.Minute)),
	}}
	closingRepo := &fakeClosingConsensusRepo{}

	svc := NewService(games, snapshots, closingRepo)
	n, err := svc.CloseGame(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cc, err := closingRepo.Get(context.Background(), "evt-1", domain.MarketSpreads, "Lakers")
	require.NoError(t, err)
	require.NotNil(t, cc)
	assert.InDelta(t, -3.5, *cc.CloseLine, 1e-9)
}

func TestCloseGameUnknownGameReturnsZero(t *testing.T) {
	svc := NewService(&fakeGameRepo{}, &fakeOddsSnapshotRepo{}, &fakeClosingConsensusRepo{})
	n, err := svc.CloseGame(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
