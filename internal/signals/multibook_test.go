package signals

import (
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMultibookSyncRequiresThreeBooksSameDirection(t *testing.T) {
	t0 := time.Now().UTC()
	mk := func(book string, from, to float64) []domain.OddsSnapshot {
		return []domain.OddsSnapshot{
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: book, Line: ln(from), Price: -110, FetchedAt: t0},
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: book, Line: ln(to), Price: -110, FetchedAt: t0.Add(3 * time.Minute)},
		}
	}
	var snaps []domain.OddsSnapshot
	snaps = append(snaps, mk("dk", -3.0, -3.5)...)
	snaps = append(snaps, mk("fd", -3.0, -3.5)...)
	snaps = append(snaps, mk("mgm", -3.0, -3.5)...)

	candidates := detectMultibookSync(snaps, 5)
	require.Len(t, candidates, 1)
	assert.Equal(t, domain.SignalDirectionDown, candidates[0].direction)
	assert.Len(t, candidates[0].books, 3)
}

func TestDetectMultibookSyncBelowThreeBooksNoTrigger(t *testing.T) {
	t0 := time.Now().UTC()
	snaps := []domain.OddsSnapshot{
		{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "dk", Line: ln(-3.0), Price: -110, FetchedAt: t0},
		{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "dk", Line: ln(-3.5), Price: -110, FetchedAt: t0.Add(3 * time.Minute)},
		{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "fd", Line: ln(-3.0), Price: -110, FetchedAt: t0},
		{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: "fd", Line: ln(-3.5), Price: -110, FetchedAt: t0.Add(3 * time.Minute)},
	}
	assert.Empty(t, detectMultibookSync(snaps, 5))
}

func TestDetectMultibookSyncMixedDirectionsNotAggregated(t *testing.T) {
	t0 := time.Now().UTC()
	mk := func(book string, from, to float64) []domain.OddsSnapshot {
		return []domain.OddsSnapshot{
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: book, Line: ln(from), Price: -110, FetchedAt: t0},
			{EventID: "evt-1", Market: domain.MarketSpreads, OutcomeName: "HOME", SportsbookKey: book, Line: ln(to), Price: -110, FetchedAt: t0.Add(3 * time.Minute)},
		}
	}
	var snaps []domain.OddsSnapshot
	snaps = append(snaps, mk("dk", -3.0, -3.5)...)
	snaps = append(snaps, mk("fd", -3.0, -3.5)...)
	snaps = append(snaps, mk("mgm", -3.0, -2.5)...)

	assert.Empty(t, detectMultibookSync(snaps, 5))
}
