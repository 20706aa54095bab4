package oddsapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFlattensBookmakersToSnapshots(t *testing.T) {
	line := -3.5
	ev := EventOdds{
		ID:           "evt-1",
		SportKey:     "basketball_nba",
		CommenceTime: time.Now().Add(2 * time.Hour),
		HomeTeam:     "Lakers",
		AwayTeam:     "Celtics",
		Bookmakers: []Bookmaker{
			{
				Key: "draftkings",
				Markets: []BookMarket{
					{
						Key: "spreads",
						Outcomes: []Outcome{
							{Name: "Lakers", Price: -110, Point: &line},
							{Name: "Celtics", Price: -110, Point: floatPtr(3.5)},
						},
					},
				},
			},
		},
	}

	game, snapshots := Normalize(ev, nil, time.Now())
	require.Equal(t, "evt-1", game.EventID)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "draftkings", snapshots[0].SportsbookKey)
	assert.Equal(t, -110, snapshots[0].Price)
}

func TestNormalizeFiltersDisallowedBookmakers(t *testing.T) {
	ev := EventOdds{
		ID: "evt-2",
		Bookmakers: []Bookmaker{
			{Key: "offshore_book", Markets: []BookMarket{{Key: "h2h", Outcomes: []Outcome{{Name: "A", Price: 100}}}}},
		},
	}
	_, snapshots := Normalize(ev, map[string]bool{"draftkings": true}, time.Now())
	assert.Empty(t, snapshots)
}

func TestNormalizeSkipsOutcomeWithoutName(t *testing.T) {
	ev := EventOdds{
		ID: "evt-3",
		Bookmakers: []Bookmaker{
			{Key: "fanduel", Markets: []BookMarket{{Key: "h2h", Outcomes: []Outcome{{Name: "", Price: 100}, {Name: "B", Price: -120}}}}},
		},
	}
	_, snapshots := Normalize(ev, nil, time.Now())
	require.Len(t, snapshots, 1)
	assert.Equal(t, "B", snapshots[0].OutcomeName)
}

func floatPtr(f float64) *float64 { return &f }
