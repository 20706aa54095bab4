package oddsapi

import (
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

// Normalize flattens a provider EventOdds response into a Game row plus one
// OddsSnapshot per (bookmaker, market, outcome). Malformed outcomes are
// skipped individually rather than failing the whole event, per SPEC_FULL.md
// §4.1's "skip the event and continue" / §4.2's fail-open outcome handling.
func Normalize(ev EventOdds, allowedBookmakers map[string]bool, fetchedAt time.Time) (domain.Game, []domain.OddsSnapshot) {
	game := domain.Game{
		EventID:      ev.ID,
		SportKey:     ev.SportKey,
		CommenceTime: ev.CommenceTime,
		HomeTeam:     ev.HomeTeam,
		AwayTeam:     ev.AwayTeam,
	}

	var snapshots []domain.OddsSnapshot
	for _, bk := range ev.Bookmakers {
		if len(allowedBookmakers) > 0 && !allowedBookmakers[bk.Key] {
			continue
		}
		for _, mkt := range bk.Markets {
			market := domain.Market(mkt.Key)
			for _, outcome := range mkt.Outcomes {
				if outcome.Name == "" {
					continue
				}
				snapshots = append(snapshots, domain.OddsSnapshot{
					EventID:       ev.ID,
					SportKey:      ev.SportKey,
					SportsbookKey: bk.Key,
					Market:        market,
					OutcomeName:   outcome.Name,
					Line:          outcome.Point,
					Price:         outcome.Price,
					FetchedAt:     fetchedAt,
				})
			}
		}
	}
	return game, snapshots
}
