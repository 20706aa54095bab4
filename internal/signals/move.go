package signals

import (
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

// lineMoveCandidate is a pending MOVE/KEY_CROSS signal before dedupe.
type lineMoveCandidate struct {
	eventID         string
	market          domain.Market
	outcomeName     string
	signalType      domain.SignalType
	direction       domain.SignalDirection
	fromValue       float64
	toValue         float64
	fromPrice       int
	toPrice         int
	magnitude       float64
	velocityMinutes float64
	keyCross        bool
	books           []string
	windowMinutes   int
}

// detectLineMoves implements the MOVE/KEY_CROSS rule for one market: group
// snapshots by (event, outcome) merging across books, compare the earliest vs
// latest observation in the window. Ported as `_detect_line_move_signals`.
func detectLineMoves(snaps []domain.OddsSnapshot, market domain.Market, windowMinutes int, keyNumbers []float64) []lineMoveCandidate {
	type groupKey struct{ eventID, outcome string }
	groups := make(map[groupKey][]domain.OddsSnapshot)
	for _, s := range snaps {
		if s.Line == nil {
			continue
		}
		k := groupKey{s.EventID, s.OutcomeName}
		groups[k] = append(groups[k], s)
	}

	var out []lineMoveCandidate
	for k, obs := range groups {
		if len(obs) < 2 {
			continue
		}
		sort.Slice(obs, func(i, j int) bool { return obs[i].FetchedAt.Before(obs[j].FetchedAt) })
		from, to := obs[0], obs[len(obs)-1]
		fromValue, toValue := *from.Line, *to.Line

		var triggered bool
		var signalType domain.SignalType
		var keyCross bool
		var magnitude float64

		if market == domain.MarketSpreads {
			magnitude = absF(toValue - fromValue)
			keyCross = domain.CrossesKeyNumber(fromValue, toValue, keyNumbers)
			triggered = magnitude >= 0.5 || keyCross
			signalType = domain.SignalTypeMove
			if keyCross {
				signalType = domain.SignalTypeKeyCross
			}
		} else {
			magnitude = absF(toValue - fromValue)
			triggered = magnitude >= 1.0
			signalType = domain.SignalTypeMove
		}
		if !triggered {
			continue
		}

		velocity := to.FetchedAt.Sub(from.FetchedAt).Minutes()
		if velocity < 0.1 {
			velocity = 0.1
		}

		books := distinctBooks(obs)
		out = append(out, lineMoveCandidate{
			eventID:         k.eventID,
			market:          market,
			outcomeName:     k.outcome,
			signalType:      signalType,
			direction:       Direction(fromValue, toValue),
			fromValue:       fromValue,
			toValue:         toValue,
			fromPrice:       from.Price,
			toPrice:         to.Price,
			magnitude:       magnitude,
			velocityMinutes: velocity,
			keyCross:        keyCross,
			books:           books,
			windowMinutes:   windowMinutes,
		})
	}
	return out
}

func distinctBooks(obs []domain.OddsSnapshot) []string {
	seen := make(map[string]bool)
	var books []string
	for _, o := range obs {
		if !seen[o.SportsbookKey] {
			seen[o.SportsbookKey] = true
			books = append(books, o.SportsbookKey)
		}
	}
	sort.Strings(books)
	return books
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func moveDedupeKey(c lineMoveCandidate) string {
	return "signal:" + c.eventID + ":" + string(c.market) + ":" + string(c.signalType) + ":" +
		string(c.direction) + ":" + c.outcomeName + ":" +
		fmt.Sprintf("%.2f", round2(c.fromValue)) + ":" + fmt.Sprintf("%.2f", round2(c.toValue))
}

func (c lineMoveCandidate) toSignal(minutesToTip *float64, now time.Time) domain.Signal {
	strength, components := ComputeStrengthScore(c.magnitude, c.velocityMinutes, c.windowMinutes, len(c.books), minutesToTip)
	fromPrice, toPrice := c.fromPrice, c.toPrice
	return domain.Signal{
		EventID:         c.eventID,
		Market:          c.market,
		SignalType:      c.signalType,
		Direction:       c.direction,
		FromValue:       &c.fromValue,
		ToValue:         &c.toValue,
		FromPrice:       &fromPrice,
		ToPrice:         &toPrice,
		WindowMinutes:   c.windowMinutes,
		BooksAffected:   len(c.books),
		VelocityMinutes: c.velocityMinutes,
		TimeBucket:      domain.ComputeTimeBucket(minutesToTip),
		StrengthScore:   strength,
		CreatedAt:       now,
		Metadata: domain.NewMoveMetadata(domain.MoveMetadata{
			OutcomeName:     c.outcomeName,
			Books:           c.books,
			Magnitude:       c.magnitude,
			VelocityMinutes: c.velocityMinutes,
			MinutesToTip:    minutesToTip,
			KeyCross:        c.keyCross,
			Components:      components,
		}),
	}
}
