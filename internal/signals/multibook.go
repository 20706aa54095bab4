package signals

import (
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

type bookMove struct {
	sportsbookKey   string
	fromValue       float64
	toValue         float64
	direction       domain.SignalDirection
	velocityMinutes float64
}

type multibookCandidate struct {
	eventID         string
	market          domain.Market
	outcomeName     string
	direction       domain.SignalDirection
	avgFrom         float64
	avgTo           float64
	magnitude       float64
	velocityMinutes float64
	books           []string
	windowMinutes   int
}

// detectMultibookSync groups per-book earliest->latest moves by (event,
// market, outcome, direction) and triggers when >=3 books move the same way.
// Ported as `_detect_multibook_sync_signals`.
func detectMultibookSync(snaps []domain.OddsSnapshot, windowMinutes int) []multibookCandidate {
	type bookKey struct{ eventID, market, outcome, book string }
	byBook := make(map[bookKey][]domain.OddsSnapshot)
	for _, s := range snaps {
		k := bookKey{s.EventID, string(s.Market), s.OutcomeName, s.SportsbookKey}
		byBook[k] = append(byBook[k], s)
	}

	type groupKey struct{ eventID, market, outcome string; direction domain.SignalDirection }
	aggregate := make(map[groupKey][]bookMove)
	for k, obs := range byBook {
		if len(obs) < 2 {
			continue
		}
		sort.Slice(obs, func(i, j int) bool { return obs[i].FetchedAt.Before(obs[j].FetchedAt) })
		from, to := obs[0], obs[len(obs)-1]
		fromValue := valueOf(from)
		toValue := valueOf(to)
		if fromValue == toValue {
			continue
		}
		direction := Direction(fromValue, toValue)
		velocity := to.FetchedAt.Sub(from.FetchedAt).Minutes()
		if velocity < 0.1 {
			velocity = 0.1
		}
		gk := groupKey{k.eventID, k.market, k.outcome, direction}
		aggregate[gk] = append(aggregate[gk], bookMove{
			sportsbookKey:   k.book,
			fromValue:       fromValue,
			toValue:         toValue,
			direction:       direction,
			velocityMinutes: velocity,
		})
	}

	var out []multibookCandidate
	for gk, moves := range aggregate {
		if len(moves) < 3 {
			continue
		}
		avgFrom := meanOf(moves, func(m bookMove) float64 { return m.fromValue })
		avgTo := meanOf(moves, func(m bookMove) float64 { return m.toValue })
		velocity := meanOf(moves, func(m bookMove) float64 { return m.velocityMinutes })
		books := make([]string, 0, len(moves))
		for _, m := range moves {
			books = append(books, m.sportsbookKey)
		}
		sort.Strings(books)

		out = append(out, multibookCandidate{
			eventID:         gk.eventID,
			market:          domain.Market(gk.market),
			outcomeName:     gk.outcome,
			direction:       gk.direction,
			avgFrom:         avgFrom,
			avgTo:           avgTo,
			magnitude:       absF(avgTo - avgFrom),
			velocityMinutes: velocity,
			books:           books,
			windowMinutes:   windowMinutes,
		})
	}
	return out
}

func valueOf(s domain.OddsSnapshot) float64 {
	if s.Line != nil {
		return *s.Line
	}
	return float64(s.Price)
}

func meanOf(moves []bookMove, f func(bookMove) float64) float64 {
	if len(moves) == 0 {
		return 0
	}
	var sum float64
	for _, m := range moves {
		sum += f(m)
	}
	return sum / float64(len(moves))
}

func multibookDedupeKey(c multibookCandidate) string {
	return "signal:" + c.eventID + ":" + string(c.market) + ":MULTIBOOK_SYNC:" + string(c.direction) + ":" + c.outcomeName + ":" +
		fmt.Sprintf("%.2f", round2(c.avgTo)) + ":" + fmt.Sprintf("%d", len(c.books))
}

func (c multibookCandidate) toSignal(minutesToTip *float64, now time.Time) domain.Signal {
	strength, components := ComputeStrengthScore(c.magnitude, c.velocityMinutes, c.windowMinutes, len(c.books), minutesToTip)
	var fromPrice, toPrice *int
	if c.market == domain.MarketH2H {
		fp, tp := int(round2(c.avgFrom)), int(round2(c.avgTo))
		fromPrice, toPrice = &fp, &tp
	}
	return domain.Signal{
		EventID:         c.eventID,
		Market:          c.market,
		SignalType:      domain.SignalTypeMultibookSync,
		Direction:       c.direction,
		FromValue:       &c.avgFrom,
		ToValue:         &c.avgTo,
		FromPrice:       fromPrice,
		ToPrice:         toPrice,
		WindowMinutes:   c.windowMinutes,
		BooksAffected:   len(c.books),
		VelocityMinutes: c.velocityMinutes,
		TimeBucket:      domain.ComputeTimeBucket(minutesToTip),
		StrengthScore:   strength,
		CreatedAt:       now,
		Metadata: domain.NewMultibookSyncMetadata(domain.MultibookSyncMetadata{
			OutcomeName: c.outcomeName,
			Books:       c.books,
			MeanFrom:    c.avgFrom,
			MeanTo:      c.avgTo,
			Components:  components,
		}),
	}
}
