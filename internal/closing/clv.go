package closing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

// ClvService computes closing-line-value rows for signals whose game has
// commenced, grounded on SPEC_FULL.md §4.7's CLV definition: clv_line is
// close minus entry on the line, clv_prob is close minus entry on implied
// probability from the American price.
type ClvService struct {
	games   persistence.GameRepository
	signals persistence.SignalRepository
	closing persistence.ClosingConsensusRepository
	clv     persistence.ClvRepository
}

// NewClvService wires a ClvService to its dependencies.
func NewClvService(games persistence.GameRepository, signals persistence.SignalRepository, closing persistence.ClosingConsensusRepository, clv persistence.ClvRepository) *ClvService {
	return &ClvService{games: games, signals: signals, closing: closing, clv: clv}
}

// ComputeCLV scans signals from the last lookbackDays whose game commenced
// at least minutesAfterCommence minutes ago, and inserts one ClvRecord per
// eligible signal that doesn't already have one. Returns the records
// written alongside the count, so a caller (internal/orchestrator) can fan
// them out to internal/alerts without a re-query.
func (s *ClvService) ComputeCLV(ctx context.Context, lookbackDays, minutesAfterCommence int) (int, []domain.ClvRecord, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -lookbackDays)
	eligibleBy := now.Add(-time.Duration(minutesAfterCommence) * time.Minute)

	signals, err := s.signals.ListSince(ctx, since, nil, 0)
	if err != nil {
		return 0, nil, err
	}

	written := 0
	var recs []domain.ClvRecord
	gameCache := map[string]*domain.Game{}
	for _, sig := range signals {
		if sig.SignalType == domain.SignalTypeExchangeDivergence {
			// No per-outcome line/price on an exchange-divergence signal —
			// CLV is undefined for it.
			continue
		}

		existing, err := s.clv.ListForSignal(ctx, sig.ID)
		if err != nil {
			log.Error().Err(err).Str("signal_id", sig.ID).Msg("clv: lookup failed")
			continue
		}
		if existing != nil {
			continue
		}

		game, ok := gameCache[sig.EventID]
		if !ok {
			g, err := s.games.Get(ctx, sig.EventID)
			if err != nil {
				log.Error().Err(err).Str("event_id", sig.EventID).Msg("clv: game lookup failed")
				continue
			}
			gameCache[sig.EventID] = g
			game = g
		}
		if game == nil || game.CommenceTime.After(eligibleBy) {
			continue
		}

		outcomeName, ok := sig.Metadata.String("outcome_name")
		if !ok {
			continue
		}

		entryLine, entryPrice := resolveEntryValue(sig)

		close, err := s.closing.Get(ctx, sig.EventID, sig.Market, outcomeName)
		if err != nil {
			log.Error().Err(err).Str("signal_id", sig.ID).Msg("clv: closing lookup failed")
			continue
		}
		if close == nil {
			// Closing consensus not yet computed for this outcome; will be
			// retried next cycle once internal/closing's CloseGame has run.
			continue
		}

		rec := domain.ClvRecord{
			SignalID:    sig.ID,
			EventID:     sig.EventID,
			SignalType:  sig.SignalType,
			Market:      sig.Market,
			OutcomeName: outcomeName,
			EntryLine:   entryLine,
			EntryPrice:  entryPrice,
			CloseLine:   close.CloseLine,
			ClosePrice:  close.ClosePrice,
			ComputedAt:  now,
		}
		rec.ClvLine = clvLine(entryLine, close.CloseLine)
		rec.ClvProb = clvProb(entryPrice, close.ClosePrice)

		if err := s.clv.Upsert(ctx, rec); err != nil {
			log.Error().Err(err).Str("signal_id", sig.ID).Msg("clv: upsert failed")
			continue
		}
		written++
		recs = append(recs, rec)
	}
	return written, recs, nil
}

// resolveEntryValue probes a signal's raw metadata for the line/price it
// moved to, falling back to the signal's own ToValue/ToPrice columns. No
// single named metadata subshape exposes entry line/price uniformly
// (DislocationMetadata uses book_line/book_price, others carry none at
// all), so this checks every key the corpus of metadata builders uses
// before falling back to the strongly-typed columns every signal type sets.
func resolveEntryValue(sig domain.Signal) (line, price *float64) {
	line = sig.ToValue
	if sig.ToPrice != nil {
		p := float64(*sig.ToPrice)
		price = &p
	}
	if v, ok := sig.Metadata.Float64("book_line"); ok {
		line = &v
	} else if v, ok := sig.Metadata.Float64("end_line"); ok {
		line = &v
	} else if v, ok := sig.Metadata.Float64("to_value"); ok {
		line = &v
	}
	if v, ok := sig.Metadata.Float64("book_price"); ok {
		price = &v
	} else if v, ok := sig.Metadata.Float64("to_price"); ok {
		price = &v
	}
	return line, price
}

func clvLine(entry, close *float64) *float64 {
	if entry == nil || close == nil {
		return nil
	}
	v := *close - *entry
	return &v
}

func clvProb(entryPrice, closePrice *float64) *float64 {
	if entryPrice == nil || closePrice == nil {
		return nil
	}
	entryProb := domain.AmericanToImpliedProbFloat(*entryPrice)
	closeProb := domain.AmericanToImpliedProbFloat(*closePrice)
	if entryProb == nil || closeProb == nil {
		return nil
	}
	v := *closeProb - *entryProb
	return &v
}
