package quotemoves

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/kv"
	"github.com/sawpanic/stratum/internal/persistence"
)

// Builder appends QuoteMoveEvent rows for consecutive per-venue quote
// changes, the raw material internal/structural walks over (C4).
type Builder struct {
	snapshots persistence.OddsSnapshotRepository
	moves     persistence.QuoteMoveRepository
	store     *kv.Store
	tiers     *VenueTiers
}

// NewBuilder wires a Builder to its dependencies.
func NewBuilder(snapshots persistence.OddsSnapshotRepository, moves persistence.QuoteMoveRepository, store *kv.Store, tiers *VenueTiers) *Builder {
	return &Builder{snapshots: snapshots, moves: moves, store: store, tiers: tiers}
}

// Append loads recent per-venue snapshots for (event, market) and inserts one
// QuoteMoveEvent per consecutive pair whose line or price differs, guarding
// against reprocessing the same pair across cycles with a KV dedupe claim.
func (b *Builder) Append(ctx context.Context, eventID string, market domain.Market, lookback time.Duration) (int, error) {
	asOf := time.Now().UTC()
	snaps, err := b.snapshots.InWindow(ctx, []string{eventID}, market, lookback, asOf)
	if err != nil {
		return 0, err
	}

	moves := DiffConsecutive(snaps, b.tiers)
	inserted := 0
	for _, mv := range moves {
		claimed, err := b.store.Dedupe(ctx, moveKey(mv), lookback)
		if err != nil {
			log.Debug().Err(err).Msg("quotemoves: dedupe check failed, inserting anyway")
		} else if !claimed {
			continue
		}
		if _, err := b.moves.Insert(ctx, mv); err != nil {
			log.Error().Err(err).Str("event_id", eventID).Str("venue", mv.Venue).Msg("quotemoves: insert failed")
			continue
		}
		inserted++
	}
	return inserted, nil
}

// DiffConsecutive groups snaps by (sportsbook, outcome) and, for any group
// with more than one observation ordered by fetched_at, emits a
// QuoteMoveEvent per consecutive pair whose line or price differs.
//
// Append feeds it the full raw per-book history within the lookback window
// (OddsSnapshotRepository.InWindow), so every consecutive observation of a
// book and outcome is compared.
func DiffConsecutive(snaps []domain.OddsSnapshot, tiers *VenueTiers) []domain.QuoteMoveEvent {
	groups := make(map[string][]domain.OddsSnapshot)
	for _, s := range snaps {
		key := s.SportsbookKey + "|" + s.OutcomeName
		groups[key] = append(groups[key], s)
	}

	var out []domain.QuoteMoveEvent
	for _, obs := range groups {
		sort.Slice(obs, func(i, j int) bool { return obs[i].FetchedAt.Before(obs[j].FetchedAt) })
		for i := 1; i < len(obs); i++ {
			prev, cur := obs[i-1], obs[i]
			if !changed(prev, cur) {
				continue
			}
			mv := domain.QuoteMoveEvent{
				EventID:     cur.EventID,
				MarketKey:   cur.Market,
				OutcomeName: cur.OutcomeName,
				Venue:       cur.SportsbookKey,
				VenueTier:   tiers.TierOf(cur.SportsbookKey),
				OldLine:     prev.Line,
				NewLine:     cur.Line,
				OldPrice:    &prev.Price,
				NewPrice:    &cur.Price,
				Timestamp:   cur.FetchedAt,
			}
			if prev.Line != nil && cur.Line != nil {
				d := *cur.Line - *prev.Line
				mv.Delta = &d
			}
			out = append(out, mv)
		}
	}
	return out
}

func changed(a, b domain.OddsSnapshot) bool {
	if a.Price != b.Price {
		return true
	}
	switch {
	case a.Line == nil && b.Line == nil:
		return false
	case a.Line == nil || b.Line == nil:
		return true
	default:
		return *a.Line != *b.Line
	}
}

func moveKey(mv domain.QuoteMoveEvent) string {
	return fmt.Sprintf("quotemove:%s:%s:%s:%s:%d", mv.EventID, mv.MarketKey, mv.OutcomeName, mv.Venue, mv.Timestamp.UnixNano())
}
