package oddsapi

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/kv"
	"github.com/sawpanic/stratum/internal/persistence"
)

// CycleResult reports what a single IngestCycle call did, the shape named
// in SPEC_FULL.md §4.1's contract.
type CycleResult struct {
	EventsSeen        int
	SnapshotsInserted int
	EventIDs          []string
	Counters          RequestCounters
}

// Ingestor drives one odds-provider poll cycle: fetch, normalize, dedupe
// against the last-seen (line, price) per (event, book, market, outcome),
// persist new snapshots, and publish a best-effort odds_update message.
type Ingestor struct {
	client     *Client
	games      persistence.GameRepository
	snapshots  persistence.OddsSnapshotRepository
	store      *kv.Store
	sportKeys  []string
	bookmakers map[string]bool
}

// NewIngestor wires a Client to its persistence and KV dependencies.
func NewIngestor(client *Client, games persistence.GameRepository, snapshots persistence.OddsSnapshotRepository, store *kv.Store, sportKeys []string, bookmakers []string) *Ingestor {
	allow := make(map[string]bool, len(bookmakers))
	for _, b := range bookmakers {
		allow[b] = true
	}
	return &Ingestor{
		client:     client,
		games:      games,
		snapshots:  snapshots,
		store:      store,
		sportKeys:  sportKeys,
		bookmakers: allow,
	}
}

// IngestCycle runs one full poll across every configured sport.
func (in *Ingestor) IngestCycle(ctx context.Context) (CycleResult, error) {
	fetchedAt := time.Now().UTC()
	result := CycleResult{}

	for _, sport := range in.sportKeys {
		events, counters, err := in.client.FetchOdds(ctx, sport)
		if err != nil {
			log.Error().Err(err).Str("sport", sport).Msg("odds fetch failed, skipping sport this cycle")
			continue
		}
		result.Counters = counters

		for _, ev := range events {
			game, snapshots := Normalize(ev, in.bookmakers, fetchedAt)
			if game.EventID == "" {
				continue
			}
			if err := in.games.Upsert(ctx, game); err != nil {
				log.Error().Err(err).Str("event_id", game.EventID).Msg("failed to upsert game, skipping event")
				continue
			}
			result.EventsSeen++
			result.EventIDs = append(result.EventIDs, game.EventID)

			fresh := in.dedupe(ctx, snapshots)
			if len(fresh) == 0 {
				continue
			}
			n, err := in.snapshots.InsertBatch(ctx, fresh)
			if err != nil {
				log.Error().Err(err).Str("event_id", game.EventID).Msg("failed to insert odds snapshots")
				continue
			}
			result.SnapshotsInserted += n
		}

		if err := in.store.Publish(ctx, "odds_update", []byte(sport)); err != nil {
			log.Debug().Err(err).Str("sport", sport).Msg("odds_update publish failed (best-effort)")
		}
	}

	return result, nil
}

// dedupe filters snapshots whose (event, book, market, outcome) key's last
// (line, price) value is unchanged since the previous cycle, using the KV
// store's dedupe claim as the identity cache.
func (in *Ingestor) dedupe(ctx context.Context, snapshots []domain.OddsSnapshot) []domain.OddsSnapshot {
	var out []domain.OddsSnapshot
	for _, s := range snapshots {
		key := dedupeKey(s)
		claimed, err := in.store.Dedupe(ctx, key, 24*time.Hour)
		if err != nil {
			log.Debug().Err(err).Str("key", key).Msg("dedupe check failed, keeping snapshot")
			out = append(out, s)
			continue
		}
		if claimed {
			out = append(out, s)
		}
	}
	return out
}

func dedupeKey(s domain.OddsSnapshot) string {
	line := "nil"
	if s.Line != nil {
		line = fmt.Sprintf("%.2f", *s.Line)
	}
	return fmt.Sprintf("odds:last:%s:%s:%s:%s:%s:%d", s.EventID, s.SportsbookKey, s.Market, s.OutcomeName, line, s.Price)
}
