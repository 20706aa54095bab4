// Package providers ties the per-exchange clients (kalshi, polymarket,
// oddsapi) into the cycle-level ingestion contracts SPEC_FULL.md §4.1/§4.2
// name. ExchangeIngestor is C2's `IngestExchange(canonical_event_key,
// source, raw) -> rows_inserted`, adapted to fetch its own raw payload per
// market the way oddsapi.Ingestor.IngestCycle fetches its own odds payload
// rather than receiving one from the caller.
package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/sawpanic/stratum/internal/providers/kalshi"
	"github.com/sawpanic/stratum/internal/providers/polymarket"
)

// ExchangeIngestor polls every aligned canonical event's Kalshi and
// Polymarket markets once per cycle and appends newly observed quotes.
// Upstream errors fail open: one market's failure never stops the batch.
type ExchangeIngestor struct {
	kalshi     *kalshi.Client
	polymarket *polymarket.Client
	alignments persistence.AlignmentRepository
	quotes     persistence.ExchangeQuoteRepository
}

// NewExchangeIngestor wires an ExchangeIngestor. polymarket may be nil or
// disabled (Polymarket is opt-in per SPEC_FULL.md §4.2).
func NewExchangeIngestor(kalshiClient *kalshi.Client, polymarketClient *polymarket.Client, alignments persistence.AlignmentRepository, quotes persistence.ExchangeQuoteRepository) *ExchangeIngestor {
	return &ExchangeIngestor{
		kalshi:     kalshiClient,
		polymarket: polymarketClient,
		alignments: alignments,
		quotes:     quotes,
	}
}

// IngestCycle fetches and persists exchange quotes for every canonical
// event key passed in, returning the total rows inserted across both
// exchanges.
func (e *ExchangeIngestor) IngestCycle(ctx context.Context, canonicalKeys []string) (int, error) {
	now := time.Now().UTC()
	total := 0
	for _, key := range canonicalKeys {
		align, err := e.alignments.ByCanonicalKey(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("canonical_event_key", key).Msg("exchange ingest: alignment lookup failed, skipping event")
			continue
		}
		if align == nil {
			continue
		}

		if align.KalshiMarketID != nil {
			n, err := e.IngestExchange(ctx, key, domain.ExchangeSourceKalshi, *align.KalshiMarketID, now)
			if err != nil {
				log.Error().Err(err).Str("canonical_event_key", key).Str("market_id", *align.KalshiMarketID).Msg("exchange ingest: kalshi market failed, skipping")
			}
			total += n
		}
		if e.polymarket != nil && e.polymarket.Enabled() && align.PolymarketMarketID != nil {
			n, err := e.IngestExchange(ctx, key, domain.ExchangeSourcePolymarket, *align.PolymarketMarketID, now)
			if err != nil {
				log.Error().Err(err).Str("canonical_event_key", key).Str("market_id", *align.PolymarketMarketID).Msg("exchange ingest: polymarket market failed, skipping")
			}
			total += n
		}
	}
	return total, nil
}

// IngestExchange fetches one exchange's raw market quote, normalizes it,
// and appends any new rows. A fetch or normalize failure returns an error
// without touching persistence; the caller (IngestCycle) logs and continues
// to the next market rather than failing the whole batch.
func (e *ExchangeIngestor) IngestExchange(ctx context.Context, canonicalEventKey string, source domain.ExchangeSource, marketID string, serverNow time.Time) (int, error) {
	var quotes []domain.ExchangeQuoteEvent
	switch source {
	case domain.ExchangeSourceKalshi:
		raw, err := e.kalshi.FetchMarket(ctx, marketID)
		if err != nil {
			return 0, err
		}
		quotes = kalshi.Normalize(canonicalEventKey, raw, serverNow)
	case domain.ExchangeSourcePolymarket:
		raw, err := e.polymarket.FetchMarket(ctx, marketID)
		if err != nil {
			return 0, err
		}
		quotes = polymarket.Normalize(canonicalEventKey, raw, serverNow)
	default:
		return 0, nil
	}
	if len(quotes) == 0 {
		return 0, nil
	}
	return e.quotes.InsertBatch(ctx, quotes)
}
