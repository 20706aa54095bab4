package providers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/providers/kalshi"
	"github.com/sawpanic/stratum/internal/providers/polymarket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlignmentRepo struct {
	byKey map[string]*domain.CanonicalEventAlignment
}

func (f *fakeAlignmentRepo) Upsert(ctx context.Context, a domain.CanonicalEventAlignment) error {
	return nil
}

func (f *fakeAlignmentRepo) ByCanonicalKey(ctx context.Context, key string) (*domain.CanonicalEventAlignment, error) {
	return f.byKey[key], nil
}

func (f *fakeAlignmentRepo) BySportsbookEventID(ctx context.Context, eventID string) (*domain.CanonicalEventAlignment, error) {
	return nil, nil
}

func (f *fakeAlignmentRepo) ListUnaligned(ctx context.Context) ([]domain.CanonicalEventAlignment, error) {
	return nil, nil
}

type fakeQuoteRepo struct {
	mu       sync.Mutex
	inserted []domain.ExchangeQuoteEvent
}

func (f *fakeQuoteRepo) InsertBatch(ctx context.Context, quotes []domain.ExchangeQuoteEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, quotes...)
	return len(quotes), nil
}

func (f *fakeQuoteRepo) RecentForMarket(ctx context.Context, canonicalEventKey string, source domain.ExchangeSource, since time.Time) ([]domain.ExchangeQuoteEvent, error) {
	return nil, nil
}

func (f *fakeQuoteRepo) RecentForEvent(ctx context.Context, canonicalEventKey string, since time.Time) ([]domain.ExchangeQuoteEvent, error) {
	return nil, nil
}

func (f *fakeQuoteRepo) snapshot() []domain.ExchangeQuoteEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ExchangeQuoteEvent, len(f.inserted))
	copy(out, f.inserted)
	return out
}

func strPtr(s string) *string { return &s }

func TestKalshiNormalizeInsertBatchInsertsYesAndNo(t *testing.T) {
	kalshiClient := kalshi.New(kalshi.Config{BaseURL: "https://kalshi.test", APIKey: "k"})
	quotes := &fakeQuoteRepo{}
	ing := NewExchangeIngestor(kalshiClient, nil, &fakeAlignmentRepo{}, quotes)

	// FetchMarket would hit the network, so a raw market goes through
	// kalshi.Normalize and InsertBatch directly; IngestExchange's fetch error
	// path is covered by TestIngestExchangeReturnsErrorOnUnreachableMarket.
	raw := kalshi.RawMarket{MarketID: "KX-1", YesBid: intPtr(45), YesAsk: intPtr(55)}
	n := kalshi.Normalize("evt-1", raw, time.Now())
	got, err := quotes.InsertBatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	_ = ing
}

func intPtr(i int) *int { return &i }

func TestIngestCycleSkipsEventsWithoutAlignment(t *testing.T) {
	kalshiClient := kalshi.New(kalshi.Config{BaseURL: "https://kalshi.test", APIKey: "k"})
	polyClient := polymarket.New(polymarket.Config{BaseURL: "https://poly.test", Enabled: false})
	quotes := &fakeQuoteRepo{}
	align := &fakeAlignmentRepo{byKey: map[string]*domain.CanonicalEventAlignment{}}
	ing := NewExchangeIngestor(kalshiClient, polyClient, align, quotes)

	total, err := ing.IngestCycle(context.Background(), []string{"evt-missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, quotes.snapshot())
}

func TestIngestCycleSkipsPolymarketWhenDisabled(t *testing.T) {
	kalshiClient := kalshi.New(kalshi.Config{BaseURL: "https://kalshi.test", APIKey: "k"})
	polyClient := polymarket.New(polymarket.Config{BaseURL: "https://poly.test", Enabled: false})
	quotes := &fakeQuoteRepo{}
	align := &fakeAlignmentRepo{byKey: map[string]*domain.CanonicalEventAlignment{
		"evt-1": {CanonicalEventKey: "evt-1", PolymarketMarketID: strPtr("cond-1")},
	}}
	ing := NewExchangeIngestor(kalshiClient, polyClient, align, quotes)

	total, err := ing.IngestCycle(context.Background(), []string{"evt-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestIngestExchangeReturnsErrorOnUnreachableMarket(t *testing.T) {
	kalshiClient := kalshi.New(kalshi.Config{BaseURL: "http://127.0.0.1:1", APIKey: "k", TimeoutSeconds: 1})
	quotes := &fakeQuoteRepo{}
	ing := NewExchangeIngestor(kalshiClient, nil, &fakeAlignmentRepo{}, quotes)

	_, err := ing.IngestExchange(context.Background(), "evt-1", domain.ExchangeSourceKalshi, "KX-1", time.Now())
	require.Error(t, err)
}

func TestIngestExchangeUnknownSourceIsNoOp(t *testing.T) {
	kalshiClient := kalshi.New(kalshi.Config{BaseURL: "https://kalshi.test", APIKey: "k"})
	quotes := &fakeQuoteRepo{}
	ing := NewExchangeIngestor(kalshiClient, nil, &fakeAlignmentRepo{}, quotes)

	n, err := ing.IngestExchange(context.Background(), "evt-1", domain.ExchangeSource("UNKNOWN"), "m-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, quotes.snapshot())
}
