package crossmarket

import (
	"context"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

type fakeAlignmentRepo struct {
	byCanonicalKey map[string]domain.CanonicalEventAlignment
}

func (f *fakeAlignmentRepo) Upsert(ctx context.Context, a domain.CanonicalEventAlignment) error {
	return nil
}
func (f *fakeAlignmentRepo) ByCanonicalKey(ctx context.Context, key string) (*domain.CanonicalEventAlignment, error) {
	if a, ok := f.byCanonicalKey[key]; ok {
		return &a, nil
	}
	return nil, nil
}
func (f *fakeAlignmentRepo) BySportsbookEventID(ctx context.Context, eventID string) (*domain.CanonicalEventAlignment, error) {
	return nil, nil
}
func (f *fakeAlignmentRepo) ListUnaligned(ctx context.Context) ([]domain.CanonicalEventAlignment, error) {
	return nil, nil
}

type fakeStructuralEventRepo struct {
	byEventID   map[string][]domain.StructuralEvent
	latestSince map[string]domain.StructuralEvent
}

func (f *fakeStructuralEventRepo) InsertWithParticipation(ctx context.Context, ev domain.StructuralEvent, participation []domain.StructuralEventVenueParticipation) (int64, error) {
	return 1, nil
}
func (f *fakeStructuralEventRepo) OpenEvents(ctx context.Context, eventID string, market domain.Market, outcomeName string) ([]domain.StructuralEvent, error) {
	return nil, nil
}
func (f *fakeStructuralEventRepo) MarkReversal(ctx context.Context, id int64, at time.Time) error {
	return nil
}
func (f *fakeStructuralEventRepo) UpdateHoldMetrics(ctx context.Context, id int64, dispersionPost float64, holdMinutes float64) error {
	return nil
}
func (f *fakeStructuralEventRepo) ByEventID(ctx context.Context, eventID string) ([]domain.StructuralEvent, error) {
	return f.byEventID[eventID], nil
}
func (f *fakeStructuralEventRepo) LatestSince(ctx context.Context, eventID string, since time.Time) (*domain.StructuralEvent, error) {
	if ev, ok := f.latestSince[eventID]; ok {
		return &ev, nil
	}
	return nil, nil
}

type fakeExchangeQuoteRepo struct {
	byCanonicalKey map[string][]domain.ExchangeQuoteEvent
}

func (f *fakeExchangeQuoteRepo) InsertBatch(ctx context.Context, quotes []domain.ExchangeQuoteEvent) (int, error) {
	return len(quotes), nil
}
func (f *fakeExchangeQuoteRepo) RecentForMarket(ctx context.Context, canonicalEventKey string, source domain.ExchangeSource, since time.Time) ([]domain.ExchangeQuoteEvent, error) {
	return f.byCanonicalKey[canonicalEventKey], nil
}
func (f *fakeExchangeQuoteRepo) RecentForEvent(ctx context.Context, canonicalEventKey string, since time.Time) ([]domain.ExchangeQuoteEvent, error) {
	return f.byCanonicalKey[canonicalEventKey], nil
}

type fakeLeadLagRepo struct {
	inserted []domain.CrossMarketLeadLagEvent
}

func (f *fakeLeadLagRepo) Insert(ctx context.Context, ev domain.CrossMarketLeadLagEvent) (int64, error) {
	f.inserted = append(f.inserted, ev)
	return int64(len(f.inserted)), nil
}

type fakeDivergenceRepo struct {
	upserted        []domain.CrossMarketDivergenceEvent
	unresolvedByKey map[string][]domain.CrossMarketDivergenceEvent
	resolved        []string
}

func (f *fakeDivergenceRepo) Upsert(ctx context.Context, ev domain.CrossMarketDivergenceEvent) error {
	f.upserted = append(f.upserted, ev)
	return nil
}
func (f *fakeDivergenceRepo) Unresolved(ctx context.Context, canonicalEventKey string) ([]domain.CrossMarketDivergenceEvent, error) {
	return f.unresolvedByKey[canonicalEventKey], nil
}
func (f *fakeDivergenceRepo) MarkResolved(ctx context.Context, idempotencyKey string, at time.Time, resolutionType string) error {
	f.resolved = append(f.resolved, idempotencyKey)
	return nil
}
