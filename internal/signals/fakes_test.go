package signals

import (
	"context"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

type fakeOddsRepo struct {
	latest   map[string][]domain.OddsSnapshot
	inWindow map[string][]domain.OddsSnapshot
}

func (f *fakeOddsRepo) InsertBatch(ctx context.Context, snapshots []domain.OddsSnapshot) (int, error) {
	return len(snapshots), nil
}

func (f *fakeOddsRepo) LatestPerBook(ctx context.Context, eventID string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	return f.latest[eventID+":"+string(market)], nil
}

func (f *fakeOddsRepo) InWindow(ctx context.Context, eventIDs []string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	var out []domain.OddsSnapshot
	for _, id := range eventIDs {
		out = append(out, f.inWindow[id+":"+string(market)]...)
	}
	return out, nil
}

func (f *fakeOddsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeConsensusRepo struct {
	byKey map[string]domain.MarketConsensusSnapshot
}

func (f *fakeConsensusRepo) Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error {
	return nil
}

func (f *fakeConsensusRepo) Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	v, ok := f.byKey[eventID+":"+string(market)+":"+outcomeName]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeGameRepo struct {
	byID map[string]domain.Game
}

func (f *fakeGameRepo) Upsert(ctx context.Context, g domain.Game) error { return nil }

func (f *fakeGameRepo) Get(ctx context.Context, eventID string) (*domain.Game, error) {
	g, ok := f.byID[eventID]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (f *fakeGameRepo) ListUpcoming(ctx context.Context, within time.Duration) ([]domain.Game, error) {
	return nil, nil
}

func (f *fakeGameRepo) ListRecentlyFinished(ctx context.Context, since, until time.Time) ([]domain.Game, error) {
	return nil, nil
}

type fakeAlignmentRepo struct {
	bySportsbookID map[string]domain.CanonicalEventAlignment
}

func (f *fakeAlignmentRepo) Upsert(ctx context.Context, a domain.CanonicalEventAlignment) error {
	return nil
}

func (f *fakeAlignmentRepo) ByCanonicalKey(ctx context.Context, key string) (*domain.CanonicalEventAlignment, error) {
	return nil, nil
}

func (f *fakeAlignmentRepo) BySportsbookEventID(ctx context.Context, eventID string) (*domain.CanonicalEventAlignment, error) {
	a, ok := f.bySportsbookID[eventID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeAlignmentRepo) ListUnaligned(ctx context.Context) ([]domain.CanonicalEventAlignment, error) {
	return nil, nil
}

type fakeDivergenceRepo struct {
	unresolved map[string][]domain.CrossMarketDivergenceEvent
}

func (f *fakeDivergenceRepo) Upsert(ctx context.Context, ev domain.CrossMarketDivergenceEvent) error {
	return nil
}

func (f *fakeDivergenceRepo) Unresolved(ctx context.Context, canonicalEventKey string) ([]domain.CrossMarketDivergenceEvent, error) {
	return f.unresolved[canonicalEventKey], nil
}

func (f *fakeDivergenceRepo) MarkResolved(ctx context.Context, idempotencyKey string, at time.Time, resolutionType string) error {
	return nil
}

type fakeSignalRepo struct {
	inserted []domain.Signal
}

func (f *fakeSignalRepo) Insert(ctx context.Context, s domain.Signal) error {
	f.inserted = append(f.inserted, s)
	return nil
}

func (f *fakeSignalRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	return nil, nil
}

func (f *fakeSignalRepo) ListSince(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength int) ([]domain.Signal, error) {
	return nil, nil
}

func (f *fakeSignalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
