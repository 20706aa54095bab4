package closing

import (
	"context"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

type fakeGameRepo struct {
	byID map[string]domain.Game
}

func (f *fakeGameRepo) Upsert(ctx context.Context, g domain.Game) error { return nil }

func (f *fakeGameRepo) Get(ctx context.Context, eventID string) (*domain.Game, error) {
	if g, ok := f.byID[eventID]; ok {
		return &g, nil
	}
	return nil, nil
}

func (f *fakeGameRepo) ListUpcoming(ctx context.Context, within time.Duration) ([]domain.Game, error) {
	return nil, nil
}

func (f *fakeGameRepo) ListRecentlyFinished(ctx context.Context, since, until time.Time) ([]domain.Game, error) {
	var out []domain.Game
	for _, g := range f.byID {
		if !g.CommenceTime.Before(since) && !g.CommenceTime.After(until) {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeOddsSnapshotRepo struct {
	rows []domain.OddsSnapshot
}

func (f *fakeOddsSnapshotRepo) InsertBatch(ctx context.Context, snapshots []domain.OddsSnapshot) (int, error) {
	return len(snapshots), nil
}

func (f *fakeOddsSnapshotRepo) LatestPerBook(ctx context.Context, eventID string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	return nil, nil
}

func (f *fakeOddsSnapshotRepo) InWindow(ctx context.Context, eventIDs []string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error) {
	wantEvent := map[string]bool{}
	for _, id := range eventIDs {
		wantEvent[id] = true
	}
	windowStart := asOf.Add(-lookback)
	var out []domain.OddsSnapshot
	for _, r := range f.rows {
		if !wantEvent[r.EventID] || r.Market != market {
			continue
		}
		if r.FetchedAt.Before(windowStart) || r.FetchedAt.After(asOf) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeOddsSnapshotRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeClosingConsensusRepo struct {
	byKey map[string]domain.ClosingConsensus
}

func closingKey(eventID string, market domain.Market, outcomeName string) string {
	return eventID + "|" + string(market) + "|" + outcomeName
}

func (f *fakeClosingConsensusRepo) Upsert(ctx context.Context, cc domain.ClosingConsensus) error {
	if f.byKey == nil {
		f.byKey = map[string]domain.ClosingConsensus{}
	}
	f.byKey[closingKey(cc.EventID, cc.Market, cc.OutcomeName)] = cc
	return nil
}

func (f *fakeClosingConsensusRepo) Get(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.ClosingConsensus, error) {
	if cc, ok := f.byKey[closingKey(eventID, market, outcomeName)]; ok {
		return &cc, nil
	}
	return nil, nil
}

func (f *fakeClosingConsensusRepo) MarketsForEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	seen := map[domain.Market]bool{}
	var out []domain.Market
	for _, cc := range f.byKey {
		if cc.EventID != eventID || seen[cc.Market] {
			continue
		}
		seen[cc.Market] = true
		out = append(out, cc.Market)
	}
	return out, nil
}

func (f *fakeClosingConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSignalRepo struct {
	signals []domain.Signal
}

func (f *fakeSignalRepo) Insert(ctx context.Context, s domain.Signal) error { return nil }

func (f *fakeSignalRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	return nil, nil
}

func (f *fakeSignalRepo) ListSince(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength int) ([]domain.Signal, error) {
	return f.signals, nil
}

func (f *fakeSignalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeClvRepo struct {
	byID     map[string]domain.ClvRecord
	upserted []domain.ClvRecord
}

func (f *fakeClvRepo) Upsert(ctx context.Context, c domain.ClvRecord) error {
	if f.byID == nil {
		f.byID = map[string]domain.ClvRecord{}
	}
	f.byID[c.SignalID] = c
	f.upserted = append(f.upserted, c)
	return nil
}

func (f *fakeClvRepo) ListForSignal(ctx context.Context, signalID string) (*domain.ClvRecord, error) {
	if c, ok := f.byID[signalID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeClvRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeClvRepo) RecentRecords(ctx context.Context, since time.Time) ([]domain.ClvRecord, error) {
	var out []domain.ClvRecord
	for _, c := range f.byID {
		if !c.ComputedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}
