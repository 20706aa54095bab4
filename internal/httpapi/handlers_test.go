package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/intel"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/sawpanic/stratum/internal/retention"
)

type fakeConsensusRepo struct {
	snap *domain.MarketConsensusSnapshot
}

func (f *fakeConsensusRepo) Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error {
	return nil
}
func (f *fakeConsensusRepo) Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	return f.snap, nil
}
func (f *fakeConsensusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSignalRepo struct{ signals []domain.Signal }

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

type fakeClosingRepo struct{}

func (f *fakeClosingRepo) Upsert(ctx context.Context, cc domain.ClosingConsensus) error { return nil }
func (f *fakeClosingRepo) Get(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.ClosingConsensus, error) {
	return nil, nil
}
func (f *fakeClosingRepo) MarketsForEvent(ctx context.Context, eventID string) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeClosingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeClvRepo struct{}

func (f *fakeClvRepo) Upsert(ctx context.Context, c domain.ClvRecord) error { return nil }
func (f *fakeClvRepo) ListForSignal(ctx context.Context, signalID string) (*domain.ClvRecord, error) {
	return nil, nil
}
func (f *fakeClvRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeClvRepo) RecentRecords(ctx context.Context, since time.Time) ([]domain.ClvRecord, error) {
	return nil, nil
}

type fakeKpiRepo struct{}

func (f *fakeKpiRepo) Insert(ctx context.Context, k domain.CycleKpi) error { return nil }
func (f *fakeKpiRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeKpiRepo) RecentSummary(ctx context.Context, since time.Time) (persistence.CycleKpiSummary, error) {
	return persistence.CycleKpiSummary{CycleCount: 3}, nil
}

type fakeSubscriberRepo struct {
	subs []domain.Subscriber
}

func (f *fakeSubscriberRepo) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	return f.subs, nil
}
func (f *fakeSubscriberRepo) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	for _, s := range f.subs {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

func newTestServer(t *testing.T, sigs []domain.Signal, subs []domain.Subscriber) *Server {
	t.Helper()
	signalRepo := &fakeSignalRepo{signals: sigs}
	consensusRepo := &fakeConsensusRepo{}
	closingRepo := &fakeClosingRepo{}
	clvRepo := &fakeClvRepo{}
	kpiRepo := &fakeKpiRepo{}
	sweeper := retention.NewSweeper(config.Config{}, nil, consensusRepo, signalRepo, closingRepo, clvRepo, kpiRepo)
	svc := intel.NewService(consensusRepo, signalRepo, closingRepo, clvRepo, sweeper)

	cfg := config.Config{}
	cfg.Public.FreeDelayMinutes = 10
	cfg.Ambient.HTTPListenAddr = "127.0.0.1:0"

	reg := prometheus.NewRegistry()
	return NewServer(cfg, svc, &fakeSubscriberRepo{subs: subs}, reg)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestOpportunitiesReturnsSignalsSortedByStrength(t *testing.T) {
	now := time.Now().UTC()
	sigs := []domain.Signal{
		{ID: "s1", StrengthScore: 20, CreatedAt: now},
		{ID: "s2", StrengthScore: 90, CreatedAt: now},
	}
	s := newTestServer(t, sigs, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/intel/opportunities", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var ops []intel.Opportunity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ops))
	require.Len(t, ops, 2)
	assert.Equal(t, "s2", ops[0].Signal.ID)
}

func TestClvSummaryRejectsUnauthenticatedCaller(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/intel/clv/summary", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestClvSummaryAllowsProSubscriber(t *testing.T) {
	subs := []domain.Subscriber{{ID: "sub1", Secret: "top-secret", IsPro: true, IsActive: true}}
	s := newTestServer(t, nil, subs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/intel/clv/summary", nil)
	req.Header.Set("X-Stratum-Api-Key", "top-secret")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestConsensusLatestRequiresParams(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/intel/consensus/latest", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBareConsensusPathIsAliasForLatest(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/intel/consensus?event_id=e1&market=spreads&outcome_name=Home", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code, "no snapshot seeded, so the alias route should 404 the same way /latest does")
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
