package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/providers/oddsapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlignmentRepo struct {
	bySportsbookID map[string]*domain.CanonicalEventAlignment
}

func (f *fakeAlignmentRepo) Upsert(ctx context.Context, a domain.CanonicalEventAlignment) error {
	return nil
}
func (f *fakeAlignmentRepo) ByCanonicalKey(ctx context.Context, key string) (*domain.CanonicalEventAlignment, error) {
	return nil, nil
}
func (f *fakeAlignmentRepo) BySportsbookEventID(ctx context.Context, eventID string) (*domain.CanonicalEventAlignment, error) {
	return f.bySportsbookID[eventID], nil
}
func (f *fakeAlignmentRepo) ListUnaligned(ctx context.Context) ([]domain.CanonicalEventAlignment, error) {
	return nil, nil
}

type fakeGameRepo struct {
	byID     map[string]domain.Game
	upcoming []domain.Game
}

func (f *fakeGameRepo) Upsert(ctx context.Context, g domain.Game) error { return nil }
func (f *fakeGameRepo) Get(ctx context.Context, eventID string) (*domain.Game, error) {
	if g, ok := f.byID[eventID]; ok {
		return &g, nil
	}
	return nil, nil
}
func (f *fakeGameRepo) ListUpcoming(ctx context.Context, within time.Duration) ([]domain.Game, error) {
	return f.upcoming, nil
}
func (f *fakeGameRepo) ListRecentlyFinished(ctx context.Context, since, until time.Time) ([]domain.Game, error) {
	return nil, nil
}

func TestCanonicalKeysForEventsSkipsUnaligned(t *testing.T) {
	o := &Orchestrator{alignments: &fakeAlignmentRepo{bySportsbookID: map[string]*domain.CanonicalEventAlignment{
		"evt-1": {CanonicalEventKey: "canon-1"},
	}}}
	keys := o.canonicalKeysForEvents(context.Background(), []string{"evt-1", "evt-missing"})
	assert.Equal(t, []string{"canon-1"}, keys)
}

func TestOutcomeNamesForEventReturnsTeams(t *testing.T) {
	o := &Orchestrator{games: &fakeGameRepo{byID: map[string]domain.Game{
		"evt-1": {EventID: "evt-1", HomeTeam: "Lakers", AwayTeam: "Celtics"},
	}}}
	outcomes := o.outcomeNamesForEvent(context.Background(), "evt-1")
	assert.Equal(t, []string{"Lakers", "Celtics"}, outcomes)
}

func TestOutcomeNamesForEventReturnsNilWhenGameMissing(t *testing.T) {
	o := &Orchestrator{games: &fakeGameRepo{byID: map[string]domain.Game{}}}
	outcomes := o.outcomeNamesForEvent(context.Background(), "evt-missing")
	assert.Nil(t, outcomes)
}

func TestNextIntervalUsesLowCreditOverIdle(t *testing.T) {
	o := &Orchestrator{
		cfg: config.Config{Ingestion: config.IngestionConfig{
			PollIntervalSeconds:      60,
			IdleIntervalSeconds:      300,
			LowCreditIntervalSeconds: 900,
			LowCreditThreshold:       200,
		}},
		games: &fakeGameRepo{upcoming: nil},
	}
	result := oddsapi.CycleResult{Counters: oddsapi.RequestCounters{Remaining: 50}}
	got := o.nextInterval(context.Background(), result)
	assert.Equal(t, 900*time.Second, got)
}

func TestNextIntervalUsesIdleWhenNoUpcomingGames(t *testing.T) {
	o := &Orchestrator{
		cfg: config.Config{Ingestion: config.IngestionConfig{
			PollIntervalSeconds:      60,
			IdleIntervalSeconds:      300,
			LowCreditIntervalSeconds: 900,
			LowCreditThreshold:       200,
		}},
		games: &fakeGameRepo{upcoming: nil},
	}
	result := oddsapi.CycleResult{Counters: oddsapi.RequestCounters{Remaining: 1000}}
	got := o.nextInterval(context.Background(), result)
	assert.Equal(t, 300*time.Second, got)
}

func TestNextIntervalUsesBaseWhenHealthyAndBusy(t *testing.T) {
	o := &Orchestrator{
		cfg: config.Config{Ingestion: config.IngestionConfig{
			PollIntervalSeconds:      60,
			IdleIntervalSeconds:      300,
			LowCreditIntervalSeconds: 900,
			LowCreditThreshold:       200,
		}},
		games: &fakeGameRepo{upcoming: []domain.Game{{EventID: "evt-1"}}},
	}
	result := oddsapi.CycleResult{Counters: oddsapi.RequestCounters{Remaining: 1000}}
	got := o.nextInterval(context.Background(), result)
	assert.Equal(t, 60*time.Second, got)
}

func TestRunClvCycleSkipsWhenDisabled(t *testing.T) {
	o := &Orchestrator{cfg: config.Config{CLV: config.CLVConfig{Enabled: false}}}
	kpi := domain.CycleKpi{}
	degraded := false
	o.runClvCycle(context.Background(), &kpi, &degraded)
	assert.False(t, degraded)
	assert.Equal(t, 0, kpi.AlertsSent)
}

func TestRunClvCycleSkipsWhenServiceUnset(t *testing.T) {
	o := &Orchestrator{
		cfg:        config.Config{CLV: config.CLVConfig{Enabled: true, JobIntervalMinutes: 15}},
		lastClvRun: time.Now().UTC(),
	}
	kpi := domain.CycleKpi{}
	degraded := false
	require.NotPanics(t, func() { o.runClvCycle(context.Background(), &kpi, &degraded) })
	assert.False(t, degraded)
}
