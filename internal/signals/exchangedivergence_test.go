package signals

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDetectExchangeDivergencePromotesOpposedEvent(t *testing.T) {
	now := time.Now().UTC()
	breakAt := now.Add(-5 * time.Minute)
	lag := int64(120)
	prob := 0.72
	sbVal := -150.0

	alignments := &fakeAlignmentRepo{bySportsbookID: map[string]domain.CanonicalEventAlignment{
		"evt-1": {CanonicalEventKey: "nfl-xyz", SportsbookEventID: "evt-1"},
	}}
	divergence := &fakeDivergenceRepo{unresolved: map[string][]domain.CrossMarketDivergenceEvent{
		"nfl-xyz": {
			{
				CanonicalEventKey:            "nfl-xyz",
				DivergenceType:               domain.DivergenceOpposed,
				SportsbookThresholdValue:     &sbVal,
				ExchangeProbabilityThreshold: &prob,
				SportsbookBreakTimestamp:     &breakAt,
				LagSeconds:                   &lag,
				IdempotencyKey:               "nfl-xyz:OPPOSED",
			},
		},
	}}

	cfg := config.Default()
	d := NewDetector(cfg, &fakeOddsRepo{}, &fakeConsensusRepo{}, &fakeGameRepo{}, alignments, divergence, &fakeSignalRepo{}, nil)
	sigs := d.detectExchangeDivergence(context.Background(), []string{"evt-1"}, nil, now)
	require.Len(t, sigs, 1)
	require.Equal(t, domain.SignalTypeExchangeDivergence, sigs[0].SignalType)
}

func TestDetectExchangeDivergenceIgnoresAlignedType(t *testing.T) {
	now := time.Now().UTC()
	alignments := &fakeAlignmentRepo{bySportsbookID: map[string]domain.CanonicalEventAlignment{
		"evt-1": {CanonicalEventKey: "nfl-xyz", SportsbookEventID: "evt-1"},
	}}
	divergence := &fakeDivergenceRepo{unresolved: map[string][]domain.CrossMarketDivergenceEvent{
		"nfl-xyz": {
			{CanonicalEventKey: "nfl-xyz", DivergenceType: domain.DivergenceAligned, IdempotencyKey: "nfl-xyz:ALIGNED"},
		},
	}}
	cfg := config.Default()
	d := NewDetector(cfg, &fakeOddsRepo{}, &fakeConsensusRepo{}, &fakeGameRepo{}, alignments, divergence, &fakeSignalRepo{}, nil)
	sigs := d.detectExchangeDivergence(context.Background(), []string{"evt-1"}, nil, now)
	require.Empty(t, sigs)
}

func TestDetectExchangeDivergenceSkipsStaleBreak(t *testing.T) {
	now := time.Now().UTC()
	breakAt := now.Add(-2 * time.Hour)
	alignments := &fakeAlignmentRepo{bySportsbookID: map[string]domain.CanonicalEventAlignment{
		"evt-1": {CanonicalEventKey: "nfl-xyz", SportsbookEventID: "evt-1"},
	}}
	divergence := &fakeDivergenceRepo{unresolved: map[string][]domain.CrossMarketDivergenceEvent{
		"nfl-xyz": {
			{CanonicalEventKey: "nfl-xyz", DivergenceType: domain.DivergenceExchangeLeads, SportsbookBreakTimestamp: &breakAt, IdempotencyKey: "nfl-xyz:EXCHANGE_LEADS"},
		},
	}}
	cfg := config.Default()
	d := NewDetector(cfg, &fakeOddsRepo{}, &fakeConsensusRepo{}, &fakeGameRepo{}, alignments, divergence, &fakeSignalRepo{}, nil)
	sigs := d.detectExchangeDivergence(context.Background(), []string{"evt-1"}, nil, now)
	require.Empty(t, sigs)
}

func TestDetectExchangeDivergenceDisabledReturnsNil(t *testing.T) {
	cfg := config.Default()
	cfg.ExchangeDivergence.Enabled = false
	d := NewDetector(cfg, &fakeOddsRepo{}, &fakeConsensusRepo{}, &fakeGameRepo{}, &fakeAlignmentRepo{}, &fakeDivergenceRepo{}, &fakeSignalRepo{}, nil)
	sigs := d.detectExchangeDivergence(context.Background(), []string{"evt-1"}, nil, time.Now().UTC())
	require.Empty(t, sigs)
}
