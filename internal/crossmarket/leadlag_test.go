package crossmarket

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLeadLagInsertsNearestPairing(t *testing.T) {
	t0 := time.Now().UTC()
	alignments := &fakeAlignmentRepo{byCanonicalKey: map[string]domain.CanonicalEventAlignment{
		"evt-canon": {CanonicalEventKey: "evt-canon", SportsbookEventID: "evt-1"},
	}}
	structural := &fakeStructuralEventRepo{byEventID: map[string][]domain.StructuralEvent{
		"evt-1": {
			{EventID: "evt-1", ThresholdValue: -3.0, ThresholdType: domain.ThresholdTypeInteger, ConfirmationTimestamp: t0},
		},
	}}
	quotes := &fakeExchangeQuoteRepo{byCanonicalKey: map[string][]domain.ExchangeQuoteEvent{
		"evt-canon": {
			quote(domain.ExchangeSourceKalshi, "m1", 0.40, t0.Add(-6*time.Minute)),
			quote(domain.ExchangeSourceKalshi, "m1", 0.48, t0.Add(-4*time.Minute)),
		},
	}}
	leadlag := &fakeLeadLagRepo{}

	svc := NewLeadLagService(alignments, structural, quotes, leadlag)
	n, err := svc.ComputeLeadLag(context.Background(), "evt-canon")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, leadlag.inserted, 1)
	assert.Equal(t, domain.LeadSourceExchange, leadlag.inserted[0].LeadSource)
}

func TestComputeLeadLagNoAlignmentReturnsZero(t *testing.T) {
	svc := NewLeadLagService(&fakeAlignmentRepo{}, &fakeStructuralEventRepo{}, &fakeExchangeQuoteRepo{}, &fakeLeadLagRepo{})
	n, err := svc.ComputeLeadLag(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFindNearestCrossingRespectsWindow(t *testing.T) {
	t0 := time.Now().UTC()
	crossings := []ProbabilityCrossing{
		{Timestamp: t0.Add(-20 * time.Minute), Threshold: 0.5},
		{Timestamp: t0.Add(-3 * time.Minute), Threshold: 0.6},
	}
	best := findNearestCrossing(t0, crossings)
	require.NotNil(t, best)
	assert.InDelta(t, 0.6, best.Threshold, 1e-9)
}

func TestFindNearestCrossingNoneWithinWindow(t *testing.T) {
	t0 := time.Now().UTC()
	crossings := []ProbabilityCrossing{
		{Timestamp: t0.Add(-20 * time.Minute), Threshold: 0.5},
	}
	assert.Nil(t, findNearestCrossing(t0, crossings))
}
