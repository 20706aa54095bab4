package crossmarket

import (
	"testing"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(source domain.ExchangeSource, marketID string, prob float64, ts time.Time) domain.ExchangeQuoteEvent {
	return domain.ExchangeQuoteEvent{Source: source, MarketID: marketID, Probability: prob, Timestamp: ts}
}

func TestDetectProbabilityCrossingsUpward(t *testing.T) {
	t0 := time.Now().UTC()
	quotes := []domain.ExchangeQuoteEvent{
		quote(domain.ExchangeSourceKalshi, "m1", 0.40, t0),
		quote(domain.ExchangeSourceKalshi, "m1", 0.48, t0.Add(time.Minute)),
	}
	crossings := DetectProbabilityCrossings(quotes)
	require.Len(t, crossings, 3)
	assert.InDelta(t, 0.425, crossings[0].Threshold, 1e-9)
	assert.InDelta(t, 0.450, crossings[1].Threshold, 1e-9)
	assert.InDelta(t, 0.475, crossings[2].Threshold, 1e-9)
}

func TestDetectProbabilityCrossingsDownward(t *testing.T) {
	t0 := time.Now().UTC()
	quotes := []domain.ExchangeQuoteEvent{
		quote(domain.ExchangeSourceKalshi, "m1", 0.55, t0),
		quote(domain.ExchangeSourceKalshi, "m1", 0.49, t0.Add(time.Minute)),
	}
	crossings := DetectProbabilityCrossings(quotes)
	require.Len(t, crossings, 2)
	assert.InDelta(t, 0.525, crossings[0].Threshold, 1e-9)
	assert.InDelta(t, 0.500, crossings[1].Threshold, 1e-9)
}

func TestDetectProbabilityCrossingsGroupsBySourceAndMarket(t *testing.T) {
	t0 := time.Now().UTC()
	quotes := []domain.ExchangeQuoteEvent{
		quote(domain.ExchangeSourceKalshi, "m1", 0.40, t0),
		quote(domain.ExchangeSourceKalshi, "m1", 0.48, t0.Add(time.Minute)),
		quote(domain.ExchangeSourcePolymarket, "m2", 0.40, t0),
		quote(domain.ExchangeSourcePolymarket, "m2", 0.40, t0.Add(time.Minute)),
	}
	crossings := DetectProbabilityCrossings(quotes)
	assert.Len(t, crossings, 3)
	for _, c := range crossings {
		assert.Equal(t, domain.ExchangeSourceKalshi, c.Source)
	}
}

func TestDetectProbabilityCrossingsNoMovementNoCrossings(t *testing.T) {
	t0 := time.Now().UTC()
	quotes := []domain.ExchangeQuoteEvent{
		quote(domain.ExchangeSourceKalshi, "m1", 0.40, t0),
		quote(domain.ExchangeSourceKalshi, "m1", 0.40, t0.Add(time.Minute)),
	}
	assert.Empty(t, DetectProbabilityCrossings(quotes))
}
