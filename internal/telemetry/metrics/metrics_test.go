package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistryRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	assert.NotNil(t, r.CycleDuration)

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.Empty(t, mfs) // no samples recorded yet, but no panic either
}

func TestProviderHealthDegradedAfterConsecutiveErrors(t *testing.T) {
	h := NewProviderHealth("odds_api", 10)
	assert.False(t, h.Degraded())

	for i := 0; i < 3; i++ {
		h.RecordError(50 * time.Millisecond)
	}
	assert.True(t, h.Degraded())
	assert.Equal(t, 3, h.ConsecutiveErrors())

	h.RecordSuccess(20 * time.Millisecond)
	assert.Equal(t, 0, h.ConsecutiveErrors())
}

func TestProviderHealthErrorRate(t *testing.T) {
	h := NewProviderHealth("kalshi", 4)
	h.RecordSuccess(time.Millisecond)
	h.RecordError(time.Millisecond)
	h.RecordError(time.Millisecond)
	h.RecordSuccess(time.Millisecond)
	assert.InDelta(t, 0.5, h.ErrorRate(), 0.001)
}
