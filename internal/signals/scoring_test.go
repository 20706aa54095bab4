package signals

import (
	"testing"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestComputeStrengthScoreWithoutTiming(t *testing.T) {
	score, components := ComputeStrengthScore(1.0, 5.0, 10, 3, nil)
	assert.GreaterOrEqual(t, score, 1)
	assert.LessOrEqual(t, score, 100)
	assert.Contains(t, components, "magnitude_component")
	assert.NotContains(t, components, "timing_component")
}

func TestComputeStrengthScoreWithTiming(t *testing.T) {
	mtt := 120.0
	score, components := ComputeStrengthScore(1.0, 5.0, 10, 3, &mtt)
	assert.GreaterOrEqual(t, score, 1)
	assert.LessOrEqual(t, score, 100)
	assert.Contains(t, components, "timing_component")
}

func TestComputeStrengthScoreClampsToMax(t *testing.T) {
	score, _ := ComputeStrengthScore(100.0, 0.01, 10, 50, nil)
	assert.Equal(t, 100, score)
}

func TestTimingComponentPreTipDecaysToward4(t *testing.T) {
	assert.InDelta(t, 20.0, TimingComponent(240), 1e-9)
	assert.InDelta(t, 4.0, TimingComponent(0), 1e-9)
}

func TestTimingComponentPostTipDecaysToMinus8(t *testing.T) {
	assert.InDelta(t, 4.0, TimingComponent(-0.0001), 0.01)
	assert.InDelta(t, -8.0, TimingComponent(-180), 1e-9)
}

func TestComputeStrengthDislocationHigherDeltaScoresHigher(t *testing.T) {
	low := ComputeStrengthDislocation(1.5, nil, 5, domain.MarketSpreads, 1.5, 2.0, 0.05)
	high := ComputeStrengthDislocation(4.5, nil, 5, domain.MarketSpreads, 1.5, 2.0, 0.05)
	assert.Greater(t, high, low)
}

func TestComputeStrengthSteamRewardsMoreBooks(t *testing.T) {
	fewer := ComputeStrengthSteam(1.0, 0.2, 4, domain.MarketSpreads, 0.5, 5, 4)
	more := ComputeStrengthSteam(1.0, 0.2, 8, domain.MarketSpreads, 0.5, 5, 4)
	assert.GreaterOrEqual(t, more, fewer)
}

func TestComputeStrengthExchangeDivergenceOpposedScoresHigherThanUnconfirmed(t *testing.T) {
	lag := int64(10)
	prob := 0.7
	opposed := ComputeStrengthExchangeDivergence(domain.DivergenceOpposed, &lag, &prob)
	other := ComputeStrengthExchangeDivergence(domain.DivergenceType("UNKNOWN"), &lag, &prob)
	assert.Greater(t, opposed, other)
}

func TestDirection(t *testing.T) {
	assert.Equal(t, domain.SignalDirectionUp, Direction(1.0, 2.0))
	assert.Equal(t, domain.SignalDirectionDown, Direction(2.0, 1.0))
	assert.Equal(t, domain.SignalDirectionFlat, Direction(1.0, 1.0))
}
