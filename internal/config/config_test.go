package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CONSENSUS_MIN_BOOKS", "7")
	t.Setenv("STEAM_ENABLED", "false")
	t.Setenv("DISLOCATION_SPREAD_LINE_DELTA", "2.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Consensus.MinBooks)
	assert.False(t, cfg.Steam.Enabled)
	assert.Equal(t, 2.25, cfg.Dislocation.SpreadLineDelta)
}

func TestLoadFromYAMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("consensus:\n  min_books: 9\n  min_markets: 2\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Consensus.MinBooks)
	assert.Equal(t, 2, cfg.Consensus.MinMarkets)
}

func TestValidateRejectsBadConsensusThresholds(t *testing.T) {
	cfg := Default()
	cfg.Consensus.MinBooks = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingAPIKeyInProduction(t *testing.T) {
	cfg := Default()
	cfg.Ambient.Production = true
	cfg.Ambient.PGDSN = "postgres://x"
	assert.Error(t, cfg.Validate())
}

func TestDefaultThresholdGuardsFallback(t *testing.T) {
	g, err := LoadThresholdGuards("")
	require.NoError(t, err)
	assert.Equal(t, 1.0, g.Dislocation.SpreadBaseline)
}
