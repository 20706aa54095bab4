package config

import (
	"fmt"
	"os"

	yaml2 "gopkg.in/yaml.v2"
)

// ThresholdGuards is an optional secondary document for the scoring
// thresholds used by internal/signals, kept on yaml.v2 the way the teacher's
// internal/config/guards.go never migrated off it even after the rest of the
// config tree moved to v3. Operators who want to tune signal thresholds
// without touching the main config file point SIGNAL_GUARDS_PATH at one of
// these.
type ThresholdGuards struct {
	Dislocation DislocationGuards `yaml:"dislocation"`
	Steam       SteamGuards       `yaml:"steam"`
}

type DislocationGuards struct {
	SpreadBaseline float64 `yaml:"spread_baseline"`
	TotalBaseline  float64 `yaml:"total_baseline"`
	MLBaseline     float64 `yaml:"ml_baseline"`
}

type SteamGuards struct {
	MagnitudeCapSpread float64 `yaml:"magnitude_cap_spread"`
	MagnitudeCapTotal  float64 `yaml:"magnitude_cap_total"`
}

// DefaultThresholdGuards mirrors the constants signals.py hardcodes.
func DefaultThresholdGuards() ThresholdGuards {
	return ThresholdGuards{
		Dislocation: DislocationGuards{
			SpreadBaseline: 1.0,
			TotalBaseline:  1.5,
			MLBaseline:     0.04,
		},
		Steam: SteamGuards{
			MagnitudeCapSpread: 2.5,
			MagnitudeCapTotal:  5.0,
		},
	}
}

// LoadThresholdGuards reads a guards document, falling back to defaults when
// path is empty.
func LoadThresholdGuards(path string) (ThresholdGuards, error) {
	g := DefaultThresholdGuards()
	if path == "" {
		return g, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ThresholdGuards{}, fmt.Errorf("config: read guards %s: %w", path, err)
	}
	if err := yaml2.Unmarshal(data, &g); err != nil {
		return ThresholdGuards{}, fmt.Errorf("config: parse guards %s: %w", path, err)
	}
	return g, nil
}
