// Package config loads the engine's configuration. The top-level document is
// decoded with yaml.v3, mirroring the teacher's move to v3 for its newer
// config surfaces; the threshold-guard style sub-loader (ThresholdGuards)
// keeps yaml.v2 the way internal/config/guards.go does, an organic split
// carried over rather than smoothed away.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml3 "gopkg.in/yaml.v3"
)

// Config aggregates every sub-config named in SPEC_FULL.md §6.
type Config struct {
	Ingestion          IngestionConfig          `yaml:"ingestion"`
	Consensus          ConsensusConfig          `yaml:"consensus"`
	Dislocation        DislocationConfig        `yaml:"dislocation"`
	Steam              SteamConfig              `yaml:"steam"`
	CLV                CLVConfig                `yaml:"clv"`
	Retention          RetentionConfig          `yaml:"retention"`
	Exchange           ExchangeConfig           `yaml:"exchange"`
	ExchangeDivergence ExchangeDivergenceConfig `yaml:"exchange_divergence"`
	Webhook            WebhookConfig            `yaml:"webhook"`
	Public             PublicSurfaceConfig      `yaml:"public"`
	Ambient            AmbientConfig            `yaml:"ambient"`
}

type IngestionConfig struct {
	PollIntervalSeconds    int      `yaml:"poll_interval_seconds"`
	IdleIntervalSeconds    int      `yaml:"idle_interval_seconds"`
	LowCreditIntervalSeconds int    `yaml:"low_credit_interval_seconds"`
	LowCreditThreshold     int      `yaml:"low_credit_threshold"`
	TargetDailyCredits     int      `yaml:"target_daily_credits"`
	Bookmakers             []string `yaml:"bookmakers"`
	Regions                string   `yaml:"regions"`
	Markets                []string `yaml:"markets"`
	RetryAttempts          int      `yaml:"retry_attempts"`
	RetryBackoffSeconds    int      `yaml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int      `yaml:"retry_backoff_max_seconds"`
	CircuitFailuresToOpen  int      `yaml:"circuit_failures_to_open"`
	CircuitOpenSeconds     int      `yaml:"circuit_open_seconds"`
	APIKey                 string   `yaml:"-"`
	BaseURL                string   `yaml:"base_url"`
	TimeoutSeconds         int      `yaml:"timeout_seconds"`
	KeyNumbersSpreads      []float64 `yaml:"key_numbers_spreads"`
	SportKeys              []string `yaml:"sport_keys"`
}

type ConsensusConfig struct {
	LookbackMinutes int      `yaml:"lookback_minutes"`
	MinBooks        int      `yaml:"min_books"`
	MinMarkets      int      `yaml:"min_markets"`
	Markets         []string `yaml:"markets"`
}

type DislocationConfig struct {
	Enabled              bool    `yaml:"enabled"`
	LookbackMinutes      int     `yaml:"lookback_minutes"`
	MinBooks             int     `yaml:"min_books"`
	SpreadLineDelta      float64 `yaml:"spread_line_delta"`
	TotalLineDelta       float64 `yaml:"total_line_delta"`
	MLImpliedProbDelta   float64 `yaml:"ml_implied_prob_delta"`
	CooldownSeconds      int     `yaml:"cooldown_seconds"`
	MaxSignalsPerEvent   int     `yaml:"max_signals_per_event"`
}

type SteamConfig struct {
	Enabled            bool    `yaml:"enabled"`
	WindowMinutes      int     `yaml:"window_minutes"`
	MinBooks           int     `yaml:"min_books"`
	MinMoveSpread      float64 `yaml:"min_move_spread"`
	MinMoveTotal       float64 `yaml:"min_move_total"`
	CooldownSeconds    int     `yaml:"cooldown_seconds"`
	MaxSignalsPerEvent int     `yaml:"max_signals_per_event"`
}

type CLVConfig struct {
	Enabled               bool   `yaml:"enabled"`
	MinutesAfterCommence  int    `yaml:"minutes_after_commence"`
	LookbackDays          int    `yaml:"lookback_days"`
	RetentionDays         int    `yaml:"retention_days"`
	JobIntervalMinutes    int    `yaml:"job_interval_minutes"`
	CloseCutoff           string `yaml:"close_cutoff"`
	BackfillLookbackHours int    `yaml:"backfill_lookback_hours"`
	BackfillMaxGames      int    `yaml:"backfill_max_games"`
}

type RetentionConfig struct {
	SnapshotRetentionHours        int `yaml:"snapshot_retention_hours"`
	SignalRetentionDays           int `yaml:"signal_retention_days"`
	ConsensusRetentionDays        int `yaml:"consensus_retention_days"`
	ClosingConsensusRetentionDays int `yaml:"closing_consensus_retention_days"`
	KPIRetentionDays              int `yaml:"kpi_retention_days"`
	SweepIntervalMinutes          int `yaml:"sweep_interval_minutes"`
}

type ExchangeConfig struct {
	KalshiBaseURL            string `yaml:"kalshi_base_url"`
	KalshiAPIKey             string `yaml:"-"`
	KalshiTimeoutSeconds     int    `yaml:"kalshi_timeout_seconds"`
	KalshiMaxPerCycle        int    `yaml:"kalshi_max_per_cycle"`
	PolymarketEnabled        bool   `yaml:"polymarket_enabled"`
	PolymarketBaseURL        string `yaml:"polymarket_base_url"`
	PolymarketTimeoutSeconds int    `yaml:"polymarket_timeout_seconds"`
	PolymarketMaxPerCycle    int    `yaml:"polymarket_max_per_cycle"`
	SportsdataioBaseURL      string `yaml:"sportsdataio_base_url"`
	SportsdataioAPIKey       string `yaml:"-"`
	SportsdataioTimeoutSeconds int  `yaml:"sportsdataio_timeout_seconds"`
}

type ExchangeDivergenceConfig struct {
	Enabled            bool `yaml:"enabled"`
	LookbackMinutes    int  `yaml:"lookback_minutes"`
	CooldownSeconds    int  `yaml:"cooldown_seconds"`
	MaxSignalsPerEvent int  `yaml:"max_signals_per_event"`
	AlignmentWindowMinutes int `yaml:"alignment_window_minutes"`
	FreshnessMinutes   int  `yaml:"freshness_minutes"`
	ReversionMinutes   int  `yaml:"reversion_minutes"`
}

type WebhookConfig struct {
	MaxRetries          int `yaml:"max_retries"`
	InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	BackoffFactor       float64 `yaml:"backoff_factor"`
	TimeoutSeconds      int `yaml:"timeout_seconds"`
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
	WorkerConcurrency   int `yaml:"worker_concurrency"`
}

type PublicSurfaceConfig struct {
	StructuralCoreMode    bool `yaml:"structural_core_mode"`
	FreeDelayMinutes      int  `yaml:"free_delay_minutes"`
	TimeBucketExposeInplay bool `yaml:"time_bucket_expose_inplay"`
}

type AmbientConfig struct {
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	HTTPListenAddr    string `yaml:"http_listen_addr"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
	PGDSN             string `yaml:"-"`
	PGMaxOpenConns    int    `yaml:"pg_max_open_conns"`
	PGMaxIdleConns    int    `yaml:"pg_max_idle_conns"`
	PGConnMaxLifetime time.Duration `yaml:"pg_conn_max_lifetime"`
	PGQueryTimeout    time.Duration `yaml:"pg_query_timeout"`
	RedisAddr         string `yaml:"-"`
	Production        bool   `yaml:"production"`
}

// Default returns the documented defaults from SPEC_FULL.md §6.
func Default() Config {
	return Config{
		Ingestion: IngestionConfig{
			PollIntervalSeconds:      60,
			IdleIntervalSeconds:      300,
			LowCreditIntervalSeconds: 900,
			LowCreditThreshold:       200,
			TargetDailyCredits:       1200,
			Regions:                  "us",
			Markets:                  []string{"spreads", "totals", "h2h"},
			RetryAttempts:            3,
			RetryBackoffSeconds:      1,
			RetryBackoffMaxSeconds:   15,
			CircuitFailuresToOpen:    5,
			CircuitOpenSeconds:       120,
			TimeoutSeconds:           10,
			KeyNumbersSpreads:        []float64{3, 7},
			SportKeys:                []string{"americanfootball_nfl", "basketball_nba", "baseball_mlb", "icehockey_nhl"},
		},
		Consensus: ConsensusConfig{
			LookbackMinutes: 10,
			MinBooks:        5,
			MinMarkets:      1,
			Markets:         []string{"spreads", "totals", "h2h"},
		},
		Dislocation: DislocationConfig{
			Enabled:            true,
			LookbackMinutes:    10,
			MinBooks:           5,
			SpreadLineDelta:    1.5,
			TotalLineDelta:     2.0,
			MLImpliedProbDelta: 0.05,
			CooldownSeconds:    600,
			MaxSignalsPerEvent: 3,
		},
		Steam: SteamConfig{
			Enabled:            true,
			WindowMinutes:      5,
			MinBooks:           4,
			MinMoveSpread:      0.5,
			MinMoveTotal:       1.0,
			CooldownSeconds:    600,
			MaxSignalsPerEvent: 2,
		},
		CLV: CLVConfig{
			Enabled:               true,
			MinutesAfterCommence:  0,
			LookbackDays:          3,
			RetentionDays:         90,
			JobIntervalMinutes:    15,
			CloseCutoff:           "TIPOFF",
			BackfillLookbackHours: 48,
			BackfillMaxGames:      50,
		},
		Retention: RetentionConfig{
			SnapshotRetentionHours:        48,
			SignalRetentionDays:           30,
			ConsensusRetentionDays:        14,
			ClosingConsensusRetentionDays: 90,
			KPIRetentionDays:              30,
			SweepIntervalMinutes:          60,
		},
		Exchange: ExchangeConfig{
			KalshiTimeoutSeconds:       10,
			KalshiMaxPerCycle:          10,
			PolymarketEnabled:          false,
			PolymarketTimeoutSeconds:   10,
			PolymarketMaxPerCycle:      10,
			SportsdataioTimeoutSeconds: 10,
		},
		ExchangeDivergence: ExchangeDivergenceConfig{
			Enabled:                true,
			LookbackMinutes:        30,
			CooldownSeconds:        900,
			MaxSignalsPerEvent:     2,
			AlignmentWindowMinutes: 10,
			FreshnessMinutes:       30,
			ReversionMinutes:       30,
		},
		Webhook: WebhookConfig{
			MaxRetries:          3,
			InitialDelaySeconds: 2,
			BackoffFactor:       2.0,
			TimeoutSeconds:      10,
			DrainTimeoutSeconds: 15,
			WorkerConcurrency:   8,
		},
		Public: PublicSurfaceConfig{
			StructuralCoreMode:     true,
			FreeDelayMinutes:       10,
			TimeBucketExposeInplay: false,
		},
		Ambient: AmbientConfig{
			LogLevel:          "info",
			LogFormat:         "console",
			HTTPListenAddr:    ":8080",
			MetricsListenAddr: ":9090",
			PGMaxOpenConns:    10,
			PGMaxIdleConns:    5,
			PGConnMaxLifetime: 30 * time.Minute,
			PGQueryTimeout:    30 * time.Second,
		},
	}
}

// Load decodes YAML from path (if non-empty) over the defaults, then applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml3.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt(&cfg.Ingestion.PollIntervalSeconds, "ODDS_POLL_INTERVAL_SECONDS")
	envInt(&cfg.Ingestion.IdleIntervalSeconds, "ODDS_POLL_INTERVAL_SECONDS_IDLE")
	envInt(&cfg.Ingestion.LowCreditIntervalSeconds, "ODDS_POLL_INTERVAL_SECONDS_LOW_CREDIT")
	envInt(&cfg.Ingestion.LowCreditThreshold, "ODDS_API_LOW_CREDIT_THRESHOLD")
	envInt(&cfg.Ingestion.TargetDailyCredits, "ODDS_API_TARGET_DAILY_CREDITS")
	envStr(&cfg.Ingestion.Regions, "ODDS_API_REGIONS")
	envStrList(&cfg.Ingestion.Bookmakers, "ODDS_API_BOOKMAKERS")
	envStrList(&cfg.Ingestion.Markets, "ODDS_API_MARKETS")
	envStr(&cfg.Ingestion.APIKey, "ODDS_API_KEY")
	envStr(&cfg.Ingestion.BaseURL, "ODDS_API_BASE_URL")
	envStrList(&cfg.Ingestion.SportKeys, "ODDS_API_SPORT_KEYS")

	envInt(&cfg.Consensus.LookbackMinutes, "CONSENSUS_LOOKBACK_MINUTES")
	envInt(&cfg.Consensus.MinBooks, "CONSENSUS_MIN_BOOKS")
	envInt(&cfg.Consensus.MinMarkets, "CONSENSUS_MIN_MARKETS")
	envStrList(&cfg.Consensus.Markets, "CONSENSUS_MARKETS")

	envBool(&cfg.Dislocation.Enabled, "DISLOCATION_ENABLED")
	envInt(&cfg.Dislocation.LookbackMinutes, "DISLOCATION_LOOKBACK_MINUTES")
	envInt(&cfg.Dislocation.MinBooks, "DISLOCATION_MIN_BOOKS")
	envFloat(&cfg.Dislocation.SpreadLineDelta, "DISLOCATION_SPREAD_LINE_DELTA")
	envFloat(&cfg.Dislocation.TotalLineDelta, "DISLOCATION_TOTAL_LINE_DELTA")
	envFloat(&cfg.Dislocation.MLImpliedProbDelta, "DISLOCATION_ML_IMPLIED_PROB_DELTA")
	envInt(&cfg.Dislocation.CooldownSeconds, "DISLOCATION_COOLDOWN_SECONDS")
	envInt(&cfg.Dislocation.MaxSignalsPerEvent, "DISLOCATION_MAX_SIGNALS_PER_EVENT")

	envBool(&cfg.Steam.Enabled, "STEAM_ENABLED")
	envInt(&cfg.Steam.WindowMinutes, "STEAM_WINDOW_MINUTES")
	envInt(&cfg.Steam.MinBooks, "STEAM_MIN_BOOKS")
	envFloat(&cfg.Steam.MinMoveSpread, "STEAM_MIN_MOVE_SPREAD")
	envFloat(&cfg.Steam.MinMoveTotal, "STEAM_MIN_MOVE_TOTAL")
	envInt(&cfg.Steam.CooldownSeconds, "STEAM_COOLDOWN_SECONDS")
	envInt(&cfg.Steam.MaxSignalsPerEvent, "STEAM_MAX_SIGNALS_PER_EVENT")

	envBool(&cfg.CLV.Enabled, "CLV_ENABLED")
	envInt(&cfg.CLV.MinutesAfterCommence, "CLV_MINUTES_AFTER_COMMENCE")
	envInt(&cfg.CLV.LookbackDays, "CLV_LOOKBACK_DAYS")
	envInt(&cfg.CLV.RetentionDays, "CLV_RETENTION_DAYS")
	envInt(&cfg.CLV.JobIntervalMinutes, "CLV_JOB_INTERVAL_MINUTES")
	envStr(&cfg.CLV.CloseCutoff, "CLV_CLOSE_CUTOFF")

	envInt(&cfg.Retention.SnapshotRetentionHours, "SNAPSHOT_RETENTION_HOURS")
	envInt(&cfg.Retention.SignalRetentionDays, "SIGNAL_RETENTION_DAYS")
	envInt(&cfg.Retention.ConsensusRetentionDays, "CONSENSUS_RETENTION_DAYS")
	envInt(&cfg.Retention.KPIRetentionDays, "KPI_RETENTION_DAYS")
	envInt(&cfg.Retention.SweepIntervalMinutes, "RETENTION_SWEEP_INTERVAL_MINUTES")

	envStr(&cfg.Exchange.KalshiBaseURL, "KALSHI_BASE_URL")
	envStr(&cfg.Exchange.KalshiAPIKey, "KALSHI_API_KEY")
	envInt(&cfg.Exchange.KalshiTimeoutSeconds, "KALSHI_TIMEOUT_SECONDS")
	envInt(&cfg.Exchange.KalshiMaxPerCycle, "KALSHI_MAX_PER_CYCLE")
	envBool(&cfg.Exchange.PolymarketEnabled, "ENABLE_POLYMARKET_INGEST")
	envStr(&cfg.Exchange.PolymarketBaseURL, "POLYMARKET_BASE_URL")
	envInt(&cfg.Exchange.PolymarketTimeoutSeconds, "POLYMARKET_TIMEOUT_SECONDS")
	envInt(&cfg.Exchange.PolymarketMaxPerCycle, "POLYMARKET_MAX_PER_CYCLE")

	envBool(&cfg.ExchangeDivergence.Enabled, "EXCHANGE_DIVERGENCE_ENABLED")
	envInt(&cfg.ExchangeDivergence.LookbackMinutes, "EXCHANGE_DIVERGENCE_LOOKBACK_MINUTES")
	envInt(&cfg.ExchangeDivergence.CooldownSeconds, "EXCHANGE_DIVERGENCE_COOLDOWN_SECONDS")
	envInt(&cfg.ExchangeDivergence.MaxSignalsPerEvent, "EXCHANGE_DIVERGENCE_MAX_SIGNALS_PER_EVENT")

	envInt(&cfg.Webhook.MaxRetries, "WEBHOOK_MAX_RETRIES")
	envInt(&cfg.Webhook.InitialDelaySeconds, "WEBHOOK_INITIAL_DELAY_SECONDS")
	envFloat(&cfg.Webhook.BackoffFactor, "WEBHOOK_BACKOFF_FACTOR")
	envInt(&cfg.Webhook.TimeoutSeconds, "WEBHOOK_TIMEOUT_SECONDS")
	envInt(&cfg.Webhook.DrainTimeoutSeconds, "WEBHOOK_DRAIN_TIMEOUT")

	envBool(&cfg.Public.StructuralCoreMode, "PUBLIC_STRUCTURAL_CORE_MODE")
	envInt(&cfg.Public.FreeDelayMinutes, "FREE_DELAY_MINUTES")
	envBool(&cfg.Public.TimeBucketExposeInplay, "TIME_BUCKET_EXPOSE_INPLAY")

	envStr(&cfg.Ambient.LogLevel, "LOG_LEVEL")
	envStr(&cfg.Ambient.LogFormat, "LOG_FORMAT")
	envStr(&cfg.Ambient.HTTPListenAddr, "HTTP_LISTEN_ADDR")
	envStr(&cfg.Ambient.MetricsListenAddr, "METRICS_LISTEN_ADDR")
	envStr(&cfg.Ambient.PGDSN, "PG_DSN")
	envInt(&cfg.Ambient.PGMaxOpenConns, "PG_MAX_OPEN_CONNS")
	envStr(&cfg.Ambient.RedisAddr, "REDIS_ADDR")
	envBool(&cfg.Ambient.Production, "PRODUCTION")
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envStrList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Split(v, ",")
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate raises ConfigInvalid-kind failures; called once at startup only
// (SPEC_FULL.md §7: "ConfigInvalid: startup-only").
func (c Config) Validate() error {
	if c.Consensus.MinBooks < 1 {
		return fmt.Errorf("config: consensus.min_books must be >= 1")
	}
	if c.Consensus.MinMarkets < 1 {
		return fmt.Errorf("config: consensus.min_markets must be >= 1")
	}
	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("config: webhook.max_retries must be >= 0")
	}
	if c.Webhook.BackoffFactor < 1 {
		return fmt.Errorf("config: webhook.backoff_factor must be >= 1")
	}
	if c.Ambient.Production {
		if c.Ingestion.APIKey == "" || c.Ingestion.APIKey == "changeme" {
			return fmt.Errorf("config: ODDS_API_KEY must be set to a non-default value in production")
		}
		if c.Ambient.PGDSN == "" {
			return fmt.Errorf("config: PG_DSN is required in production")
		}
	}
	return nil
}
