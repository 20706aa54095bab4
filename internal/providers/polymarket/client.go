// Package polymarket implements the optional Polymarket exchange client
// (C2), disabled unless ENABLE_POLYMARKET_INGEST is set (SPEC_FULL.md §4.2).
// Grounded on the same provider-client shape as internal/providers/kalshi.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/httpclient"
	"github.com/sawpanic/stratum/internal/telemetry/metrics"
)

// RawMarket is Polymarket's per-market quote shape.
type RawMarket struct {
	ConditionID string     `json:"condition_id"`
	OutcomePrices []string `json:"outcome_prices"`
	Outcomes      []string `json:"outcomes"`
	Timestamp     *time.Time `json:"timestamp"`
}

// Client wraps the Polymarket REST API.
type Client struct {
	baseURL string
	enabled bool
	pool    *httpclient.ClientPool
	health  *metrics.ProviderHealth
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Enabled        bool
	TimeoutSeconds int
}

// New builds a Client from cfg. When cfg.Enabled is false, FetchMarket
// returns immediately without making a request.
func New(cfg Config) *Client {
	poolCfg := httpclient.DefaultClientConfig()
	if cfg.TimeoutSeconds > 0 {
		poolCfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		enabled: cfg.Enabled,
		pool:    httpclient.NewClientPool(poolCfg),
		health:  metrics.NewProviderHealth("polymarket", 60),
	}
}

// Enabled reports whether Polymarket ingestion is turned on.
func (c *Client) Enabled() bool { return c.enabled }

// Health exposes the provider health tracker.
func (c *Client) Health() *metrics.ProviderHealth { return c.health }

// FetchMarket polls a single Polymarket condition by id. Returns a
// KindValidation error immediately if the client is disabled.
func (c *Client) FetchMarket(ctx context.Context, conditionID string) (RawMarket, error) {
	if !c.enabled {
		return RawMarket{}, apperr.New(apperr.KindValidation, "polymarket.fetch_market.disabled", nil)
	}

	url := fmt.Sprintf("%s/markets/%s", c.baseURL, conditionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RawMarket{}, apperr.Wrap(apperr.KindInternal, err, "polymarket.fetch_market.build_request")
	}

	start := time.Now()
	resp, err := c.pool.Do(ctx, req)
	latency := time.Since(start)
	if err != nil {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "polymarket.fetch_market")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamTransient, fmt.Errorf("status %d", resp.StatusCode), "polymarket.fetch_market")
	}
	if resp.StatusCode >= 400 {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamPermanent, fmt.Errorf("status %d", resp.StatusCode), "polymarket.fetch_market")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "polymarket.fetch_market.read_body")
	}

	var raw RawMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamPermanent, err, "polymarket.fetch_market.decode")
	}
	c.health.RecordSuccess(latency)
	return raw, nil
}

// Normalize converts a raw Polymarket quote into ExchangeQuoteEvent rows,
// skipping any outcome whose price fails to parse rather than the payload.
func Normalize(canonicalEventKey string, raw RawMarket, serverNow time.Time) []domain.ExchangeQuoteEvent {
	ts := serverNow
	if raw.Timestamp != nil {
		ts = *raw.Timestamp
	}
	var out []domain.ExchangeQuoteEvent
	for i, name := range raw.Outcomes {
		if i >= len(raw.OutcomePrices) {
			continue
		}
		var price float64
		if _, err := fmt.Sscanf(raw.OutcomePrices[i], "%f", &price); err != nil {
			continue
		}
		outcome := domain.ExchangeOutcomeNo
		if name == "Yes" || name == "YES" {
			outcome = domain.ExchangeOutcomeYes
		}
		out = append(out, domain.ExchangeQuoteEvent{
			CanonicalEventKey: canonicalEventKey,
			Source:            domain.ExchangeSourcePolymarket,
			MarketID:          raw.ConditionID,
			OutcomeName:       outcome,
			Probability:       price,
			Timestamp:         ts,
		})
	}
	return out
}
