// Package kalshi implements the Kalshi exchange ingestion client (C2),
// grounded on the same okx.go pooled-client/ProviderHealth shape as
// internal/providers/oddsapi, authenticated via KALSHI_API_KEY bearer header.
package kalshi

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

// RawMarket is Kalshi's per-market quote shape, defensively parsed: a
// missing outcome is skipped, not the whole payload (SPEC_FULL.md §4.2).
type RawMarket struct {
	MarketID  string    `json:"market_id"`
	YesBid    *int      `json:"yes_bid"`
	YesAsk    *int      `json:"yes_ask"`
	Timestamp *time.Time `json:"ts"`
}

// Client wraps the Kalshi REST API.
type Client struct {
	baseURL string
	apiKey  string
	pool    *httpclient.ClientPool
	health  *metrics.ProviderHealth
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	poolCfg := httpclient.DefaultClientConfig()
	if cfg.TimeoutSeconds > 0 {
		poolCfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		pool:    httpclient.NewClientPool(poolCfg),
		health:  metrics.NewProviderHealth("kalshi", 60),
	}
}

// Health exposes the provider health tracker.
func (c *Client) Health() *metrics.ProviderHealth { return c.health }

// FetchMarket polls a single Kalshi market by id.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (RawMarket, error) {
	url := fmt.Sprintf("%s/trade-api/v2/markets/%s", c.baseURL, marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RawMarket{}, apperr.Wrap(apperr.KindInternal, err, "kalshi.fetch_market.build_request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.pool.Do(ctx, req)
	latency := time.Since(start)
	if err != nil {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "kalshi.fetch_market")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamTransient, fmt.Errorf("status %d", resp.StatusCode), "kalshi.fetch_market")
	}
	if resp.StatusCode >= 400 {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamPermanent, fmt.Errorf("status %d", resp.StatusCode), "kalshi.fetch_market")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "kalshi.fetch_market.read_body")
	}

	var raw RawMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		c.health.RecordError(latency)
		return RawMarket{}, apperr.Wrap(apperr.KindUpstreamPermanent, err, "kalshi.fetch_market.decode")
	}
	c.health.RecordSuccess(latency)
	return raw, nil
}

// Normalize converts a raw Kalshi market quote into append-only
// ExchangeQuoteEvent rows (YES/NO), skipping sides with no quoted price.
// Missing timestamp falls back to server time, per §4.2.
func Normalize(canonicalEventKey string, raw RawMarket, serverNow time.Time) []domain.ExchangeQuoteEvent {
	ts := serverNow
	if raw.Timestamp != nil {
		ts = *raw.Timestamp
	}
	var out []domain.ExchangeQuoteEvent
	if raw.YesBid != nil && raw.YesAsk != nil {
		mid := (float64(*raw.YesBid) + float64(*raw.YesAsk)) / 2 / 100.0
		out = append(out, domain.ExchangeQuoteEvent{
			CanonicalEventKey: canonicalEventKey,
			Source:            domain.ExchangeSourceKalshi,
			MarketID:          raw.MarketID,
			OutcomeName:       domain.ExchangeOutcomeYes,
			Probability:       mid,
			Timestamp:         ts,
		})
		no := 1.0 - mid
		out = append(out, domain.ExchangeQuoteEvent{
			CanonicalEventKey: canonicalEventKey,
			Source:            domain.ExchangeSourceKalshi,
			MarketID:          raw.MarketID,
			OutcomeName:       domain.ExchangeOutcomeNo,
			Probability:       no,
			Timestamp:         ts,
		})
	}
	return out
}
