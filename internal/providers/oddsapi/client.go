// Package oddsapi implements the sportsbook odds provider client (C1).
// Grounded on the teacher's internal/infrastructure/providers/okx.go client
// shape (pooled HTTP client, ProviderHealth, degraded-state wrapping) and
// its ratelimit.go x-requests-* header handling, reused verbatim since the
// odds provider exposes the identical header family.
package oddsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/httpclient"
	"github.com/sawpanic/stratum/internal/telemetry/metrics"
	"golang.org/x/time/rate"
)

// Outcome is a single outcome price/line within a bookmaker market.
type Outcome struct {
	Name  string   `json:"name"`
	Price int      `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

// BookMarket is one bookmaker's quoted market.
type BookMarket struct {
	Key        string    `json:"key"`
	LastUpdate time.Time `json:"last_update"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Bookmaker is one sportsbook's set of quoted markets for an event.
type Bookmaker struct {
	Key        string       `json:"key"`
	LastUpdate time.Time    `json:"last_update"`
	Markets    []BookMarket `json:"markets"`
}

// EventOdds is the provider's per-event response shape.
type EventOdds struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	CommenceTime time.Time   `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
}

// RequestCounters mirrors the provider's x-requests-* response headers.
type RequestCounters struct {
	Remaining int
	Used      int
	Last      int
}

// Client wraps the odds provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	regions    string
	markets    []string
	bookmakers []string
	pool       *httpclient.ClientPool
	limiter    *rate.Limiter
	health     *metrics.ProviderHealth
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	APIKey         string
	Regions        string
	Markets        []string
	Bookmakers     []string
	TimeoutSeconds int
	RateLimitRPS   float64
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	poolCfg := httpclient.DefaultClientConfig()
	if cfg.TimeoutSeconds > 0 {
		poolCfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		regions:    cfg.Regions,
		markets:    cfg.Markets,
		bookmakers: cfg.Bookmakers,
		pool:       httpclient.NewClientPool(poolCfg),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		health:     metrics.NewProviderHealth("odds_api", 60),
	}
}

// Health exposes the client's provider health tracker.
func (c *Client) Health() *metrics.ProviderHealth { return c.health }

// FetchOdds polls the provider for the given sport and returns the raw
// per-event odds list plus the latest rate-limit counters.
func (c *Client) FetchOdds(ctx context.Context, sportKey string) ([]EventOdds, RequestCounters, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, RequestCounters{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "oddsapi.fetch_odds.rate_limit")
	}

	url := fmt.Sprintf("%s/v4/sports/%s/odds?apiKey=%s&regions=%s&markets=%s&oddsFormat=american",
		c.baseURL, sportKey, c.apiKey, c.regions, joinComma(c.markets))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, RequestCounters{}, apperr.Wrap(apperr.KindInternal, err, "oddsapi.fetch_odds.build_request")
	}

	start := time.Now()
	resp, err := c.pool.Do(ctx, req)
	latency := time.Since(start)
	if err != nil {
		c.health.RecordError(latency)
		return nil, RequestCounters{}, apperr.Wrap(apperr.KindUpstreamTransient, err, "oddsapi.fetch_odds")
	}
	defer resp.Body.Close()

	counters := parseRequestCounters(resp.Header)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.health.RecordError(latency)
		return nil, counters, apperr.Wrap(apperr.KindUpstreamTransient,
			fmt.Errorf("status %d", resp.StatusCode), "oddsapi.fetch_odds")
	}
	if resp.StatusCode >= 400 {
		c.health.RecordError(latency)
		return nil, counters, apperr.Wrap(apperr.KindUpstreamPermanent,
			fmt.Errorf("status %d", resp.StatusCode), "oddsapi.fetch_odds")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.RecordError(latency)
		return nil, counters, apperr.Wrap(apperr.KindUpstreamTransient, err, "oddsapi.fetch_odds.read_body")
	}

	var events []EventOdds
	if err := json.Unmarshal(body, &events); err != nil {
		c.health.RecordError(latency)
		return nil, counters, apperr.Wrap(apperr.KindUpstreamPermanent, err, "oddsapi.fetch_odds.decode")
	}

	c.health.RecordSuccess(latency)
	return events, counters, nil
}

// parseRequestCounters reads the x-requests-{remaining,used,last} headers,
// grounded on the teacher's ratelimit.go header parsing.
func parseRequestCounters(h http.Header) RequestCounters {
	return RequestCounters{
		Remaining: atoiOr(h.Get("x-requests-remaining"), -1),
		Used:      atoiOr(h.Get("x-requests-used"), -1),
		Last:      atoiOr(h.Get("x-requests-last"), -1),
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}
