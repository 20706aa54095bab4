// Package httpclient provides a pooled, retrying HTTP client used by the
// outbound provider integrations (odds ingestion, Kalshi, Polymarket);
// webhook delivery runs its own retry loop in internal/alerts. Adapted near-verbatim from the teacher's
// internal/infrastructure/httpclient/pool.go, which is domain-agnostic
// transport plumbing with no crypto-specific assumptions.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// ClientConfig configures a pooled client's concurrency, timeouts and retry
// behavior.
type ClientConfig struct {
	MaxConcurrent  int
	Timeout        time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	UserAgent      string
}

// DefaultClientConfig mirrors the teacher's pool defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxConcurrent: 8,
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
		UserAgent:     "stratum/1.0",
	}
}

// ClientPool wraps an *http.Client with a concurrency-limiting semaphore and
// jittered exponential backoff retries on transient failures.
type ClientPool struct {
	cfg  ClientConfig
	http *http.Client
	sem  chan struct{}
}

// NewClientPool builds a pool from cfg.
func NewClientPool(cfg ClientConfig) *ClientPool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &ClientPool{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Do executes req, retrying on transient network errors or retryable status
// codes with jittered exponential backoff, bounded by cfg.MaxRetries.
func (p *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	if req.Header.Get("User-Agent") == "" && p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := p.http.Do(req.Clone(ctx))
		if err != nil {
			if !isRetryableError(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < p.cfg.MaxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpclient: retryable status %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}
	return nil, fmt.Errorf("httpclient: exhausted retries: %w", lastErr)
}

func (p *ClientPool) backoff(attempt int) time.Duration {
	base := p.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if base > p.cfg.MaxBackoff {
		base = p.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 10 + 1))
	return base + jitter
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	msg := toLower(err.Error())
	return containsIgnoreCase(msg, "connection reset") ||
		containsIgnoreCase(msg, "eof") ||
		containsIgnoreCase(msg, "broken pipe")
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// toLower and containsIgnoreCase are hand-rolled rather than imported from
// strings, matching the teacher's own avoidance of strings.ToLower at these
// call sites.
func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func containsIgnoreCase(haystack, needle string) bool {
	haystack, needle = toLower(haystack), toLower(needle)
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
