// Package alerts fans signals and CLV records out to partner webhooks and
// Discord, grounded on original_source/backend/app/services/webhook_delivery.py's
// `_deliver_webhook` (HMAC-SHA256 signing, 2xx/4xx/5xx retry branching with
// exponential backoff, per-delivery outcome logging) and on the teacher's
// internal/infrastructure/async/concurrency.go's WorkerPool (fixed worker
// goroutines draining a buffered channel, a WaitGroup bounding shutdown).
// The teacher's scheduler.go is a cron-interval config loader with no
// goroutine fan-out in it; concurrency.go's WorkerPool is the actual match
// and is what this package's Dispatcher is adapted from.
//
// webhook_delivery.py also carries Kalshi-skew-gate suppression logic
// (kalshi_liquidity_skew / kalshi_gate_pass / enforce-vs-shadow mode) keyed
// off Signal fields this module's domain.Signal does not have. It is
// dropped here, same as internal/signals/detector.go already drops it on
// the detection side.
package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/kv"
	"github.com/sawpanic/stratum/internal/persistence"
)

// bodyPreviewCap mirrors _deliver_webhook's response.text[:1000].
const bodyPreviewCap = 1000

// httpDoer is the seam tests substitute to avoid real network I/O.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// deliveryJob is one (target, payload) unit of work queued for a worker.
// secret is empty for Discord targets, which aren't HMAC-signed.
type deliveryJob struct {
	subscriberID string
	signalID     string
	dedupeKey    string
	url          string
	secret       string
	body         []byte
}

// webhookDedupeTTL bounds how long a (signal, subscriber) delivery is
// remembered in WebhookCache to suppress a duplicate send — e.g. if the
// orchestrator's lookback window overlaps across two ticks. SPEC_FULL.md
// doesn't pin an exact value; a day comfortably outlives any realistic
// overlap between dispatch cycles.
const webhookDedupeTTL = 24 * time.Hour

// Dispatcher owns the worker pool and HTTP client used to deliver signal and
// CLV payloads to every active subscriber.
type Dispatcher struct {
	cfg         config.WebhookConfig
	subscribers persistence.SubscriberRepository
	outcomes    persistence.WebhookDeliveryRepository
	store       *kv.Store
	cache       *kv.WebhookCache
	client      httpDoer

	jobs   chan deliveryJob
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher wires a Dispatcher and starts its worker pool immediately,
// the same eager-start shape as WorkerPool.Start being called right after
// NewWorkerPool in the teacher's usage. cache may be nil, in which case
// duplicate-delivery suppression is skipped rather than blocking dispatch.
func NewDispatcher(cfg config.WebhookConfig, subscribers persistence.SubscriberRepository, outcomes persistence.WebhookDeliveryRepository, store *kv.Store, cache *kv.WebhookCache) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	workers := cfg.WorkerConcurrency
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		cfg:         cfg,
		subscribers: subscribers,
		outcomes:    outcomes,
		store:       store,
		cache:       cache,
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		jobs:        make(chan deliveryJob, workers*4),
		ctx:         ctx,
		cancel:      cancel,
	}
	d.start(workers)
	return d
}

// alreadyDelivered consults the webhook delivery cache, degrading to "not
// delivered" on a cache miss or cache error so a flaky cache never blocks
// dispatch.
func (d *Dispatcher) alreadyDelivered(ctx context.Context, signalID, subscriberID string) bool {
	if d.cache == nil || signalID == "" {
		return false
	}
	was, err := d.cache.WasDelivered(ctx, signalID, subscriberID)
	if err != nil {
		log.Warn().Err(err).Str("signal_id", signalID).Str("subscriber_id", subscriberID).Msg("alerts: delivery cache lookup failed")
		return false
	}
	return was
}

func (d *Dispatcher) start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop closes the job queue and waits for in-flight deliveries to finish, up
// to DrainTimeoutSeconds — mirrors WorkerPool.Stop but bounded, since a
// webhook delivery can legitimately run the full retry/backoff ladder.
func (d *Dispatcher) Stop() {
	close(d.jobs)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(d.cfg.DrainTimeoutSeconds) * time.Second):
		log.Warn().Msg("alerts: drain timeout exceeded, abandoning in-flight deliveries")
		d.cancel()
		<-done
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

// enqueue is non-blocking, matching WorkerPool.Submit's select/default
// full-queue behavior rather than applying backpressure to the caller.
func (d *Dispatcher) enqueue(job deliveryJob) bool {
	select {
	case d.jobs <- job:
		return true
	case <-d.ctx.Done():
		return false
	default:
		log.Warn().Str("subscriber_id", job.subscriberID).Str("signal_id", job.signalID).Msg("alerts: delivery queue full, dropping")
		return false
	}
}

// DispatchSignals builds one signal.detected payload per eligible
// (signal, subscriber) pair and enqueues it for delivery, returning the
// number enqueued. Mirrors dispatch_signal_to_webhooks's fetch-active-
// webhooks-then-fan-out shape.
func (d *Dispatcher) DispatchSignals(ctx context.Context, signals []domain.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	subs, err := d.subscribers.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	enqueued := 0
	for _, sig := range signals {
		body, err := json.Marshal(buildSignalPayload(sig))
		if err != nil {
			log.Error().Err(err).Str("signal_id", sig.ID).Msg("alerts: signal payload marshal failed")
			continue
		}
		for _, sub := range subs {
			if !d.allowed(ctx, sub, sig.StrengthScore, sig.Market) {
				continue
			}
			if d.alreadyDelivered(ctx, sig.ID, sub.ID) {
				continue
			}
			if d.enqueue(deliveryJob{subscriberID: sub.ID, signalID: sig.ID, dedupeKey: sig.ID, url: sub.URL, secret: sub.Secret, body: body}) {
				enqueued++
			}
			if sub.DiscordWebhookURL != nil {
				discordKey := "discord:" + sig.ID
				if d.alreadyDelivered(ctx, discordKey, sub.ID) {
					continue
				}
				discordBody, err := json.Marshal(buildDiscordSignalPayload(sig))
				if err != nil {
					log.Error().Err(err).Str("signal_id", sig.ID).Msg("alerts: discord payload marshal failed")
					continue
				}
				if d.enqueue(deliveryJob{subscriberID: sub.ID, signalID: sig.ID, dedupeKey: discordKey, url: *sub.DiscordWebhookURL, body: discordBody}) {
					enqueued++
				}
			}
		}
	}
	return enqueued, nil
}

// DispatchCLV builds one signal.clv_finalized payload per eligible
// (record, subscriber) pair and enqueues it for delivery.
func (d *Dispatcher) DispatchCLV(ctx context.Context, records []domain.ClvRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	subs, err := d.subscribers.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	enqueued := 0
	for _, rec := range records {
		body, err := json.Marshal(buildClvPayload(rec))
		if err != nil {
			log.Error().Err(err).Str("signal_id", rec.SignalID).Msg("alerts: clv payload marshal failed")
			continue
		}
		for _, sub := range subs {
			// CLV finalization updates bypass strength/cooldown gating — a
			// subscriber who already received the original signal should
			// always get its outcome.
			if !marketAllowed(sub, rec.Market) {
				continue
			}
			dedupeKey := "clv:" + rec.SignalID
			if d.alreadyDelivered(ctx, dedupeKey, sub.ID) {
				continue
			}
			if d.enqueue(deliveryJob{subscriberID: sub.ID, signalID: rec.SignalID, dedupeKey: dedupeKey, url: sub.URL, secret: sub.Secret, body: body}) {
				enqueued++
			}
		}
	}
	return enqueued, nil
}

// deliver runs the retry ladder for one job and persists the final outcome,
// porting _deliver_webhook: 2xx breaks clean, 4xx breaks without retrying,
// 5xx and transport errors retry with exponential backoff, and exactly one
// outcome row is written per job regardless of how many attempts it took.
func (d *Dispatcher) deliver(job deliveryJob) {
	start := time.Now()
	maxRetries := d.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		httpStatus  *int
		bodyPreview string
		deliverErr  error
		attempts    int
	)

	headers := map[string]string{"Content-Type": "application/json", "User-Agent": "Stratum-Webhook-Engine/1.0"}
	if job.secret != "" {
		headers["X-Stratum-Signature"] = "sha256=" + sign(job.secret, job.body)
	}

attemptLoop:
	for attempts = 1; attempts <= maxRetries+1; attempts++ {
		status, body, err := d.attempt(job.url, job.body, headers)
		if err != nil {
			deliverErr = err
			log.Warn().Err(err).Str("url", job.url).Int("attempt", attempts).Msg("alerts: webhook attempt failed")
		} else {
			httpStatus = &status
			bodyPreview = truncate(body, bodyPreviewCap)
			switch {
			case status >= 200 && status < 300:
				deliverErr = nil
			case status >= 400 && status < 500:
				deliverErr = fmt.Errorf("client error: %d", status)
			default:
				deliverErr = fmt.Errorf("server error: %d", status)
			}
		}

		done := deliverErr == nil
		terminal := httpStatus != nil && *httpStatus >= 400 && *httpStatus < 500
		if done || terminal {
			break
		}
		if attempts <= maxRetries {
			delay := backoff(d.cfg.InitialDelaySeconds, d.cfg.BackoffFactor, attempts)
			select {
			case <-time.After(delay):
			case <-d.ctx.Done():
				break attemptLoop
			}
		}
	}
	if attempts > maxRetries+1 {
		attempts = maxRetries + 1
	}

	if deliverErr != nil {
		log.Error().Err(deliverErr).Str("url", job.url).Int("attempts", attempts).Msg("alerts: webhook delivery permanently failed")
	} else if d.cache != nil && job.dedupeKey != "" {
		if err := d.cache.MarkDelivered(context.Background(), job.dedupeKey, job.subscriberID, webhookDedupeTTL); err != nil {
			log.Warn().Err(err).Str("subscriber_id", job.subscriberID).Msg("alerts: failed to record delivery cache entry")
		}
	}

	outcome := domain.WebhookDeliveryOutcome{
		SubscriberID: job.subscriberID,
		SignalID:     job.signalID,
		Status:       outcomeStatus(deliverErr),
		HTTPStatus:   httpStatus,
		BodyPreview:  bodyPreview,
		DurationMS:   time.Since(start).Milliseconds(),
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	}
	if deliverErr != nil {
		msg := deliverErr.Error()
		outcome.Error = &msg
	}
	if err := d.outcomes.Insert(context.Background(), outcome); err != nil {
		log.Error().Err(err).Str("subscriber_id", job.subscriberID).Msg("alerts: failed to persist delivery outcome")
	}
}

func outcomeStatus(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}

func (d *Dispatcher) attempt(url string, body []byte, headers map[string]string) (status int, respBody string, err error) {
	// Deliberately not d.ctx: d.ctx is only cancelled when a Stop() drain
	// exceeds DrainTimeoutSeconds, and at that point a request already in
	// flight should still get a chance to finish rather than be aborted.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw), nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func backoff(initialSeconds int, factor float64, attempt int) time.Duration {
	if factor <= 0 {
		factor = 1
	}
	delay := float64(initialSeconds)
	for i := 1; i < attempt; i++ {
		delay *= factor
	}
	return time.Duration(delay * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
