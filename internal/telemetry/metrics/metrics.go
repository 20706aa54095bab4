// Package metrics exposes Prometheus instrumentation for the engine,
// synthesized from the teacher's two telemetry surfaces: the
// MetricsCollector/ProviderMetrics rolling-window approach in
// telemetry/providers/metrics.go, and the ProviderHealth naming used at
// okx.go's call sites. Since the teacher's own tree carries both names
// inconsistently, this package picks ProviderHealth as the public type and
// folds in the rolling-window latency tracking from the collector.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Prometheus collector the engine registers.
type Registry struct {
	CycleDuration    *prometheus.HistogramVec
	CycleErrors      *prometheus.CounterVec
	SignalsEmitted   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	WebhookDeliveries *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
}

// NewRegistry constructs and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full ingest-consensus-signal cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "orchestrator",
			Name:      "cycle_errors_total",
			Help:      "Count of cycle-level errors by kind.",
		}, []string{"kind"}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "signals",
			Name:      "emitted_total",
			Help:      "Signals emitted by type.",
		}, []string{"signal_type"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stratum",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Outbound provider request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Outbound provider errors by kind.",
		}, []string{"provider", "kind"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stratum",
			Subsystem: "provider",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"provider"}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratum",
			Subsystem: "alerts",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stratum",
			Subsystem: "alerts",
			Name:      "dispatch_queue_depth",
			Help:      "Pending alert dispatch queue depth.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		r.CycleDuration, r.CycleErrors, r.SignalsEmitted,
		r.ProviderLatency, r.ProviderErrors, r.BreakerState,
		r.WebhookDeliveries, r.QueueDepth,
	)
	return r
}

// ProviderHealth tracks a rolling window of latency/error samples for a
// single upstream provider; Degraded summarises the window. Grounded on
// ProviderMetrics's LatencyHistory/ErrorHistory sparkline buffers.
type ProviderHealth struct {
	mu            sync.Mutex
	name          string
	window        int
	latencies     []time.Duration
	errors        []bool
	consecutiveErrs int
	lastSuccess   time.Time
}

// NewProviderHealth creates a tracker for name with a rolling window size.
func NewProviderHealth(name string, window int) *ProviderHealth {
	if window <= 0 {
		window = 60
	}
	return &ProviderHealth{name: name, window: window}
}

// RecordSuccess appends a successful-call sample.
func (p *ProviderHealth) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(latency, false)
	p.consecutiveErrs = 0
	p.lastSuccess = time.Now()
}

// RecordError appends a failed-call sample.
func (p *ProviderHealth) RecordError(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(latency, true)
	p.consecutiveErrs++
}

func (p *ProviderHealth) push(latency time.Duration, isErr bool) {
	p.latencies = append(p.latencies, latency)
	p.errors = append(p.errors, isErr)
	if len(p.latencies) > p.window {
		p.latencies = p.latencies[len(p.latencies)-p.window:]
		p.errors = p.errors[len(p.errors)-p.window:]
	}
}

// ErrorRate returns the fraction of samples in the window that errored.
func (p *ProviderHealth) ErrorRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errors) == 0 {
		return 0
	}
	n := 0
	for _, e := range p.errors {
		if e {
			n++
		}
	}
	return float64(n) / float64(len(p.errors))
}

// Degraded reports whether the provider should be treated as degraded:
// three or more consecutive errors, or an error rate above 50% in the
// window. Grounded on the teacher scheduler's degraded-mode trigger.
func (p *ProviderHealth) Degraded() bool {
	p.mu.Lock()
	consecutive := p.consecutiveErrs
	p.mu.Unlock()
	return consecutive >= 3 || p.ErrorRate() > 0.5
}

// ConsecutiveErrors returns the current consecutive-error streak.
func (p *ProviderHealth) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveErrs
}

// LastSuccess returns the time of the most recent successful call.
func (p *ProviderHealth) LastSuccess() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSuccess
}
