// Package breaker wraps sony/gobreaker per-provider circuit breakers and
// saves a snapshot of their state to Redis after every call. When a new
// process first uses a breaker, an unexpired persisted OPEN snapshot is
// logged but not applied: the new breaker starts closed. The teacher's own
// breakers (see internal/providers okx.go's retry/backoff wiring) live only
// in memory.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// StateStore is the subset of internal/kv.Store the manager needs, kept as
// an interface so tests can fake it without a live Redis.
type StateStore interface {
	SaveBreakerState(ctx context.Context, name string, state []byte, ttl time.Duration) error
	LoadBreakerState(ctx context.Context, name string) ([]byte, error)
}

type persistedState struct {
	Counts    gobreaker.Counts `json:"counts"`
	State     string           `json:"state"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Manager owns one named gobreaker.CircuitBreaker per provider.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	store    StateStore
	settings func(name string) gobreaker.Settings
}

// NewManager builds a Manager. settingsFn lets each provider tune its own
// failure threshold and open duration; pass nil for the engine-wide default.
func NewManager(store StateStore, settingsFn func(name string) gobreaker.Settings) *Manager {
	if settingsFn == nil {
		settingsFn = DefaultSettings
	}
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		store:    store,
		settings: settingsFn,
	}
}

// DefaultSettings trips after 5 consecutive failures in a 60s window and
// stays open for 120s, matching the teacher's circuit_failures_to_open /
// circuit_open_seconds ingestion config defaults.
func DefaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     120 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
}

// Get returns (creating if needed) the breaker for name. When it creates one
// and the store holds an unexpired OPEN snapshot for name, it logs a warning;
// the snapshot's state and counts are not applied, so the breaker starts closed.
func (m *Manager) Get(ctx context.Context, name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(m.settings(name))
	m.breakers[name] = b

	if m.store != nil {
		if raw, err := m.store.LoadBreakerState(ctx, name); err == nil && raw != nil {
			var ps persistedState
			if err := json.Unmarshal(raw, &ps); err == nil && time.Now().Before(ps.ExpiresAt) && ps.State == gobreaker.StateOpen.String() {
				log.Warn().Str("provider", name).Msg("persisted open circuit breaker state found in redis; new breaker starts closed")
			}
		}
	}
	return b
}

// Execute runs fn through the named breaker, persisting state afterward.
func (m *Manager) Execute(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	b := m.Get(ctx, name)
	result, err := b.Execute(fn)
	m.persist(ctx, name, b)
	if err != nil {
		return nil, fmt.Errorf("breaker: %s: %w", name, err)
	}
	return result, nil
}

func (m *Manager) persist(ctx context.Context, name string, b *gobreaker.CircuitBreaker) {
	if m.store == nil {
		return
	}
	counts := b.Counts()
	ps := persistedState{
		Counts:    counts,
		State:     b.State().String(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	raw, err := json.Marshal(ps)
	if err != nil {
		return
	}
	if err := m.store.SaveBreakerState(ctx, name, raw, 10*time.Minute); err != nil {
		log.Debug().Err(err).Str("provider", name).Msg("failed to persist breaker state")
	}
}

// State reports the current breaker state for name without executing
// anything, used by the orchestrator to skip a cycle while the odds
// breaker is open.
func (m *Manager) State(ctx context.Context, name string) gobreaker.State {
	return m.Get(ctx, name).State()
}
