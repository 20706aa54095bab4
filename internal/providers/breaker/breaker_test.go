package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	saved map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{saved: map[string][]byte{}} }

func (f *fakeStore) SaveBreakerState(ctx context.Context, name string, state []byte, ttl time.Duration) error {
	f.saved[name] = state
	return nil
}

func (f *fakeStore) LoadBreakerState(ctx context.Context, name string) ([]byte, error) {
	return f.saved[name], nil
}

func TestManagerTripsAfterConsecutiveFailures(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, func(name string) gobreaker.Settings {
		s := DefaultSettings(name)
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		}
		return s
	})

	ctx := context.Background()
	failing := func() (any, error) { return nil, errors.New("boom") }

	_, err := mgr.Execute(ctx, "odds_api", failing)
	require.Error(t, err)
	_, err = mgr.Execute(ctx, "odds_api", failing)
	require.Error(t, err)

	assert.Equal(t, gobreaker.StateOpen, mgr.State(ctx, "odds_api"))
	assert.NotEmpty(t, store.saved["odds_api"])
}

func TestManagerExecuteSucceeds(t *testing.T) {
	mgr := NewManager(nil, nil)
	ctx := context.Background()

	v, err := mgr.Execute(ctx, "kalshi", func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
