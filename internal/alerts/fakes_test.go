package alerts

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

type fakeSubscriberRepo struct {
	subs []domain.Subscriber
}

func (f *fakeSubscriberRepo) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	return f.subs, nil
}

func (f *fakeSubscriberRepo) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	for _, s := range f.subs {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

type fakeOutcomeRepo struct {
	mu       sync.Mutex
	inserted []domain.WebhookDeliveryOutcome
}

func (f *fakeOutcomeRepo) Insert(ctx context.Context, o domain.WebhookDeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, o)
	return nil
}

func (f *fakeOutcomeRepo) RecentForSubscriber(ctx context.Context, subscriberID string, since time.Time) ([]domain.WebhookDeliveryOutcome, error) {
	return nil, nil
}

func (f *fakeOutcomeRepo) snapshot() []domain.WebhookDeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WebhookDeliveryOutcome, len(f.inserted))
	copy(out, f.inserted)
	return out
}

// scriptedRoundTripper replays a fixed sequence of responses/errors per call,
// the seam deliver's retry ladder is tested through instead of a live server.
type scriptedRoundTripper struct {
	mu    sync.Mutex
	calls int
	steps []scriptedStep
}

type scriptedStep struct {
	status int
	err    error
}

func (s *scriptedRoundTripper) Do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	var step scriptedStep
	if i < len(s.steps) {
		step = s.steps[i]
	} else {
		step = s.steps[len(s.steps)-1]
	}
	if step.err != nil {
		return nil, step.err
	}
	return &http.Response{
		StatusCode: step.status,
		Body:       http.NoBody,
	}, nil
}

func (s *scriptedRoundTripper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
