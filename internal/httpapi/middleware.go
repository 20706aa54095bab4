package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeySubscriber
)

func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return "unknown"
}

func subscriberFrom(ctx context.Context) *domain.Subscriber {
	if v, ok := ctx.Value(ctxKeySubscriber).(*domain.Subscriber); ok {
		return v
	}
	return nil
}

// requestIDMiddleware tags every request with a short correlation id, the
// same idiom the teacher's server.go uses (uuid, truncated, echoed in a
// response header).
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one structured line per request, replacing the
// teacher's log.Printf with the zerolog logger the rest of this module uses.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("httpapi: request")
	})
}

// timeoutMiddleware enforces a per-request deadline, grounded on the
// teacher's timeoutMiddleware.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller's Subscriber from the
// X-Stratum-Api-Key header (matched against Subscriber.Secret — the same
// shared secret the webhook dispatcher signs deliveries with). A missing or
// unmatched key leaves the request unauthenticated rather than rejecting
// it: most of §6's read surface is free-tier by default, only
// requirePro-wrapped routes need an authenticated pro subscriber.
func authMiddleware(subscribers persistence.SubscriberRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Stratum-Api-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			subs, err := subscribers.ListActive(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			for i := range subs {
				if subs[i].Secret == key {
					ctx := context.WithValue(r.Context(), ctxKeySubscriber, &subs[i])
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requirePro rejects requests from an unauthenticated caller or a free-tier
// subscriber with 403, gating the pro-only routes SPEC_FULL.md §6 lists
// (CLV analytics except the teaser).
func requirePro(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := subscriberFrom(r.Context())
		if sub == nil || !sub.IsPro {
			writeError(w, r, http.StatusForbidden, "pro_required", "this endpoint requires an active pro subscription")
			return
		}
		h(w, r)
	}
}
