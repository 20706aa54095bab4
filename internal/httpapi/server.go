// Package httpapi implements SPEC_FULL.md §6's core read surface: a
// read-only HTTP API over the repositories C1–C11 populate, plus the
// ambient /healthz and /metrics endpoints. Grounded on the teacher's
// internal/interfaces/http/server.go (gorilla/mux, middleware chain,
// graceful shutdown) with the static mock handlers replaced by real
// queries through internal/intel.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/intel"
	"github.com/sawpanic/stratum/internal/persistence"
)

// Server is the core read-only HTTP API.
type Server struct {
	router      *mux.Router
	server      *http.Server
	h           *handlers
	subscribers persistence.SubscriberRepository
}

// NewServer builds the router and binds it to addr, grounded on the
// teacher's NewServer (listen-address validation deferred to Start, since
// this module's process binds one address per config rather than probing
// for a free port at construction time).
func NewServer(cfg config.Config, svc *intel.Service, subscribers persistence.SubscriberRepository, registry *prometheus.Registry) *Server {
	s := &Server{h: newHandlers(svc), subscribers: subscribers}
	s.router = mux.NewRouter()
	s.setupRoutes(cfg, subscribers, registry)
	s.server = &http.Server{
		Addr:         cfg.Ambient.HTTPListenAddr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(cfg config.Config, subscribers persistence.SubscriberRepository, registry *prometheus.Registry) {
	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware)
	s.router.Use(timeoutMiddleware(5 * time.Second))

	s.router.HandleFunc("/healthz", s.h.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.Use(authMiddleware(subscribers))

	// /intel/consensus and /intel/consensus/latest are the same lookup — §6 names them as one
	// bullet ("latest consensus rows"), and persistence.ConsensusRepository only ever tracks the
	// most recent snapshot per (event, market, outcome), so there is no separate historical query
	// for the bare path to serve.
	api.HandleFunc("/intel/consensus", s.h.consensusLatest).Methods(http.MethodGet)
	api.HandleFunc("/intel/consensus/latest", s.h.consensusLatest).Methods(http.MethodGet)

	api.HandleFunc("/intel/clv", requirePro(s.h.clvSummary)).Methods(http.MethodGet)
	api.HandleFunc("/intel/clv/summary", requirePro(s.h.clvSummary)).Methods(http.MethodGet)
	api.HandleFunc("/intel/clv/recap", requirePro(s.h.clvRecap)).Methods(http.MethodGet)
	api.HandleFunc("/intel/clv/scorecards", requirePro(s.h.clvScorecards)).Methods(http.MethodGet)
	api.HandleFunc("/intel/clv/teaser", s.h.clvTeaser).Methods(http.MethodGet)

	api.HandleFunc("/intel/signals/quality", s.h.signalQuality).Methods(http.MethodGet)
	api.HandleFunc("/intel/signals/weekly-summary", s.h.signalWeeklySummary).Methods(http.MethodGet)
	api.HandleFunc("/intel/signals/lifecycle", s.h.signalLifecycle).Methods(http.MethodGet)

	api.HandleFunc("/intel/books/actionable", s.h.actionableBook).Methods(http.MethodGet)
	api.HandleFunc("/intel/books/actionable/batch", s.h.actionableBookBatch).Methods(http.MethodPost)

	api.HandleFunc("/intel/opportunities", s.h.opportunities).Methods(http.MethodGet)
	api.HandleFunc("/intel/opportunities/teaser", func(w http.ResponseWriter, r *http.Request) {
		s.h.opportunitiesTeaser(w, r, time.Duration(cfg.Public.FreeDelayMinutes)*time.Minute)
	}).Methods(http.MethodGet)

	api.HandleFunc("/public/teaser/opportunities", func(w http.ResponseWriter, r *http.Request) {
		s.h.opportunitiesTeaser(w, r, time.Duration(cfg.Public.FreeDelayMinutes)*time.Minute)
	}).Methods(http.MethodGet)
	api.HandleFunc("/public/teaser/kpis", s.h.publicTeaserKpis).Methods(http.MethodGet)
	api.HandleFunc("/intel/teaser/events", s.h.teaserEvents).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(s.h.notFound)
}

// liveFeedHandler is the subset of internal/wsfeed.Gateway this package
// needs, kept as a local interface so httpapi doesn't import wsfeed
// directly — cmd/stratum wires the two together.
type liveFeedHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request, isPro bool)
}

// MountLiveFeed registers GET /ws/live, resolving isPro from the same
// subscriber-auth context authMiddleware attaches to every other route.
func (s *Server) MountLiveFeed(gw liveFeedHandler) {
	handler := authMiddleware(s.subscribers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := subscriberFrom(r.Context())
		gw.ServeHTTP(w, r, sub != nil && sub.IsPro)
	}))
	s.router.Handle("/ws/live", handler).Methods(http.MethodGet)
}

// Router exposes the underlying mux.Router. /ws/live is mounted on this
// same router through MountLiveFeed, so both surfaces share one listen address.
func (s *Server) Router() *mux.Router { return s.router }

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("httpapi: listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
