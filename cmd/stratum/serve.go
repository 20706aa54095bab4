package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stratum/internal/alerts"
	"github.com/sawpanic/stratum/internal/closing"
	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/consensus"
	"github.com/sawpanic/stratum/internal/crossmarket"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/httpapi"
	"github.com/sawpanic/stratum/internal/intel"
	"github.com/sawpanic/stratum/internal/kv"
	"github.com/sawpanic/stratum/internal/orchestrator"
	"github.com/sawpanic/stratum/internal/persistence/postgres"
	"github.com/sawpanic/stratum/internal/providers"
	"github.com/sawpanic/stratum/internal/providers/breaker"
	"github.com/sawpanic/stratum/internal/providers/kalshi"
	"github.com/sawpanic/stratum/internal/providers/oddsapi"
	"github.com/sawpanic/stratum/internal/providers/polymarket"
	"github.com/sawpanic/stratum/internal/quotemoves"
	"github.com/sawpanic/stratum/internal/retention"
	"github.com/sawpanic/stratum/internal/signals"
	"github.com/sawpanic/stratum/internal/structural"
	"github.com/sawpanic/stratum/internal/telemetry/metrics"
	"github.com/sawpanic/stratum/internal/wsfeed"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cycle orchestrator, retention sweeper, and HTTP/websocket surface",
	RunE:  runServe,
}

// orchestratorLockID is the pg_advisory_lock key guarding the single
// orchestrator instance SPEC_FULL.md §5 requires per deployment. Grounded
// on internal/persistence/postgres/db.go's plain sqlx usage — no library in
// the corpus wraps Postgres advisory locks, so this is one direct SQL call
// rather than a hand-rolled replacement for something a dependency already
// does.
const orchestratorLockID = 84172001

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	configureLogging(cfg.Ambient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(cfg.Ambient.PGDSN, cfg.Ambient.PGMaxOpenConns, cfg.Ambient.PGMaxIdleConns, cfg.Ambient.PGConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("serve: connect postgres: %w", err)
	}
	defer db.Close()

	locked, err := acquireOrchestratorLock(ctx, db)
	if err != nil {
		return fmt.Errorf("serve: acquire orchestrator lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("serve: another orchestrator instance already holds the deployment lock")
	}
	defer releaseOrchestratorLock(context.Background(), db)

	store := kv.New(cfg.Ambient.RedisAddr)
	defer store.Close()
	webhookCache := kv.NewWebhookCache(cfg.Ambient.RedisAddr)

	games := postgres.NewGamesRepo(db)
	snapshots := postgres.NewOddsSnapshotRepo(db)
	consensusRepo := postgres.NewConsensusRepo(db)
	quoteMoves := postgres.NewQuoteMoveRepo(db)
	structuralRepo := postgres.NewStructuralEventRepo(db)
	signalsRepo := postgres.NewSignalsRepo(db)
	alignments := postgres.NewAlignmentRepo(db)
	exchangeQuotes := postgres.NewExchangeQuoteRepo(db)
	leadLagRepo := postgres.NewLeadLagRepo(db)
	divergenceRepo := postgres.NewDivergenceRepo(db)
	closingRepo := postgres.NewClosingConsensusRepo(db)
	clvRepo := postgres.NewClvRepo(db)
	kpiRepo := postgres.NewCycleKpiRepo(db)
	subscribers := postgres.NewSubscriberRepo(db)
	webhookOutcomes := postgres.NewWebhookDeliveryRepo(db)

	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg)

	breakerMgr := breaker.NewManager(store, nil)

	oddsClient := oddsapi.New(oddsapi.Config{
		BaseURL:        cfg.Ingestion.BaseURL,
		APIKey:         cfg.Ingestion.APIKey,
		Regions:        cfg.Ingestion.Regions,
		Markets:        cfg.Ingestion.Markets,
		Bookmakers:     cfg.Ingestion.Bookmakers,
		TimeoutSeconds: cfg.Ingestion.TimeoutSeconds,
	})
	oddsIngestor := oddsapi.NewIngestor(oddsClient, games, snapshots, store, cfg.Ingestion.SportKeys, cfg.Ingestion.Bookmakers)

	kalshiClient := kalshi.New(kalshi.Config{
		BaseURL:        cfg.Exchange.KalshiBaseURL,
		APIKey:         cfg.Exchange.KalshiAPIKey,
		TimeoutSeconds: cfg.Exchange.KalshiTimeoutSeconds,
	})
	polymarketClient := polymarket.New(polymarket.Config{
		BaseURL:        cfg.Exchange.PolymarketBaseURL,
		Enabled:        cfg.Exchange.PolymarketEnabled,
		TimeoutSeconds: cfg.Exchange.PolymarketTimeoutSeconds,
	})
	exchangeIngestor := providers.NewExchangeIngestor(kalshiClient, polymarketClient, alignments, exchangeQuotes)

	consensusEngine := consensus.NewEngine(consensus.Config{
		LookbackMinutes: cfg.Consensus.LookbackMinutes,
		MinBooks:        cfg.Consensus.MinBooks,
		MinMarkets:      cfg.Consensus.MinMarkets,
		Markets:         toDomainMarkets(cfg.Consensus.Markets),
	}, snapshots, consensusRepo)

	quoteBuilder := quotemoves.NewBuilder(snapshots, quoteMoves, store, quotemoves.DefaultVenueTiers())

	detector := signals.NewDetector(cfg, snapshots, consensusRepo, games, alignments, divergenceRepo, signalsRepo, store)

	gateEvaluator := structural.NewGateEvaluator(quoteMoves, snapshots, structuralRepo)

	divergenceSvc := crossmarket.NewDivergenceService(alignments, structuralRepo, exchangeQuotes, divergenceRepo)
	leadLagSvc := crossmarket.NewLeadLagService(alignments, structuralRepo, exchangeQuotes, leadLagRepo)

	dispatcher := alerts.NewDispatcher(cfg.Webhook, subscribers, webhookOutcomes, store, webhookCache)

	closingSvc := closing.NewService(games, snapshots, closingRepo)
	clvSvc := closing.NewClvService(games, signalsRepo, closingRepo, clvRepo)
	backfillSvc := closing.NewBackfillService(closingSvc)

	orch := orchestrator.New(orchestrator.Deps{
		Config:           cfg,
		OddsIngestor:     oddsIngestor,
		ExchangeIngestor: exchangeIngestor,
		ConsensusEngine:  consensusEngine,
		QuoteBuilder:     quoteBuilder,
		Detector:         detector,
		GateEvaluator:    gateEvaluator,
		DivergenceSvc:    divergenceSvc,
		LeadLagSvc:       leadLagSvc,
		Dispatcher:       dispatcher,
		ClosingSvc:       closingSvc,
		ClvSvc:           clvSvc,
		BackfillSvc:      backfillSvc,
		Games:            games,
		Alignments:       alignments,
		KpiRepo:          kpiRepo,
		BreakerMgr:       breakerMgr,
		Store:            store,
		Registry:         registry,
	})

	sweeper := retention.NewSweeper(cfg, snapshots, consensusRepo, signalsRepo, closingRepo, clvRepo, kpiRepo)

	svc := intel.NewService(consensusRepo, signalsRepo, closingRepo, clvRepo, sweeper)
	httpServer := httpapi.NewServer(cfg, svc, subscribers, reg)
	liveFeed := wsfeed.NewGateway(store, time.Duration(cfg.Public.FreeDelayMinutes)*time.Minute)
	httpServer.MountLiveFeed(liveFeed)

	errCh := make(chan error, 4)
	go func() { errCh <- orch.Run(ctx) }()
	go func() { errCh <- sweeper.Run(ctx) }()
	go func() { errCh <- liveFeed.Run(ctx) }()
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("serve: shutting down")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("serve: component exited with error")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Webhook.DrainTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("serve: http shutdown error")
	}
	dispatcher.Stop()

	return nil
}

func configureLogging(cfg config.AmbientConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "json" || cfg.Production {
		log.Logger = log.Output(os.Stderr)
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func toDomainMarkets(markets []string) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		out = append(out, domain.Market(m))
	}
	return out
}

// acquireOrchestratorLock takes the deployment-wide Postgres advisory lock
// non-blockingly, so a second process fails fast instead of queuing behind
// the first.
func acquireOrchestratorLock(ctx context.Context, db *sqlx.DB) (bool, error) {
	var ok bool
	if err := db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", orchestratorLockID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func releaseOrchestratorLock(ctx context.Context, db *sqlx.DB) {
	if _, err := db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", orchestratorLockID); err != nil {
		log.Warn().Err(err).Msg("serve: failed to release orchestrator advisory lock")
	}
}
