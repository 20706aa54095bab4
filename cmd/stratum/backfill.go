package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stratum/internal/closing"
	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/persistence/postgres"
)

func init() {
	backfillCmd.Flags().Int("lookback-hours", 48, "how far back to scan for finished games missing a closing consensus")
	backfillCmd.Flags().Int("max-games", 200, "maximum games to close in one run")
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-derive closing consensus for recently finished games missing one",
	Long:  "Standalone run of internal/closing's BackfillService, grounded on historical_backfill.py's one-shot CLI invocation rather than orchestrator.go's per-cycle call.",
	RunE:  runBackfill,
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("backfill: load config: %w", err)
	}
	configureLogging(cfg.Ambient)

	db, err := postgres.Open(cfg.Ambient.PGDSN, cfg.Ambient.PGMaxOpenConns, cfg.Ambient.PGMaxIdleConns, cfg.Ambient.PGConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("backfill: connect postgres: %w", err)
	}
	defer db.Close()

	games := postgres.NewGamesRepo(db)
	snapshots := postgres.NewOddsSnapshotRepo(db)
	closingRepo := postgres.NewClosingConsensusRepo(db)

	svc := closing.NewBackfillService(closing.NewService(games, snapshots, closingRepo))

	lookbackHours, _ := cmd.Flags().GetInt("lookback-hours")
	maxGames, _ := cmd.Flags().GetInt("max-games")

	result := svc.BackfillMissingCloses(context.Background(), lookbackHours, maxGames)
	log.Info().
		Int("games_scanned", result.GamesScanned).
		Int("games_backfilled", result.GamesBackfilled).
		Int("games_skipped", result.GamesSkipped).
		Int("errors", result.Errors).
		Msg("backfill: complete")
	return nil
}
