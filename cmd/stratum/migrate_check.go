package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stratum/internal/config"
	"github.com/sawpanic/stratum/internal/persistence/postgres"
)

func init() {
	rootCmd.AddCommand(migrateCheckCmd)
}

var migrateCheckCmd = &cobra.Command{
	Use:   "migrate-check",
	Short: "Report schema health without migrating",
	Long:  "Checks that every table the repository layer queries exists in the connected database. Migrations themselves are out of scope for this service — see SPEC_FULL.md's Non-goals.",
	RunE:  runMigrateCheck,
}

// expectedTables mirrors every table name internal/persistence/postgres's
// repositories query, one entry per §3 data model row.
var expectedTables = []string{
	"games",
	"odds_snapshots",
	"market_consensus_snapshots",
	"quote_move_events",
	"structural_events",
	"structural_event_venue_participation",
	"canonical_event_alignments",
	"exchange_quote_events",
	"cross_market_lead_lag_events",
	"cross_market_divergence_events",
	"signals",
	"closing_consensus",
	"clv_records",
	"cycle_kpis",
	"subscribers",
	"webhook_delivery_outcomes",
}

func runMigrateCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("migrate-check: load config: %w", err)
	}
	configureLogging(cfg.Ambient)

	db, err := postgres.Open(cfg.Ambient.PGDSN, cfg.Ambient.PGMaxOpenConns, cfg.Ambient.PGMaxIdleConns, cfg.Ambient.PGConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("migrate-check: connect postgres: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	var missing []string
	for _, table := range expectedTables {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("migrate-check: query %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}

	if len(missing) == 0 {
		log.Info().Int("tables_checked", len(expectedTables)).Msg("migrate-check: schema healthy")
		return nil
	}

	log.Error().Strs("missing_tables", missing).Msg("migrate-check: schema incomplete")
	return fmt.Errorf("migrate-check: %d table(s) missing: %v", len(missing), missing)
}
