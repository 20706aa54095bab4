// Command stratum runs the sportsbook/exchange signal engine: the
// ingestion-through-alerting cycle loop, the retention sweeper, and the
// read-only HTTP/websocket surface over everything they write. Grounded on
// the teacher's cmd/cryptorun/main.go cobra bootstrap (zerolog console
// writer wired before anything else runs, one root command with
// subcommands registered via each subcommand file's own init()).
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "stratum"
	version = "v0.1.0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Sportsbook/exchange line-movement signal engine",
	Version: version,
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults applied, then env overrides)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("stratum: fatal")
	}
}
