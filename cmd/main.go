package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsekeeper/pulsekeeper/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "pulsekeeper",
	Short: "Heartbeat service with a channel-driven control plane",
	Long: `pulsekeeper keeps a once-per-second heartbeat alive in the background,
publishes every beat over an in-process control channel, and records absorbed
faults in a local SQLite log. Subcommands share environment loading and
structured logging.`,
}

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	rootCmd.AddCommand(newRunCmd(), newLogsCmd(), newDeviceCmd())
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("pulsekeeper command failed")
	}
}
