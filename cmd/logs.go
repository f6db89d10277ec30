package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsekeeper/pulsekeeper/internal/config"
	"github.com/pulsekeeper/pulsekeeper/internal/storage"
)

func newLogsCmd() *cobra.Command {
	var (
		flagDBPath string
		flagLimit  int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent error records from the service log",
		Long: `Print the most recent error records the runner absorbed, oldest first.
Reads the SQLite log directly, so it works whether or not the service runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(pickOrEnv(flagDBPath, "PULSE_DB_PATH"))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			lines, err := store.ReadAllLogs(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				log.Info().Str("db", store.Path()).Msg("service log is empty")
				return nil
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDBPath, "db", "", "SQLite database path overriding $PULSE_DB_PATH")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum records to print (0 uses the service default)")

	return cmd
}

func pickOrEnv(flagVal, envKey string) string {
	if trimmed := strings.TrimSpace(flagVal); trimmed != "" {
		return trimmed
	}
	return config.String(envKey, "")
}
