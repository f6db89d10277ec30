package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsekeeper/pulsekeeper/internal/config"
	"github.com/pulsekeeper/pulsekeeper/internal/platform"
	"github.com/pulsekeeper/pulsekeeper/internal/storage"
)

func newDeviceCmd() *cobra.Command {
	var (
		flagDBPath  string
		flagRefresh bool
	)

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Print the device identifier the service binds to",
		Long: `Print the stable device identifier the service binds: a fixed id from the
settings file or $PULSE_DEVICE_ID when configured, otherwise the hardware
UUID, otherwise a generated id persisted in the local database.
--refresh discards a previously generated id first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load("")
			if err != nil {
				log.Warn().Err(err).Msg("load settings failed, using defaults")
			}
			if fixed := strings.TrimSpace(settings.DeviceID); fixed != "" {
				fmt.Println(fixed)
				return nil
			}

			dbPath := strings.TrimSpace(flagDBPath)
			if dbPath == "" {
				dbPath = settings.DBPath
			}
			store, err := storage.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cache := store.Scoped(platform.DeviceScope)
			if flagRefresh {
				if err := cache.Delete(cmd.Context(), platform.DeviceIDKey); err != nil {
					return err
				}
				log.Info().Msg("cached device id discarded")
			}

			id, err := platform.ResolveDeviceID(cmd.Context(), cache)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDBPath, "db", "", "SQLite database path overriding the configured one")
	cmd.Flags().BoolVar(&flagRefresh, "refresh", false, "Discard the cached generated id before resolving")

	return cmd
}
