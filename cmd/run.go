package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsekeeper/pulsekeeper"
	"github.com/pulsekeeper/pulsekeeper/internal/config"
	"github.com/pulsekeeper/pulsekeeper/internal/httpapi"
	"github.com/pulsekeeper/pulsekeeper/internal/platform"
	"github.com/pulsekeeper/pulsekeeper/internal/storage"
)

func newRunCmd() *cobra.Command {
	var (
		flagSettings     string
		flagTickInterval time.Duration
		flagMode         string
		flagHTTPAddr     string
		flagDBPath       string
		flagLogPoll      time.Duration
		flagDevice       string
		flagNoAutoStart  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the heartbeat service",
		Long: `Run the heartbeat service in this process: launch the runner, perform the
device binding handshake, render status updates, and hot-reload the settings
file on change. With an HTTP address configured, the admin API exposes state
reads and control channel commands while the service runs.

Examples:
  # Background heartbeat with defaults
  pulsekeeper run

  # Foreground mode with the admin API
  pulsekeeper run --mode foreground --http-addr 127.0.0.1:7113`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settingsPath := strings.TrimSpace(flagSettings)
			if settingsPath == "" {
				resolved, err := config.DefaultPath()
				if err != nil {
					return err
				}
				settingsPath = resolved
			}
			settings, err := config.Load(settingsPath)
			if err != nil {
				log.Warn().Err(err).Str("path", settingsPath).Msg("load settings failed, using defaults")
			}
			if cmd.Flags().Changed("tick-interval") && flagTickInterval > 0 {
				settings.TickInterval = flagTickInterval
			}
			if cmd.Flags().Changed("http-addr") {
				settings.HTTPAddr = strings.TrimSpace(flagHTTPAddr)
			}
			if cmd.Flags().Changed("db") {
				settings.DBPath = strings.TrimSpace(flagDBPath)
			}
			if cmd.Flags().Changed("log-poll-interval") && flagLogPoll > 0 {
				settings.LogPollInterval = flagLogPoll
			}
			if cmd.Flags().Changed("device") {
				settings.DeviceID = strings.TrimSpace(flagDevice)
			}

			mode := pulsekeeper.ModeBackground
			if strings.TrimSpace(flagMode) != "" {
				parsed, err := pulsekeeper.ParseMode(flagMode)
				if err != nil {
					return err
				}
				mode = parsed
			}

			runtime := config.NewRuntime(settings)

			store, err := storage.Open(settings.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			notifier, err := platform.NewFileNotifier(settings.NotifyPath)
			if err != nil {
				return err
			}

			bus := pulsekeeper.NewBus()
			runner, err := pulsekeeper.NewRunner(pulsekeeper.Config{
				TickInterval: settings.TickInterval,
				Channel:      bus,
				Notifier:     notifier,
				LogSink:      store,
				Granted:      runtime.NotificationsGranted,
				NotifyTitle:  runtime.NotifyTitle,
			})
			if err != nil {
				return err
			}

			deviceCache := store.Scoped(platform.DeviceScope)
			resolve := func(ctx context.Context) (string, error) {
				if fixed := runtime.Snapshot().DeviceID; fixed != "" {
					return fixed, nil
				}
				return platform.ResolveDeviceID(ctx, deviceCache)
			}

			pres, err := pulsekeeper.NewPresentation(pulsekeeper.PresentationConfig{
				Channel:         bus,
				Runner:          runner,
				Logs:            store,
				ResolveDevice:   resolve,
				InitialMode:     mode,
				AutoStart:       !flagNoAutoStart,
				LogPollInterval: settings.LogPollInterval,
				LogReadLimit:    settings.LogReadLimit,
			})
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			group := pulsekeeper.NewSafeGroup(sigCtx)
			group.GoSafe("presentation", pres.Run)

			if watcher, err := config.NewWatcher(settingsPath, runtime); err != nil {
				log.Warn().Err(err).Str("path", settingsPath).Msg("settings watcher unavailable, hot reload disabled")
			} else {
				group.GoSafe("settings-watcher", watcher.Run)
			}

			if addr := settings.HTTPAddr; addr != "" {
				api, err := httpapi.NewServer(httpapi.Config{
					Runner:    runner,
					Channel:   bus,
					Logs:      store,
					ReadLimit: settings.LogReadLimit,
				})
				if err != nil {
					return err
				}
				group.GoSafe("httpapi", func(ctx context.Context) error {
					return api.Run(ctx, addr)
				})
			}

			log.Info().
				Dur("tick_interval", settings.TickInterval).
				Str("mode", string(mode)).
				Bool("auto_start", !flagNoAutoStart).
				Str("db", store.Path()).
				Str("http_addr", settings.HTTPAddr).
				Msg("pulsekeeper running")

			waitErr := group.WaitOrInterrupt(5 * time.Second)
			runner.Stop()
			if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
				return waitErr
			}
			log.Info().Msg("pulsekeeper stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagSettings, "settings", "", "Settings file path overriding $PULSE_SETTINGS_PATH")
	cmd.Flags().DurationVar(&flagTickInterval, "tick-interval", time.Second, "Heartbeat interval")
	cmd.Flags().StringVar(&flagMode, "mode", "background", "Initial mode (foreground or background)")
	cmd.Flags().StringVar(&flagHTTPAddr, "http-addr", "", "Admin API listen address (empty disables the API)")
	cmd.Flags().StringVar(&flagDBPath, "db", "", "SQLite database path overriding $PULSE_DB_PATH")
	cmd.Flags().DurationVar(&flagLogPoll, "log-poll-interval", 3*time.Second, "How often the presentation polls the service log")
	cmd.Flags().StringVar(&flagDevice, "device", "", "Fixed device binding (skips hardware resolution)")
	cmd.Flags().BoolVar(&flagNoAutoStart, "no-auto-start", false, "Record the initial mode without launching the heartbeat")

	return cmd
}
