package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	appDirName       = ".pulsekeeper"
	settingsFileName = "settings.yaml"
)

// Settings carries every tunable of the service. Zero values are replaced by
// Default(); file values and PULSE_* environment variables override in that order.
type Settings struct {
	TickInterval         time.Duration
	LogPollInterval      time.Duration
	LogReadLimit         int
	HTTPAddr             string
	DBPath               string
	DeviceID             string
	NotifyTitle          string
	NotifyPath           string
	NotificationsEnabled bool
}

type yamlSettings struct {
	TickInterval         string `yaml:"tick_interval"`
	LogPollInterval      string `yaml:"log_poll_interval"`
	LogReadLimit         int    `yaml:"log_read_limit"`
	HTTPAddr             string `yaml:"http_addr"`
	DBPath               string `yaml:"db_path"`
	DeviceID             string `yaml:"device_id"`
	NotifyTitle          string `yaml:"notify_title"`
	NotifyPath           string `yaml:"notify_path"`
	NotificationsEnabled *bool  `yaml:"notifications_enabled"`
}

// Default returns the built-in settings. Paths under the home directory are
// left relative to "~" until resolved by the storage/platform consumers.
func Default() Settings {
	return Settings{
		TickInterval:         time.Second,
		LogPollInterval:      3 * time.Second,
		LogReadLimit:         500,
		HTTPAddr:             "",
		DBPath:               "",
		DeviceID:             "",
		NotifyTitle:          "pulsekeeper service",
		NotifyPath:           "",
		NotificationsEnabled: true,
	}
}

// DefaultPath returns ~/.pulsekeeper/settings.yaml, honoring the
// PULSE_SETTINGS_PATH override.
func DefaultPath() (string, error) {
	if custom := String("PULSE_SETTINGS_PATH", ""); custom != "" {
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "config: resolve home dir failed")
	}
	return filepath.Join(home, appDirName, settingsFileName), nil
}

// Load reads settings from the YAML file at path (DefaultPath when empty),
// then applies environment overrides. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	settings := Default()
	if path == "" {
		resolved, err := DefaultPath()
		if err != nil {
			applyEnv(&settings)
			return settings, err
		}
		path = resolved
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		applyEnv(&settings)
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, errors.Wrap(err, "config: read settings file failed")
	}

	var file yamlSettings
	if err := yaml.Unmarshal(raw, &file); err != nil {
		applyEnv(&settings)
		return settings, errors.Wrap(err, "config: parse settings yaml failed")
	}

	applyFile(&settings, file)
	applyEnv(&settings)
	return settings, nil
}

func applyFile(settings *Settings, file yamlSettings) {
	if d, err := time.ParseDuration(file.TickInterval); err == nil && d > 0 {
		settings.TickInterval = d
	}
	if d, err := time.ParseDuration(file.LogPollInterval); err == nil && d > 0 {
		settings.LogPollInterval = d
	}
	if file.LogReadLimit > 0 {
		settings.LogReadLimit = file.LogReadLimit
	}
	if file.HTTPAddr != "" {
		settings.HTTPAddr = file.HTTPAddr
	}
	if file.DBPath != "" {
		settings.DBPath = file.DBPath
	}
	if file.DeviceID != "" {
		settings.DeviceID = file.DeviceID
	}
	if file.NotifyTitle != "" {
		settings.NotifyTitle = file.NotifyTitle
	}
	if file.NotifyPath != "" {
		settings.NotifyPath = file.NotifyPath
	}
	if file.NotificationsEnabled != nil {
		settings.NotificationsEnabled = *file.NotificationsEnabled
	}
}

func applyEnv(settings *Settings) {
	settings.TickInterval = Duration("PULSE_TICK_INTERVAL", settings.TickInterval)
	settings.LogPollInterval = Duration("PULSE_LOG_POLL_INTERVAL", settings.LogPollInterval)
	settings.LogReadLimit = Int("PULSE_LOG_READ_LIMIT", settings.LogReadLimit)
	settings.HTTPAddr = String("PULSE_HTTP_ADDR", settings.HTTPAddr)
	settings.DBPath = String("PULSE_DB_PATH", settings.DBPath)
	settings.DeviceID = String("PULSE_DEVICE_ID", settings.DeviceID)
	settings.NotifyTitle = String("PULSE_NOTIFY_TITLE", settings.NotifyTitle)
	settings.NotifyPath = String("PULSE_NOTIFY_PATH", settings.NotifyPath)
	settings.NotificationsEnabled = Bool("PULSE_NOTIFICATIONS_ENABLED", settings.NotificationsEnabled)
}
