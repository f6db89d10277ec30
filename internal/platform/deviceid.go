package platform

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DeviceScope is the key/value scope holding the persisted device identity.
	DeviceScope = "device"
	// DeviceIDKey is the cache key of the generated identifier.
	DeviceIDKey = "device_id"
)

// Cache persists a generated device identifier across runs. Satisfied by
// storage.ScopedKV.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ResolveDeviceID returns a stable opaque identifier for this host: a hardware
// UUID when the platform exposes one, otherwise a generated UUID persisted in
// cache. It always yields a non-empty id; cache failures degrade to a
// per-process id.
func ResolveDeviceID(ctx context.Context, cache Cache) (string, error) {
	if id := hardwareID(ctx); id != "" {
		return id, nil
	}
	return generatedID(ctx, cache), nil
}

func generatedID(ctx context.Context, cache Cache) string {
	if cache != nil {
		if id, ok, err := cache.Get(ctx, DeviceIDKey); err == nil && ok && id != "" {
			return id
		} else if err != nil {
			log.Warn().Err(err).Msg("platform: read cached device id failed")
		}
	}
	id := uuid.NewString()
	if cache != nil {
		if err := cache.Set(ctx, DeviceIDKey, id); err != nil {
			log.Warn().Err(err).Msg("platform: persist device id failed, id is per-process")
		}
	}
	return id
}

// hardwareID returns a best-effort hardware UUID, or "" when the platform
// offers none. On Linux it prefers /etc/machine-id then the DMI product UUID;
// on macOS it asks IOKit; on Windows it asks WMI.
func hardwareID(ctx context.Context) string {
	switch runtime.GOOS {
	case "linux":
		if id := readSystemFile("/etc/machine-id"); id != "" {
			return id
		}
		return readSystemFile("/sys/class/dmi/id/product_uuid")
	case "darwin":
		return macPlatformUUID(ctx)
	case "windows":
		return windowsProductUUID(ctx)
	default:
		return ""
	}
}

func macPlatformUUID(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 {
			return parts[3]
		}
	}
	return ""
}

func windowsProductUUID(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.EqualFold(trimmed, "UUID") {
			return trimmed
		}
	}
	return ""
}

func readSystemFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
