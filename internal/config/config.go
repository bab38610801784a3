package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHTTPAddr              = ":8099"
	defaultDBPath                = "/data/finder_bliss.db"
	defaultMQTTPrefix            = "finderbliss"
	defaultDiscoveryPrefix       = "homeassistant"
	defaultConfigRefreshInterval = 20 * time.Second
)

// Config stores runtime settings loaded from environment variables.
type Config struct {
	HTTPAddr              string
	DBPath                string
	ConfigRefreshInterval time.Duration
	LogLevel              slog.Level

	MQTTBrokerURI   string
	MQTTUsername    string
	MQTTPassword    string
	MQTTPrefix      string
	DiscoveryPrefix string

	HABaseURL       string
	SupervisorToken string

	// Cloud endpoint overrides, empty in production.
	BlissAccountsURL string
	BlissSyncURL     string

	// Static credentials for running without the supervisor.
	BlissUsername string
	BlissPassword string
}

// Load builds Config from environment variables using stable defaults.
func Load() Config {
	return Config{
		HTTPAddr:              getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:                getenv("DB_PATH", defaultDBPath),
		ConfigRefreshInterval: parseDuration("CONFIG_REFRESH_INTERVAL", defaultConfigRefreshInterval),
		LogLevel:              parseLogLevel(getenv("LOG_LEVEL", "info")),

		MQTTBrokerURI:   getenv("MQTT_URI", "tcp://core-mosquitto:1883"),
		MQTTUsername:    getenv("MQTT_USERNAME", ""),
		MQTTPassword:    getenv("MQTT_PASSWORD", ""),
		MQTTPrefix:      getenv("MQTT_PREFIX", defaultMQTTPrefix),
		DiscoveryPrefix: getenv("DISCOVERY_PREFIX", defaultDiscoveryPrefix),

		HABaseURL:       getenv("HA_BASE_URL", "http://supervisor/core"),
		SupervisorToken: getenv("SUPERVISOR_TOKEN", ""),

		BlissAccountsURL: getenv("BLISS_ACCOUNTS_URL", ""),
		BlissSyncURL:     getenv("BLISS_SYNC_URL", ""),

		BlissUsername: getenv("BLISS_USERNAME", ""),
		BlissPassword: getenv("BLISS_PASSWORD", ""),
	}
}

// Supervised reports whether the bridge runs inside the addon sandbox and
// should pull its account configuration from Home Assistant.
func (c Config) Supervised() bool {
	return c.SupervisorToken != ""
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
