package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel     OTelConfig
	Redis    RedisConfig
	Delivery DeliveryConfig
	Tracker  TrackerConfig
	Cleanup  CleanupConfig
	Env      string
	Port     string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type RedisConfig struct {
	URL string
}

type DeliveryConfig struct {
	Timeout          time.Duration
	MaxResponseBytes int
}

// TrackerMode selects how workflow-level events are produced.
type TrackerMode string

const (
	// TrackerModeTracking infers workflow completion in-process from
	// per-step job events.
	TrackerModeTracking TrackerMode = "tracking"
	// TrackerModePassthrough disables in-process inference and trusts the
	// upstream workflow_completed / workflow_failed channels.
	TrackerModePassthrough TrackerMode = "passthrough"
)

type TrackerConfig struct {
	Mode           TrackerMode
	StaleThreshold time.Duration
	SweepInterval  time.Duration
}

type CleanupConfig struct {
	Interval      time.Duration
	OlderThanDays int
}

type ServiceType string

const (
	ServiceTypeServer   ServiceType = "server"
	ServiceTypeNotifier ServiceType = "notifier"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the registry API server
//   - .env.notifier for the event-processing worker
//
// Falls back to .env if the service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("NOTIFY_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:  getEnv("NOTIFY_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "notify"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Delivery: DeliveryConfig{
			Timeout:          getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),
			MaxResponseBytes: getEnvInt("DELIVERY_MAX_RESPONSE_BYTES", 1024),
		},
		Tracker: TrackerConfig{
			Mode:           TrackerMode(getEnv("WORKFLOW_TRACKER_MODE", string(TrackerModeTracking))),
			StaleThreshold: getEnvDuration("WORKFLOW_STALE_THRESHOLD", 2*time.Hour),
			SweepInterval:  getEnvDuration("WORKFLOW_SWEEP_INTERVAL", 10*time.Minute),
		},
		Cleanup: CleanupConfig{
			Interval:      getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
			OlderThanDays: getEnvInt("CLEANUP_OLDER_THAN_DAYS", 7),
		},
	}

	switch cfg.Tracker.Mode {
	case TrackerModeTracking, TrackerModePassthrough:
	default:
		return Config{}, fmt.Errorf("invalid WORKFLOW_TRACKER_MODE %q", cfg.Tracker.Mode)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
