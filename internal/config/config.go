package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	CoordinatorPort    string
	CoordinatorURL     string
	StoreBackend       string
	PostgresURL        string
	TemporalAddress    string
	TemporalTaskQueue  string
	ArbitrationTimeout time.Duration
	LivenessTimeout    time.Duration
	FocusTimeout       time.Duration
	SweepInterval      time.Duration
	SessionFlagTTL     time.Duration
	AppBaseURL         string
	BrowserBaseURL     string
	InstallGuideURL    string
	TracingExporter    string
	QueueCapacity      int
}

func Load() Config {
	coordinatorPort := getEnv("COORDINATOR_PORT", "8090")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		CoordinatorPort:    coordinatorPort,
		CoordinatorURL:     getEnv("COORDINATOR_URL", "http://localhost:"+coordinatorPort),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		PostgresURL:        postgresURL,
		TemporalAddress:    getEnv("TEMPORAL_ADDRESS", ""),
		TemporalTaskQueue:  getEnv("TEMPORAL_TASK_QUEUE", "window-liveness"),
		ArbitrationTimeout: getEnvDuration("ARBITRATION_TIMEOUT", 3*time.Second),
		LivenessTimeout:    getEnvDuration("LIVENESS_TIMEOUT", 5*time.Second),
		FocusTimeout:       getEnvDuration("FOCUS_TIMEOUT", time.Second),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		SessionFlagTTL:     getEnvDuration("SESSION_FLAG_TTL", 12*time.Hour),
		AppBaseURL:         getEnv("APP_BASE_URL", "http://localhost:3000/app"),
		BrowserBaseURL:     getEnv("BROWSER_BASE_URL", "http://localhost:3000"),
		InstallGuideURL:    getEnv("INSTALL_GUIDE_URL", "http://localhost:3000/install"),
		TracingExporter:    getEnv("TRACING_EXPORTER", "none"),
		QueueCapacity:      getEnvInt("COORDINATOR_QUEUE_CAPACITY", 256),
	}
}

// TemporalEnabled reports whether the liveness sweep runs as a Temporal
// workflow. Without it the coordinator sweeps on its own ticker.
func (c Config) TemporalEnabled() bool {
	return strings.TrimSpace(c.TemporalAddress) != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("750ms") or plain integers
// meaning milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if millis, err := strconv.Atoi(value); err == nil && millis > 0 {
		return time.Duration(millis) * time.Millisecond
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "coordinator")
	password := getEnv("POSTGRES_PASSWORD", "coordinator")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "coordinator")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
