package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Offline     OfflineConfig
	Sweep       SweepConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL              string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	WorkerExchange   string
	GeofenceRouteKey string
	TamperRouteKey   string
	DLQQueue         string
	PrefetchCount    int
}

// OfflineConfig holds the silence thresholds, in minutes, for classifying
// offline devices. Devices silent for less than MinOfflineMinutes are not
// reported at all.
type OfflineConfig struct {
	MinOfflineMinutes int
	MediumMinutes     int
	HighMinutes       int
	CriticalMinutes   int
}

// SweepConfig holds the offline sweep scheduling settings
type SweepConfig struct {
	Enabled         bool
	IntervalSeconds int
	TimeoutSeconds  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "mdm-geofence-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "mdm.telemetry.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "mdm.telemetry.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "device.report.raw"),
			WorkerExchange:   getEnv("RABBITMQ_WORKER_EXCHANGE", "mdm.worker.events.exchange"),
			GeofenceRouteKey: getEnv("RABBITMQ_GEOFENCE_ROUTING_KEY", "device.geofence.violation"),
			TamperRouteKey:   getEnv("RABBITMQ_TAMPER_ROUTING_KEY", "device.tamper.offline"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "mdm.telemetry.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Offline: OfflineConfig{
			MinOfflineMinutes: getEnvAsInt("OFFLINE_MIN_MINUTES", 60),
			MediumMinutes:     getEnvAsInt("OFFLINE_MEDIUM_MINUTES", 360),
			HighMinutes:       getEnvAsInt("OFFLINE_HIGH_MINUTES", 1440),
			CriticalMinutes:   getEnvAsInt("OFFLINE_CRITICAL_MINUTES", 4320),
		},
		Sweep: SweepConfig{
			Enabled:         getEnvAsBool("SWEEP_ENABLED", true),
			IntervalSeconds: getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60),
			TimeoutSeconds:  getEnvAsInt("SWEEP_TIMEOUT_SECONDS", 30),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	// Thresholds must escalate, otherwise classification is ambiguous
	if cfg.Offline.MediumMinutes <= cfg.Offline.MinOfflineMinutes ||
		cfg.Offline.HighMinutes <= cfg.Offline.MediumMinutes ||
		cfg.Offline.CriticalMinutes <= cfg.Offline.HighMinutes {
		return nil, fmt.Errorf("offline thresholds must be strictly ascending (min < medium < high < critical)")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
