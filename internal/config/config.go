package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN builds the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// SyncConfig drives the background sync scheduler.
type SyncConfig struct {
	PendingSweepInterval  time.Duration // republish interval for pending twins
	StaleSweepInterval    time.Duration // staleness check interval
	StaleThreshold        time.Duration // no reported state for this long => stale
	PairingExpiryInterval time.Duration // pairing session expiry check interval
	PublishTimeout        time.Duration // bound on outbound publish calls
}

// MLConfig configures the prediction service client. An empty BaseURL
// disables the recommendation job entirely.
type MLConfig struct {
	BaseURL                string
	Timeout                time.Duration
	RecommendationInterval time.Duration
}

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Sync     SyncConfig
	ML       MLConfig

	Telemetry struct {
		Retention time.Duration // raw time-series expiry
	}

	HTTP struct {
		ListenAddr string // /ws and /metrics
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "hydroponics")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "hydro-sync")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Sync.PendingSweepInterval = getEnvDuration("SYNC_PENDING_INTERVAL", 10*time.Second)
	cfg.Sync.StaleSweepInterval = getEnvDuration("SYNC_STALE_INTERVAL", 60*time.Second)
	cfg.Sync.StaleThreshold = getEnvDuration("SYNC_STALE_THRESHOLD", 2*time.Minute)
	cfg.Sync.PairingExpiryInterval = getEnvDuration("PAIRING_EXPIRY_INTERVAL", 5*time.Second)
	cfg.Sync.PublishTimeout = getEnvDuration("SYNC_PUBLISH_TIMEOUT", 5*time.Second)

	cfg.ML.BaseURL = getEnv("ML_BASE_URL", "")
	cfg.ML.Timeout = getEnvDuration("ML_TIMEOUT", 10*time.Second)
	cfg.ML.RecommendationInterval = getEnvDuration("ML_RECOMMENDATION_INTERVAL", 15*time.Minute)

	cfg.Telemetry.Retention = getEnvDuration("TELEMETRY_RETENTION", 7*24*time.Hour)

	cfg.HTTP.ListenAddr = getEnv("HTTP_LISTEN_ADDR", ":8090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
