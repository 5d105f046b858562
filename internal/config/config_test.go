package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 10*time.Second, cfg.Sync.PendingSweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.Sync.StaleThreshold)
	assert.Equal(t, 7*24*time.Hour, cfg.Telemetry.Retention)
	assert.Empty(t, cfg.ML.BaseURL, "recommendation job defaults to disabled")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("SYNC_STALE_THRESHOLD", "5m")
	t.Setenv("ML_BASE_URL", "http://predict:8000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Sync.StaleThreshold)
	assert.Equal(t, "http://predict:8000", cfg.ML.BaseURL)
}

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "postgres", Database: "hydroponics", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=hydroponics sslmode=disable",
		cfg.DSN())
}
