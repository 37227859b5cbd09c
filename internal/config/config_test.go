package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-insights/internal/anomaly"
)

var envKeys = []string{
	"SERVER_ADDR", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_HISTORY_LIMIT",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_READINGS_TOPIC", "KAFKA_RESULTS_TOPIC", "KAFKA_GROUP_ID",
	"LOG_LEVEL", "LOG_DEVELOPMENT", "N_CLUSTERS", "CONTAMINATION", "ANOMALY_THRESHOLD_PERCENTILE",
	"RECOMMENDATION_THRESHOLD_MULTIPLIER", "ANOMALY_STRATEGY", "FORECASTER", "MIN_TRAINING_SAMPLES",
	"ANOMALY_WINDOW", "TREES", "MAX_DEPTH", "DEFAULT_TEMPERATURE_C", "FORECAST_FALLBACK", "TARIFF",
	"RETRAIN_INTERVAL", "BOOTSTRAP_SYNTHETIC_DAYS", "SEED", "WORKER_COUNT", "BUFFER_SIZE",
}

// clearEnv blanks every variable Load reads; empty means unset for getEnv.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Engine.Clusters)
	assert.Equal(t, 0.05, cfg.Engine.Contamination)
	assert.Equal(t, 95.0, cfg.Engine.Percentile)
	assert.Equal(t, 1.2, cfg.Engine.ThresholdMultiplier)
	assert.Equal(t, uint64(42), cfg.Engine.Seed)
	assert.Equal(t, "isolation", cfg.Engine.AnomalyStrategy)
	assert.Equal(t, "forest", cfg.Engine.Forecaster)
	assert.Equal(t, 7, cfg.Engine.MinTrainingSamples)
	assert.Equal(t, 30, cfg.Engine.AnomalyWindow)
	assert.Equal(t, 20.0, cfg.Engine.DefaultTemperatureC)
	assert.True(t, cfg.Engine.ForecastFallback)
	assert.Equal(t, time.Hour, cfg.Engine.RetrainInterval)
	assert.GreaterOrEqual(t, cfg.Stream.Workers, 1)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9090"
  read_timeout: 5s
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
engine:
  anomaly_strategy: distance
  n_clusters: 4
  retrain_interval: 15m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "untouched keys keep defaults")
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "energy.readings", cfg.Kafka.ReadingsTopic)
	assert.Equal(t, 4, cfg.Engine.Clusters)
	assert.Equal(t, 15*time.Minute, cfg.Engine.RetrainInterval)

	ac := cfg.Analytics()
	assert.Equal(t, anomaly.StrategyDistance, ac.Strategy)
	assert.Equal(t, 4, ac.Clusters)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "engine:\n  contamination: 0.1\n")
	t.Setenv("CONTAMINATION", "0.2")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")
	t.Setenv("SEED", "7")
	t.Setenv("FORECAST_FALLBACK", "false")
	t.Setenv("RETRAIN_INTERVAL", "30m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Engine.Contamination)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	assert.Equal(t, uint64(7), cfg.Engine.Seed)
	assert.False(t, cfg.Engine.ForecastFallback)
	assert.Equal(t, 30*time.Minute, cfg.Engine.RetrainInterval)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_DB", "zero")
	t.Setenv("TARIFF", "cheap")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_DB")
	assert.Contains(t, err.Error(), "TARIFF")
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"contamination":   "CONTAMINATION=0.7",
		"strategy":        "ANOMALY_STRATEGY=lof",
		"forecaster":      "FORECASTER=arima",
		"log level":       "LOG_LEVEL=loud",
		"window":          "ANOMALY_WINDOW=3",
		"kafka no topic":  "KAFKA_ENABLED=true",
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			key, value, _ := strings.Cut(kv, "=")
			t.Setenv(key, value)
			if name == "kafka no topic" {
				path := writeFile(t, "config.yaml", "kafka:\n  readings_topic: \"\"\n")
				_, err := Load(path)
				assert.Error(t, err)
				return
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "ENERGY_INSIGHTS_DOTENV_CHECK"
	if _, ok := os.LookupEnv(key); ok {
		t.Skip("dotenv test variable already set")
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=loaded\n")
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv(key))
}
