// Package config загружает конфигурацию сервиса: значения по умолчанию,
// YAML файл, переменные окружения (в том числе из .env) и проверка.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"energy-insights/internal/advisor"
	"energy-insights/internal/analytics"
	"energy-insights/internal/anomaly"
	"energy-insights/internal/ingest"
)

// Config конфигурация сервиса
type Config struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Log    LogConfig    `yaml:"log"`
	Engine EngineConfig `yaml:"engine"`
	Stream StreamConfig `yaml:"stream"`
}

// ServerConfig HTTP сервер
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gt=0"`
}

// RedisConfig подключение к Redis
type RedisConfig struct {
	Addr         string `yaml:"addr" validate:"required"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db" validate:"gte=0"`
	HistoryLimit int    `yaml:"history_limit" validate:"gte=0"`
}

// KafkaConfig поток показаний (необязательный)
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers" validate:"required_if=Enabled true"`
	ReadingsTopic string   `yaml:"readings_topic" validate:"required_if=Enabled true"`
	ResultsTopic  string   `yaml:"results_topic"`
	GroupID       string   `yaml:"group_id" validate:"required_if=Enabled true"`
}

// LogConfig логирование
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// EngineConfig параметры моделей и рекомендаций
type EngineConfig struct {
	Clusters            int           `yaml:"n_clusters" validate:"gte=1"`
	Contamination       float64       `yaml:"contamination" validate:"gt=0,lt=0.5"`
	Percentile          float64       `yaml:"anomaly_threshold_percentile" validate:"gt=0,lt=100"`
	ThresholdMultiplier float64       `yaml:"recommendation_threshold_multiplier" validate:"gt=0"`
	Seed                uint64        `yaml:"seed"`
	AnomalyStrategy     string        `yaml:"anomaly_strategy" validate:"oneof=isolation distance"`
	Forecaster          string        `yaml:"forecaster" validate:"oneof=forest linear"`
	MinTrainingSamples  int           `yaml:"min_training_samples" validate:"gte=1"`
	AnomalyWindow       int           `yaml:"anomaly_window" validate:"gtefield=MinTrainingSamples"`
	Trees               int           `yaml:"trees" validate:"gte=1"`
	MaxDepth            int           `yaml:"max_depth" validate:"gte=1"`
	IsolationSampleSize int           `yaml:"isolation_sample_size" validate:"gte=2"`
	DefaultTemperatureC float64       `yaml:"default_temperature_c"`
	ForecastFallback    bool          `yaml:"forecast_fallback"`
	Tariff              float64       `yaml:"tariff" validate:"gt=0"`
	BaselinePerHour     int           `yaml:"baseline_per_hour" validate:"gte=1"`
	RetrainInterval     time.Duration `yaml:"retrain_interval" validate:"gte=0"`
	BootstrapDays       int           `yaml:"bootstrap_synthetic_days" validate:"gte=0"`
}

// StreamConfig пул воркеров потока показаний
type StreamConfig struct {
	Workers    int `yaml:"workers" validate:"gte=1"`
	BufferSize int `yaml:"buffer_size" validate:"gte=1"`
}

// Default конфигурация по умолчанию
func Default() Config {
	engine := analytics.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ReadingsTopic: ingest.DefaultReadingsTopic,
			ResultsTopic:  ingest.DefaultResultsTopic,
			GroupID:       ingest.DefaultGroupID,
		},
		Log: LogConfig{Level: "info"},
		Engine: EngineConfig{
			Clusters:            engine.Clusters,
			Contamination:       engine.Contamination,
			Percentile:          engine.Percentile,
			ThresholdMultiplier: engine.Threshold,
			Seed:                engine.Seed,
			AnomalyStrategy:     string(engine.Strategy),
			Forecaster:          engine.Forecaster,
			MinTrainingSamples:  engine.MinSamples,
			AnomalyWindow:       engine.Window,
			Trees:               engine.Trees,
			MaxDepth:            engine.MaxDepth,
			IsolationSampleSize: engine.SampleSize,
			DefaultTemperatureC: engine.DefaultTemperature,
			ForecastFallback:    engine.Fallback,
			Tariff:              advisor.DefaultTariff,
			BaselinePerHour:     analytics.DefaultPerHour,
			RetrainInterval:     time.Hour,
			BootstrapDays:       30,
		},
		Stream: StreamConfig{
			Workers:    runtime.NumCPU(),
			BufferSize: 10000,
		},
	}
}

// LoadDotEnv загружает переменные из .env файлов. Отсутствующий файл не ошибка,
// уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load строит конфигурацию: значения по умолчанию, затем YAML файл path
// (если задан), затем переменные окружения, затем проверка.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет значения по тегам validate
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Analytics параметры движка анализа
func (c Config) Analytics() analytics.Config {
	e := c.Engine
	return analytics.Config{
		Clusters:           e.Clusters,
		Contamination:      e.Contamination,
		Percentile:         e.Percentile,
		Threshold:          e.ThresholdMultiplier,
		Seed:               e.Seed,
		Strategy:           anomaly.Strategy(e.AnomalyStrategy),
		Forecaster:         e.Forecaster,
		MinSamples:         e.MinTrainingSamples,
		Window:             e.AnomalyWindow,
		Trees:              e.Trees,
		MaxDepth:           e.MaxDepth,
		SampleSize:         e.IsolationSampleSize,
		DefaultTemperature: e.DefaultTemperatureC,
		Fallback:           e.ForecastFallback,
	}
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		*dst = getEnv(key, *dst)
	}
	num := func(key string, dst *int) {
		v, err := getEnvInt(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	flt := func(key string, dst *float64) {
		v, err := getEnvFloat(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	flag := func(key string, dst *bool) {
		v, err := getEnvBool(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	dur := func(key string, dst *time.Duration) {
		v, err := getEnvDuration(key, *dst)
		errs = append(errs, err)
		*dst = v
	}

	str("SERVER_ADDR", &c.Server.Addr)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	num("REDIS_HISTORY_LIMIT", &c.Redis.HistoryLimit)

	flag("KAFKA_ENABLED", &c.Kafka.Enabled)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	str("KAFKA_READINGS_TOPIC", &c.Kafka.ReadingsTopic)
	str("KAFKA_RESULTS_TOPIC", &c.Kafka.ResultsTopic)
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)

	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_DEVELOPMENT", &c.Log.Development)

	num("N_CLUSTERS", &c.Engine.Clusters)
	flt("CONTAMINATION", &c.Engine.Contamination)
	flt("ANOMALY_THRESHOLD_PERCENTILE", &c.Engine.Percentile)
	flt("RECOMMENDATION_THRESHOLD_MULTIPLIER", &c.Engine.ThresholdMultiplier)
	str("ANOMALY_STRATEGY", &c.Engine.AnomalyStrategy)
	str("FORECASTER", &c.Engine.Forecaster)
	num("MIN_TRAINING_SAMPLES", &c.Engine.MinTrainingSamples)
	num("ANOMALY_WINDOW", &c.Engine.AnomalyWindow)
	num("TREES", &c.Engine.Trees)
	num("MAX_DEPTH", &c.Engine.MaxDepth)
	flt("DEFAULT_TEMPERATURE_C", &c.Engine.DefaultTemperatureC)
	flag("FORECAST_FALLBACK", &c.Engine.ForecastFallback)
	flt("TARIFF", &c.Engine.Tariff)
	dur("RETRAIN_INTERVAL", &c.Engine.RetrainInterval)
	num("BOOTSTRAP_SYNTHETIC_DAYS", &c.Engine.BootstrapDays)
	if v := getEnv("SEED", ""); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SEED: %w", err))
		} else {
			c.Engine.Seed = seed
		}
	}

	num("WORKER_COUNT", &c.Stream.Workers)
	num("BUFFER_SIZE", &c.Stream.BufferSize)

	return errors.Join(errs...)
}

// getEnv получает переменную окружения со значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
