// Package main запускает сервис анализа энергопотребления:
// HTTP API приёма показаний и прогнозов, обучение моделей по истории из Redis,
// поток показаний из Kafka и экспорт метрик в Prometheus.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"energy-insights/internal/analytics"
	"energy-insights/internal/cache"
	"energy-insights/internal/config"
	"energy-insights/internal/handlers"
	"energy-insights/internal/ingest"
	"energy-insights/internal/logging"
	"energy-insights/internal/metrics"
	"energy-insights/internal/models"
	"energy-insights/internal/synth"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("dotenv: %v", err)
	}
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting energy insights service",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.String("anomaly_strategy", cfg.Engine.AnomalyStrategy),
		zap.String("forecaster", cfg.Engine.Forecaster),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisCache := connectRedis(ctx, cfg.Redis, logger)

	engine, err := analytics.NewEngine(cfg.Analytics(), logger)
	if err != nil {
		logger.Fatal("failed to create engine", zap.Error(err))
	}
	baseline := analytics.NewHourlyBaseline(cfg.Engine.BaselinePerHour)
	bootstrap(ctx, engine, baseline, redisCache, cfg.Engine.BootstrapDays, logger)

	stream := analytics.NewStream(engine, baseline, cfg.Stream.BufferSize, logger)
	stream.Start(cfg.Stream.Workers)
	logger.Info("stream started", zap.Int("workers", cfg.Stream.Workers))

	handler := handlers.NewHandler(engine, baseline, redisCache, cfg.Engine.Tariff, logger)

	router := mux.NewRouter()
	router.Use(handlers.RequestID)
	router.Use(handlers.Logging(logger))
	handler.Register(router)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: gorillahandlers.RecoveryHandler(gorillahandlers.PrintRecoveryStack(cfg.Log.Development))(
			gorillahandlers.CORS(
				gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
				gorillahandlers.AllowedHeaders([]string{"Content-Type", handlers.RequestIDHeader}),
			)(router),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var publisher *ingest.Publisher
	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		if cfg.Kafka.ResultsTopic != "" {
			publisher = ingest.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ResultsTopic, logger)
		}
		consumer = ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ReadingsTopic, cfg.Kafka.GroupID, stream, logger)
		if redisCache != nil {
			consumer.WithRecorder(redisCache)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("kafka ingest enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.ReadingsTopic),
		)
	}

	go updateMetricsLoop(ctx, engine)
	go processResults(ctx, stream, redisCache, publisher, logger)
	if cfg.Engine.RetrainInterval > 0 && redisCache != nil {
		go retrainLoop(ctx, handler, cfg.Engine.RetrainInterval, logger)
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("kafka consumer close", zap.Error(err))
		}
	}
	stream.Stop()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka publisher close", zap.Error(err))
		}
	}
	if redisCache != nil {
		redisCache.Close()
	}

	logger.Info("server stopped")
}

// connectRedis подключается к Redis с повторами; без Redis сервис работает без кэша
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *cache.RedisCache {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		var c *cache.RedisCache
		c, err = cache.NewRedisCache(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.HistoryLimit)
		if err == nil {
			logger.Info("connected to redis", zap.String("addr", cfg.Addr))
			return c
		}
		logger.Warn("redis connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < attempts-1 {
			select {
			case <-time.After(time.Duration(i+1) * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
	logger.Warn("running without cache", zap.Error(err))
	return nil
}

// bootstrap заполняет базовую линию и обучает модели по истории из кэша.
// Пустая история заменяется синтетической, если days > 0.
func bootstrap(ctx context.Context, engine *analytics.Engine, baseline *analytics.HourlyBaseline, c *cache.RedisCache, days int, logger *zap.Logger) {
	var history []models.Reading
	if c != nil {
		h, err := c.History(ctx)
		if err != nil {
			logger.Warn("failed to load history", zap.Error(err))
		}
		history = h
	}
	source := "cache"
	if len(history) == 0 && days > 0 {
		opts := synth.DefaultOptions()
		opts.Days = days
		opts.Start = time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(days) * 24 * time.Hour)
		history = synth.Hourly(opts)
		source = "synthetic"
	}
	if len(history) == 0 {
		logger.Warn("no history, models stay unfitted until POST /train")
		return
	}

	baseline.Seed(history)
	err := engine.Train(ctx, history)
	metrics.ObserveModels(engine.Models())
	if err != nil {
		metrics.TrainingsTotal.WithLabelValues("error").Inc()
		logger.Warn("bootstrap training incomplete", zap.String("source", source), zap.Error(err))
		return
	}
	metrics.TrainingsTotal.WithLabelValues("ok").Inc()
	logger.Info("models trained", zap.String("source", source), zap.Int("readings", len(history)))
}

// retrainLoop периодически переобучает модели по истории из кэша
func retrainLoop(ctx context.Context, handler *handlers.Handler, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			resp, err := handler.Retrain(ctx)
			if err != nil {
				continue
			}
			logger.Info("scheduled retrain finished", zap.Int("samples", resp.Samples))
		case <-ctx.Done():
			return
		}
	}
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context, engine *analytics.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
			metrics.ObserveModels(engine.Models())
		case <-ctx.Done():
			return
		}
	}
}

// processResults обрабатывает результаты анализа потока
func processResults(ctx context.Context, stream *analytics.Stream, c *cache.RedisCache, publisher *ingest.Publisher, logger *zap.Logger) {
	for {
		select {
		case result := <-stream.Results():
			metrics.ObserveResult(result)
			if c != nil {
				if err := c.CacheAnalysisResult(ctx, result); err != nil {
					logger.Warn("failed to cache analysis result", zap.Error(err))
				}
			}
			if publisher != nil {
				if err := publisher.Publish(ctx, result); err != nil {
					logger.Warn("failed to publish analysis result", zap.Error(err))
				}
			}
			if result.IsAnomaly {
				logger.Info("anomaly detected",
					zap.Time("timestamp", result.Timestamp),
					zap.Float64("energy_usage", result.EnergyUsage),
					zap.Float64("anomaly_score", result.AnomalyScore),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
