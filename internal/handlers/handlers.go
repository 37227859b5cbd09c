// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"energy-insights/internal/analytics"
	"energy-insights/internal/cache"
	"energy-insights/internal/metrics"
	"energy-insights/internal/models"
)

const (
	// DefaultLatestCount сколько показаний отдаёт /readings/latest без параметра
	DefaultLatestCount = 50
	// MaxLatestCount верхняя граница параметра count
	MaxLatestCount = 1000
)

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	engine    *analytics.Engine
	baseline  *analytics.HourlyBaseline
	cache     *cache.RedisCache
	validate  *validator.Validate
	logger    *zap.Logger
	tariff    float64
	startTime time.Time
}

// NewHandler создаёт обработчик. cache может быть nil: тогда история не сохраняется.
func NewHandler(engine *analytics.Engine, baseline *analytics.HourlyBaseline, c *cache.RedisCache, tariff float64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:    engine,
		baseline:  baseline,
		cache:     c,
		validate:  validator.New(),
		logger:    logger.With(zap.String("component", "http")),
		tariff:    tariff,
		startTime: time.Now(),
	}
}

// Register регистрирует маршруты API
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/readings", h.instrument("/readings", h.ReadingHandler)).Methods(http.MethodPost)
	r.HandleFunc("/readings/batch", h.instrument("/readings/batch", h.BatchHandler)).Methods(http.MethodPost)
	r.HandleFunc("/readings/latest", h.instrument("/readings/latest", h.LatestReadingsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/analysis", h.instrument("/analysis", h.AnalysisHandler)).Methods(http.MethodGet)
	r.HandleFunc("/forecast", h.instrument("/forecast", h.ForecastHandler)).Methods(http.MethodPost)
	r.HandleFunc("/train", h.instrument("/train", h.TrainHandler)).Methods(http.MethodPost)
	r.HandleFunc("/model", h.instrument("/model", h.ModelHandler)).Methods(http.MethodGet)
	r.HandleFunc("/summary", h.instrument("/summary", h.SummaryHandler)).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.instrument("/stats", h.StatsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	r.Handle("/prometheus", promhttp.Handler())
}

// ReadingHandler обрабатывает POST /readings: анализ показания по часовой норме
func (h *Handler) ReadingHandler(w http.ResponseWriter, r *http.Request) {
	var reading models.Reading
	if !h.decode(w, r, &reading) {
		return
	}
	metrics.ReadingsReceived.WithLabelValues("http").Inc()

	start := time.Now()
	result, err := h.engine.Analyze(reading, h.baseline)
	metrics.AnalysisLatency.WithLabelValues("single").Observe(time.Since(start).Seconds())
	if errors.Is(err, models.ErrInvalidInput) {
		h.respondFailure(w, err)
		return
	}

	// показание попадает в историю даже до первого обучения
	h.store(r.Context(), reading)
	h.baseline.Add(reading)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	metrics.ObserveResult(result)
	if h.cache != nil {
		if err := h.cache.CacheAnalysisResult(r.Context(), result); err != nil {
			h.logger.Warn("failed to cache analysis result", zap.Error(err))
		}
	}
	h.respondJSON(w, result, http.StatusOK)
}

// BatchHandler обрабатывает POST /readings/batch
func (h *Handler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	var batch models.ReadingsBatch
	if !h.decode(w, r, &batch) {
		return
	}
	metrics.ReadingsReceived.WithLabelValues("http_batch").Add(float64(len(batch.Readings)))

	start := time.Now()
	results, err := h.engine.AnalyzeBatch(r.Context(), batch.Readings, h.baseline)
	metrics.AnalysisLatency.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.CacheReadings(r.Context(), batch.Readings); err != nil {
			metrics.CacheWrites.WithLabelValues("error").Inc()
			h.logger.Warn("failed to cache batch", zap.Int("readings", len(batch.Readings)), zap.Error(err))
		} else {
			metrics.CacheWrites.WithLabelValues("ok").Inc()
		}
	}
	h.baseline.Seed(batch.Readings)

	anomalies := 0
	for _, res := range results {
		metrics.ObserveResult(res)
		if !res.IsAnomaly {
			continue
		}
		anomalies++
		if h.cache != nil {
			if err := h.cache.CacheAnalysisResult(r.Context(), res); err != nil {
				h.logger.Warn("failed to cache analysis result", zap.Time("timestamp", res.Timestamp), zap.Error(err))
			}
		}
	}

	h.respondJSON(w, models.BatchResponse{
		Processed:      len(results),
		AnomaliesFound: anomalies,
		Results:        results,
	}, http.StatusOK)
}

// AnalysisHandler обрабатывает GET /analysis?timestamp=RFC3339: сохранённый результат анализа
func (h *Handler) AnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}
	ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("timestamp"))
	if err != nil {
		h.respondError(w, "timestamp must be RFC3339", http.StatusBadRequest)
		return
	}

	result, found, err := h.cache.AnalysisResult(r.Context(), ts)
	if err != nil {
		h.respondError(w, "Failed to get analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		h.respondError(w, "Analysis not found", http.StatusNotFound)
		return
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	h.respondJSON(w, result, http.StatusOK)
}

// LatestReadingsHandler возвращает последние показания из кэша
func (h *Handler) LatestReadingsHandler(w http.ResponseWriter, r *http.Request) {
	count := int64(DefaultLatestCount)
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		c, err := strconv.ParseInt(countStr, 10, 64)
		if err != nil || c <= 0 || c > MaxLatestCount {
			h.respondError(w, "count must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		count = c
	}

	if h.cache == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}

	readings, err := h.cache.LatestReadings(r.Context(), count)
	if err != nil {
		h.respondError(w, "Failed to get readings: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, readings, http.StatusOK)
}

// ForecastHandler обрабатывает POST /forecast
func (h *Handler) ForecastHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ForecastRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.Forecast(req.Timestamp, req.Temperature, h.baseline)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	metrics.PredictedUsage.Set(result.PredictedValue)
	h.respondJSON(w, result, http.StatusOK)
}

// TrainHandler обрабатывает POST /train: переобучение по истории из кэша
func (h *Handler) TrainHandler(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}

	resp, err := h.Retrain(r.Context())
	if err != nil && !h.anyFitted() {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// Retrain загружает историю из кэша и обучает модели.
// Ошибки отдельных моделей попадают в ответ, прежние параметры этих моделей остаются.
func (h *Handler) Retrain(ctx context.Context) (models.TrainResponse, error) {
	if h.cache == nil {
		return models.TrainResponse{}, errors.New("cache not available")
	}
	history, err := h.cache.History(ctx)
	if err != nil {
		return models.TrainResponse{}, err
	}

	timer := prometheus.NewTimer(metrics.TrainingDuration)
	err = h.engine.Train(ctx, history)
	timer.ObserveDuration()

	resp := models.TrainResponse{Samples: len(history), Models: h.engine.Models()}
	metrics.ObserveModels(resp.Models)
	if err != nil {
		metrics.TrainingsTotal.WithLabelValues("error").Inc()
		resp.Errors = splitErrors(err)
		h.logger.Warn("retrain failed", zap.Int("samples", len(history)), zap.Error(err))
		return resp, err
	}
	metrics.TrainingsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

// ModelHandler описания опубликованных моделей
func (h *Handler) ModelHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.engine.Models(), http.StatusOK)
}

// SummaryHandler сводка по накопленной истории
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}
	history, err := h.cache.History(r.Context())
	if err != nil {
		h.respondError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, analytics.Summarize(history, h.tariff), http.StatusOK)
}

// HealthHandler обрабатывает GET /health
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disconnected"
	if h.cache != nil && h.cache.Ping(r.Context()) == nil {
		redisStatus = "connected"
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     redisStatus,
		Models:    "ready",
		Uptime:    time.Since(h.startTime).String(),
	}
	if !h.engine.Ready() {
		status.Status = "degraded"
		status.Models = "not_fitted"
	}
	h.respondJSON(w, status, http.StatusOK)
}

// StatsHandler обрабатывает GET /stats
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	var resp models.StatsResponse
	if h.cache != nil {
		resp.TotalReadings, _ = h.cache.GetCounter(r.Context(), cache.TotalReadingsKey)
		resp.AnomaliesCount, _ = h.cache.GetCounter(r.Context(), cache.AnomaliesKey)
		resp.HistoryLength, _ = h.cache.HistoryLen(r.Context())
	}
	resp.RecentAverage, resp.RecentStdDev = h.baseline.Recent()
	h.respondJSON(w, resp, http.StatusOK)
}

func (h *Handler) store(ctx context.Context, reading models.Reading) {
	if h.cache == nil {
		return
	}
	if err := h.cache.CacheReading(ctx, reading); err != nil {
		metrics.CacheWrites.WithLabelValues("error").Inc()
		h.logger.Warn("failed to cache reading", zap.Error(err))
		return
	}
	metrics.CacheWrites.WithLabelValues("ok").Inc()
}

func (h *Handler) anyFitted() bool {
	for _, m := range h.engine.Models() {
		if m.Fitted {
			return true
		}
	}
	return false
}

// decode читает JSON и проверяет теги validate. false, если ответ уже отправлен.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// respondFailure переводит ошибку ядра в HTTP статус
func (h *Handler) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		h.respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrModelNotFitted):
		h.respondError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, models.ErrInsufficientData):
		h.respondError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.respondError(w, "internal error", http.StatusInternalServerError)
	}
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}

func splitErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		out := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
