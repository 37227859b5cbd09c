// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"energy-insights/internal/models"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energy_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"endpoint", "method"},
	)

	// ReadingsReceived количество принятых показаний по источнику
	ReadingsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_readings_received_total",
			Help: "Total number of readings received",
		},
		[]string{"source"},
	)

	// AnomaliesDetected количество обнаруженных аномалий
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "energy_anomalies_detected_total",
			Help: "Total number of anomalous readings",
		},
	)

	// AnomalyScore оценка аномальности последнего показания
	AnomalyScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_anomaly_score",
			Help: "Anomaly severity of the last analyzed reading",
		},
	)

	// PredictedUsage прогноз для последнего показания
	PredictedUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_predicted_usage_kwh",
			Help: "Predicted consumption for the last analyzed reading",
		},
	)

	// HistoricalAverage норма для последнего показания
	HistoricalAverage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_historical_average_kwh",
			Help: "Baseline consumption for the hour of the last analyzed reading",
		},
	)

	// TrainingsTotal количество обучений по исходу
	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trainings_total",
			Help: "Total number of model trainings",
		},
		[]string{"status"},
	)

	// TrainingDuration длительность обучения
	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "energy_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// HoldoutMAE ошибка прогноза на отложенной выборке
	HoldoutMAE = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_forecast_holdout_mae",
			Help: "Mean absolute error of the forecast on the hold-out split",
		},
	)

	// ModelFitted 1 если модель опубликована
	ModelFitted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "energy_model_fitted",
			Help: "Whether the model has published parameters",
		},
		[]string{"model"},
	)

	// CacheWrites записи в кэш по исходу (ok, error)
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_cache_writes_total",
			Help: "Total number of cache writes by status",
		},
		[]string{"status"},
	)

	// CacheLookups чтения результатов анализа из кэша (hit, miss)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_cache_lookups_total",
			Help: "Total number of analysis result lookups by outcome",
		},
		[]string{"result"},
	)

	// StreamDropped показания, отброшенные из-за полного буфера
	StreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "energy_stream_dropped_total",
			Help: "Readings dropped because the stream buffer was full",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_active_goroutines",
			Help: "Number of active goroutines",
		},
	)

	// AnalysisLatency время анализа одного показания или пакета
	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energy_analysis_latency_seconds",
			Help:    "Analysis computation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"mode"},
	)
)

// ObserveResult обновляет метрики по результату анализа
func ObserveResult(r models.AnalysisResult) {
	AnomalyScore.Set(r.AnomalyScore)
	PredictedUsage.Set(r.PredictedValue)
	HistoricalAverage.Set(r.HistoricalAverage)
	if r.IsAnomaly {
		AnomaliesDetected.Inc()
	}
}

// ObserveModels обновляет состояние моделей после обучения
func ObserveModels(infos []models.ModelInfo) {
	for _, info := range infos {
		fitted := 0.0
		if info.Fitted {
			fitted = 1
		}
		ModelFitted.WithLabelValues(info.Name).Set(fitted)
		if info.HoldoutMAE != nil {
			HoldoutMAE.Set(*info.HoldoutMAE)
		}
	}
}
