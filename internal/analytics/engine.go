package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"energy-insights/internal/advisor"
	"energy-insights/internal/anomaly"
	"energy-insights/internal/features"
	"energy-insights/internal/forecast"
	"energy-insights/internal/models"
	"energy-insights/internal/pattern"
)

// Forecaster тип регрессора
const (
	ForecasterForest = "forest"
	ForecasterLinear = "linear"
)

// Config параметры движка анализа
type Config struct {
	Clusters           int
	Contamination      float64
	Percentile         float64
	Threshold          float64
	Seed               uint64
	Strategy           anomaly.Strategy
	Forecaster         string
	MinSamples         int
	Window             int
	Trees              int
	MaxDepth           int
	SampleSize         int
	DefaultTemperature float64
	Fallback           bool
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Clusters:           pattern.DefaultClusters,
		Contamination:      anomaly.DefaultContamination,
		Percentile:         anomaly.DefaultPercentile,
		Threshold:          advisor.DefaultThreshold,
		Seed:               42,
		Strategy:           anomaly.StrategyIsolation,
		Forecaster:         ForecasterForest,
		MinSamples:         forecast.DefaultMinSamples,
		Window:             anomaly.DefaultWindow,
		Trees:              100,
		MaxDepth:           12,
		SampleSize:         256,
		DefaultTemperature: 20,
		Fallback:           true,
	}
}

// Engine связывает признаки, прогноз, кластеризацию, детектор и рекомендации.
// Модели принадлежат движку, читатели никогда не берут блокировок.
type Engine struct {
	cfg       Config
	extractor features.Extractor
	forecast  *forecast.Model
	clusters  *pattern.Clusterer
	detector  *anomaly.Detector
	policy    advisor.Policy
	logger    *zap.Logger
}

// NewEngine создаёт движок с необученными моделями
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var trainer forecast.Trainer
	switch cfg.Forecaster {
	case ForecasterForest, "":
		fc := forecast.DefaultForestConfig()
		if cfg.Trees > 0 {
			fc.Trees = cfg.Trees
		}
		if cfg.MaxDepth > 0 {
			fc.MaxDepth = cfg.MaxDepth
		}
		fc.Seed = cfg.Seed
		trainer = fc
	case ForecasterLinear:
		trainer = forecast.LinearConfig{}
	default:
		return nil, fmt.Errorf("unknown forecaster %q", cfg.Forecaster)
	}

	detector, err := anomaly.NewDetector(anomaly.Config{
		Strategy:      cfg.Strategy,
		Contamination: cfg.Contamination,
		Percentile:    cfg.Percentile,
		Clusters:      cfg.Clusters,
		Trees:         cfg.Trees,
		SampleSize:    cfg.SampleSize,
		Window:        cfg.Window,
		MinSamples:    cfg.MinSamples,
		Seed:          cfg.Seed,
	}, logger)
	if err != nil {
		return nil, err
	}

	policy := advisor.DefaultPolicy()
	if cfg.Threshold > 0 {
		policy.Threshold = cfg.Threshold
	}

	return &Engine{
		cfg:       cfg,
		extractor: features.Extractor{DefaultTemperature: cfg.DefaultTemperature},
		forecast: forecast.NewModel(forecast.Config{
			MinSamples: cfg.MinSamples,
			Fallback:   cfg.Fallback,
			Seed:       cfg.Seed,
		}, trainer, logger),
		clusters: pattern.NewClusterer(cfg.Clusters, cfg.Seed, logger),
		detector: detector,
		policy:   policy,
		logger:   logger.With(zap.String("component", "engine")),
	}, nil
}

// Train обучает три модели параллельно. Модель, которая не смогла обучиться,
// сохраняет прежние параметры; ошибки объединяются. Контекст проверяется
// только до начала обучения.
func (e *Engine) Train(ctx context.Context, history []models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := make([]forecast.Sample, len(history))
	points := make([]pattern.Point, len(history))
	for i, r := range history {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
		x, err := e.extractor.Extract(r)
		if err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
		samples[i] = forecast.Sample{Features: x, Target: r.EnergyUsage}
		points[i] = pointOf(r)
	}

	// после старта модели публикуются независимо, отмена контекста на них не влияет
	errs := make([]error, 3)
	var g errgroup.Group
	g.Go(func() error {
		errs[0] = wrapModel("forecast", e.forecast.Fit(samples))
		return nil
	})
	g.Go(func() error {
		errs[1] = wrapModel("pattern", e.clusters.Fit(points))
		return nil
	})
	g.Go(func() error {
		errs[2] = wrapModel("anomaly", e.detector.Fit(points))
		return nil
	})
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		e.logger.Warn("training finished with errors", zap.Int("readings", len(history)), zap.Error(err))
	} else {
		e.logger.Info("training finished", zap.Int("readings", len(history)))
	}
	return err
}

// Analyze оценивает одно показание по опубликованным моделям
func (e *Engine) Analyze(r models.Reading, baseline Baseline) (models.AnalysisResult, error) {
	if err := r.Validate(); err != nil {
		return models.AnalysisResult{}, err
	}
	x, err := e.extractor.Extract(r)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	predicted, err := e.forecast.Predict(x)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("forecast: %w", err)
	}

	p := pointOf(r)
	cluster, err := e.clusters.Assign(p)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("pattern: %w", err)
	}
	score, err := e.detector.Score(p)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("anomaly: %w", err)
	}
	return e.result(r, predicted, cluster, score, baseline), nil
}

// AnalyzeBatch оценивает пакет. Прогноз берётся из опубликованной модели,
// кластеры и аномалии считаются по всему пакету сразу. Порядок результатов
// совпадает с порядком входа.
func (e *Engine) AnalyzeBatch(ctx context.Context, readings []models.Reading, baseline Baseline) ([]models.AnalysisResult, error) {
	if len(readings) == 0 {
		return []models.AnalysisResult{}, nil
	}

	// маленький пакет нельзя кластеризовать сам по себе
	if len(readings) < max(e.cfg.MinSamples, e.clusters.K()) {
		results := make([]models.AnalysisResult, len(readings))
		for i, r := range readings {
			res, err := e.Analyze(r, baseline)
			if err != nil {
				return nil, fmt.Errorf("reading %d: %w", i, err)
			}
			results[i] = res
		}
		return results, nil
	}

	predicted := make([]float64, len(readings))
	points := make([]pattern.Point, len(readings))
	for i, r := range readings {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		x, err := e.extractor.Extract(r)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		if predicted[i], err = e.forecast.Predict(x); err != nil {
			return nil, fmt.Errorf("forecast: %w", err)
		}
		points[i] = pointOf(r)
	}

	var labels []int
	var scores []anomaly.Score
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		labels = e.clusters.FitPredict(points)
		return ctx.Err()
	})
	g.Go(func() error {
		var err error
		scores, err = e.detector.FitScore(points)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]models.AnalysisResult, len(readings))
	for i, r := range readings {
		results[i] = e.result(r, predicted[i], labels[i], scores[i], baseline)
	}
	return results, nil
}

// Forecast прогноз на момент времени с интервалом, кластером и рекомендациями.
// Кластер и аномалия оцениваются для пары (час, прогноз).
func (e *Engine) Forecast(ts time.Time, temperature *float64, baseline Baseline) (models.ForecastResult, error) {
	temp := e.extractor.DefaultTemperature
	if temperature != nil {
		temp = *temperature
	}
	x, err := e.extractor.At(ts, temp)
	if err != nil {
		return models.ForecastResult{}, err
	}
	predicted, err := e.forecast.Predict(x)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("forecast: %w", err)
	}

	p := pattern.Point{Hour: float64(ts.Hour()), Usage: predicted}
	cluster, err := e.clusters.Assign(p)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("pattern: %w", err)
	}
	score, err := e.detector.Score(p)
	if err != nil {
		return models.ForecastResult{}, fmt.Errorf("anomaly: %w", err)
	}

	avg := baselineAt(baseline, ts.Hour())
	lower, upper := advisor.Interval(predicted)
	return models.ForecastResult{
		Timestamp:         ts,
		PredictedValue:    predicted,
		Lower:             lower,
		Upper:             upper,
		HistoricalAverage: avg,
		ClusterID:         cluster,
		IsAnomaly:         score.IsAnomaly,
		AnomalyScore:      score.Severity,
		Recommendations:   e.policy.Recommend(predicted, avg, ts.Hour(), score.IsAnomaly),
	}, nil
}

// Models описания опубликованных моделей
func (e *Engine) Models() []models.ModelInfo {
	return []models.ModelInfo{e.forecast.Info(), e.clusters.Info(), e.detector.Info()}
}

// Ready все модели обучены хотя бы раз
func (e *Engine) Ready() bool {
	for _, m := range e.Models() {
		if !m.Fitted {
			return false
		}
	}
	return true
}

func (e *Engine) result(r models.Reading, predicted float64, cluster int, score anomaly.Score, baseline Baseline) models.AnalysisResult {
	hour := r.Timestamp.Hour()
	avg := baselineAt(baseline, hour)
	return models.AnalysisResult{
		Timestamp:         r.Timestamp,
		EnergyUsage:       r.EnergyUsage,
		PredictedValue:    predicted,
		HistoricalAverage: avg,
		ClusterID:         cluster,
		IsAnomaly:         score.IsAnomaly,
		AnomalyScore:      score.Severity,
		Recommendations:   e.policy.Recommend(predicted, avg, hour, score.IsAnomaly),
	}
}

func pointOf(r models.Reading) pattern.Point {
	return pattern.Point{Hour: float64(r.Timestamp.Hour()), Usage: r.EnergyUsage}
}

func wrapModel(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
