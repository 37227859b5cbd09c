// Package anomaly оценивает, насколько показание выходит за пределы нормы.
//
// Две стратегии (изолирующий лес и расстояние до центров k-means) реализуют
// один интерфейс Fitter и выбираются конфигурацией.
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"energy-insights/internal/models"
	"energy-insights/internal/pattern"
)

// Strategy стратегия детекции
type Strategy string

const (
	// StrategyIsolation изолирующий лес с заданной долей загрязнения
	StrategyIsolation Strategy = "isolation"
	// StrategyDistance перцентиль расстояния до ближайшего центра кластера
	StrategyDistance Strategy = "distance"
)

const (
	// DefaultContamination ожидаемая доля выбросов
	DefaultContamination = 0.05
	// DefaultPercentile порог расстояния
	DefaultPercentile = 95.0
	// DefaultWindow сколько последних показаний задают норму
	DefaultWindow = 30
	// DefaultMinSamples минимальный объём выборки
	DefaultMinSamples = 7
)

// Score результат оценки одной точки. Severity монотонно растёт
// по мере удаления точки от нормы.
type Score struct {
	IsAnomaly bool
	Severity  float64
}

// Scorer обученная модель нормы, безопасна для конкурентного чтения
type Scorer interface {
	Score(p pattern.Point) Score
	Threshold() float64
}

// Fitter строит Scorer по выборке
type Fitter interface {
	Fit(points []pattern.Point) (Scorer, error)
}

// Config параметры детектора
type Config struct {
	Strategy      Strategy
	Contamination float64
	Percentile    float64
	Clusters      int
	Trees         int
	SampleSize    int
	Window        int
	MinSamples    int
	Seed          uint64
}

// NewFitter возвращает стратегию по конфигурации
func NewFitter(cfg Config) (Fitter, error) {
	switch cfg.Strategy {
	case StrategyIsolation, "":
		return IsolationConfig{
			Trees:         cfg.Trees,
			SampleSize:    cfg.SampleSize,
			Contamination: cfg.Contamination,
			Seed:          cfg.Seed,
		}, nil
	case StrategyDistance:
		return DistanceConfig{
			Clusters:   cfg.Clusters,
			Percentile: cfg.Percentile,
			Seed:       cfg.Seed,
		}, nil
	default:
		return nil, fmt.Errorf("unknown anomaly strategy %q", cfg.Strategy)
	}
}

type published struct {
	scorer    Scorer
	samples   int
	trainedAt time.Time
}

// Detector держит опубликованную модель нормы
type Detector struct {
	cfg     Config
	fitter  Fitter
	logger  *zap.Logger
	current atomic.Pointer[published]
}

// NewDetector создаёт детектор с выбранной стратегией
func NewDetector(cfg Config, logger *zap.Logger) (*Detector, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyIsolation
	}
	if cfg.Contamination == 0 {
		cfg.Contamination = DefaultContamination
	}
	if cfg.Percentile == 0 {
		cfg.Percentile = DefaultPercentile
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	fitter, err := NewFitter(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:    cfg,
		fitter: fitter,
		logger: logger.With(zap.String("component", "anomaly"), zap.String("strategy", string(cfg.Strategy))),
	}, nil
}

// Fit обучает норму только на последних Window точках истории
// и атомарно публикует модель. При ошибке прежняя модель остаётся.
func (d *Detector) Fit(history []pattern.Point) error {
	recent := history
	if len(recent) > d.cfg.Window {
		recent = recent[len(recent)-d.cfg.Window:]
	}
	if len(recent) < d.cfg.MinSamples {
		return fmt.Errorf("%w: %d points, need %d", models.ErrInsufficientData, len(recent), d.cfg.MinSamples)
	}

	scorer, err := d.fitter.Fit(recent)
	if err != nil {
		return err
	}
	d.current.Store(&published{scorer: scorer, samples: len(recent), trainedAt: time.Now()})

	d.logger.Info("anomaly model trained",
		zap.Int("samples", len(recent)),
		zap.Float64("threshold", scorer.Threshold()))
	return nil
}

// Score оценивает точку по опубликованной модели
func (d *Detector) Score(p pattern.Point) (Score, error) {
	cur := d.current.Load()
	if cur == nil {
		return Score{}, models.ErrModelNotFitted
	}
	return cur.scorer.Score(p), nil
}

// FitScore обучается на пакете и оценивает каждую его точку.
// Опубликованную модель не трогает.
func (d *Detector) FitScore(points []pattern.Point) ([]Score, error) {
	if len(points) == 0 {
		return []Score{}, nil
	}
	if len(points) < d.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d points, need %d", models.ErrInsufficientData, len(points), d.cfg.MinSamples)
	}

	scorer, err := d.fitter.Fit(points)
	if err != nil {
		return nil, err
	}
	scores := make([]Score, len(points))
	for i, p := range points {
		scores[i] = scorer.Score(p)
	}
	return scores, nil
}

// Info описывает опубликованную модель
func (d *Detector) Info() models.ModelInfo {
	info := models.ModelInfo{Name: "anomaly", Kind: string(d.cfg.Strategy)}
	cur := d.current.Load()
	if cur == nil {
		return info
	}
	info.Fitted = true
	info.Samples = cur.samples
	info.TrainedAt = cur.trainedAt
	return info
}

// Percentile перцентиль с линейной интерполяцией между соседними рангами
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
