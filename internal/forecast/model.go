// Package forecast реализует прогноз потребления по вектору признаков.
//
// Обученные параметры неизменяемы и публикуются атомарно: повторное обучение
// строит новый набор и подменяет указатель, читатели видят либо старую,
// либо новую модель целиком.
package forecast

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"energy-insights/internal/features"
	"energy-insights/internal/models"
)

const (
	// DefaultMinSamples минимальный объём выборки для полноценного обучения
	DefaultMinSamples = 7
	// FallbackWindow число последних значений для оценки средним
	FallbackWindow = 7
	// HoldoutFraction доля отложенной выборки для оценки качества
	HoldoutFraction = 0.2
)

// Sample пара (признаки, целевое значение)
type Sample struct {
	Features features.Vector
	Target   float64
}

// Predictor обученная модель, безопасна для конкурентного чтения
type Predictor interface {
	Predict(x features.Vector) float64
}

// Trainer строит Predictor по выборке
type Trainer interface {
	Train(samples []Sample) (Predictor, error)
	Kind() string
}

// Config параметры модели прогноза
type Config struct {
	MinSamples int
	// Fallback при нехватке данных публикует оценку средним вместо ошибки
	Fallback bool
	Seed     uint64
}

type fitted struct {
	predictor Predictor
	kind      string
	fallback  bool
	samples   int
	mae       *float64
	trainedAt time.Time
}

// Model модель прогноза потребления
type Model struct {
	cfg     Config
	trainer Trainer
	logger  *zap.Logger
	current atomic.Pointer[fitted]
}

// NewModel создаёт необученную модель
func NewModel(cfg Config, trainer Trainer, logger *zap.Logger) *Model {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		cfg:     cfg,
		trainer: trainer,
		logger:  logger.With(zap.String("component", "forecast")),
	}
}

// Fit обучает модель и атомарно публикует новые параметры.
// При ошибке опубликованная модель не меняется.
func (m *Model) Fit(samples []Sample) error {
	n := len(samples)
	if n == 0 {
		return fmt.Errorf("%w: no samples", models.ErrInsufficientData)
	}

	if n < m.cfg.MinSamples {
		if !m.cfg.Fallback {
			return fmt.Errorf("%w: %d samples, need %d", models.ErrInsufficientData, n, m.cfg.MinSamples)
		}
		m.current.Store(&fitted{
			predictor: newMean(samples, FallbackWindow),
			kind:      "mean",
			fallback:  true,
			samples:   n,
			trainedAt: time.Now(),
		})
		m.logger.Warn("too few samples, using recent mean",
			zap.Int("samples", n), zap.Int("min_samples", m.cfg.MinSamples))
		return nil
	}

	var mae *float64
	if n >= 2*m.cfg.MinSamples {
		v, err := m.holdoutMAE(samples)
		if err != nil {
			return err
		}
		mae = &v
	}

	predictor, err := m.trainer.Train(samples)
	if err != nil {
		return fmt.Errorf("train %s: %w", m.trainer.Kind(), err)
	}

	m.current.Store(&fitted{
		predictor: predictor,
		kind:      m.trainer.Kind(),
		samples:   n,
		mae:       mae,
		trainedAt: time.Now(),
	})

	fields := []zap.Field{zap.String("kind", m.trainer.Kind()), zap.Int("samples", n)}
	if mae != nil {
		fields = append(fields, zap.Float64("holdout_mae", *mae))
	}
	m.logger.Info("forecast model trained", fields...)
	return nil
}

// Predict возвращает неотрицательный прогноз потребления
func (m *Model) Predict(x features.Vector) (float64, error) {
	f := m.current.Load()
	if f == nil {
		return 0, models.ErrModelNotFitted
	}
	return clamp(f.predictor.Predict(x)), nil
}

// Fitted сообщает, опубликована ли модель
func (m *Model) Fitted() bool {
	return m.current.Load() != nil
}

// Info описывает опубликованную модель
func (m *Model) Info() models.ModelInfo {
	info := models.ModelInfo{Name: "forecast", Kind: m.trainer.Kind()}
	f := m.current.Load()
	if f == nil {
		return info
	}
	info.Kind = f.kind
	info.Fitted = true
	info.Fallback = f.fallback
	info.Samples = f.samples
	info.HoldoutMAE = f.mae
	info.TrainedAt = f.trainedAt
	return info
}

// holdoutMAE оценивает ошибку на отложенной части выборки
func (m *Model) holdoutMAE(samples []Sample) (float64, error) {
	rng := rand.New(rand.NewPCG(m.cfg.Seed, uint64(len(samples))))
	perm := rng.Perm(len(samples))

	nTest := int(math.Round(float64(len(samples)) * HoldoutFraction))
	if nTest < 1 {
		nTest = 1
	}
	test := make([]Sample, 0, nTest)
	train := make([]Sample, 0, len(samples)-nTest)
	for k, i := range perm {
		if k < nTest {
			test = append(test, samples[i])
		} else {
			train = append(train, samples[i])
		}
	}

	p, err := m.trainer.Train(train)
	if err != nil {
		return 0, fmt.Errorf("holdout %s: %w", m.trainer.Kind(), err)
	}

	total := 0.0
	for _, s := range test {
		total += math.Abs(clamp(p.Predict(s.Features)) - s.Target)
	}
	return total / float64(len(test)), nil
}

// clamp потребление не бывает отрицательным
func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// mean оценка средним по последним значениям
type mean struct {
	value float64
}

func newMean(samples []Sample, window int) *mean {
	if window > len(samples) {
		window = len(samples)
	}
	recent := samples[len(samples)-window:]
	sum := 0.0
	for _, s := range recent {
		sum += s.Target
	}
	return &mean{value: sum / float64(len(recent))}
}

func (m *mean) Predict(features.Vector) float64 { return m.value }
