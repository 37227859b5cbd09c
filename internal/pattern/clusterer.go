// Package pattern группирует показания в поведенческие кластеры по
// паре (час суток, потребление).
//
// Номера кластеров лежат в [0, k) и не сохраняют смысл между обучениями:
// повторное обучение может переставить метки.
package pattern

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"energy-insights/internal/models"
)

// DefaultClusters число кластеров по умолчанию
const DefaultClusters = 3

// Model обученный кластеризатор: параметры масштабирования и центры
type Model struct {
	Scaler  Scaler
	Centers [][2]float64
	Sizes   []int
	Samples int
	Trained time.Time
}

// Assign возвращает кластер ближайшего центра
func (m *Model) Assign(p Point) int {
	c, _ := Nearest(m.Centers, nil, m.Scaler.Transform(p))
	return c
}

// Clusterer разбиение на фиксированное число кластеров
type Clusterer struct {
	k       int
	seed    uint64
	logger  *zap.Logger
	current atomic.Pointer[Model]
}

// NewClusterer создаёт кластеризатор на k кластеров
func NewClusterer(k int, seed uint64, logger *zap.Logger) *Clusterer {
	if k <= 0 {
		k = DefaultClusters
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clusterer{k: k, seed: seed, logger: logger.With(zap.String("component", "pattern"))}
}

// K число кластеров
func (c *Clusterer) K() int { return c.k }

// FitPredict кластеризует пакет целиком и возвращает метку для каждой точки.
// Опубликованную модель не трогает.
func (c *Clusterer) FitPredict(points []Point) []int {
	labels := make([]int, len(points))
	if len(points) < c.k {
		// каждой точке свой кластер
		for i := range labels {
			labels[i] = i
		}
		return labels
	}

	scaler := FitScaler(points)
	km := FitKMeans(scaler.TransformAll(points), c.k, c.seed)
	copy(labels, km.Labels)
	return labels
}

// Fit обучает модель на истории и атомарно публикует её
func (c *Clusterer) Fit(points []Point) error {
	if len(points) < c.k {
		return fmt.Errorf("%w: %d points for %d clusters", models.ErrInsufficientData, len(points), c.k)
	}

	scaler := FitScaler(points)
	km := FitKMeans(scaler.TransformAll(points), c.k, c.seed)
	c.current.Store(&Model{
		Scaler:  scaler,
		Centers: km.Centers,
		Sizes:   km.Sizes,
		Samples: len(points),
		Trained: time.Now(),
	})

	c.logger.Info("pattern model trained",
		zap.Int("samples", len(points)),
		zap.Ints("sizes", km.Sizes),
		zap.Float64("inertia", km.Inertia))
	return nil
}

// Assign относит точку к кластеру опубликованной модели
func (c *Clusterer) Assign(p Point) (int, error) {
	m := c.current.Load()
	if m == nil {
		return 0, models.ErrModelNotFitted
	}
	return m.Assign(p), nil
}

// Info описывает опубликованную модель
func (c *Clusterer) Info() models.ModelInfo {
	info := models.ModelInfo{Name: "pattern", Kind: fmt.Sprintf("kmeans_%d", c.k)}
	m := c.current.Load()
	if m == nil {
		return info
	}
	info.Fitted = true
	info.Samples = m.Samples
	info.TrainedAt = m.Trained
	return info
}
