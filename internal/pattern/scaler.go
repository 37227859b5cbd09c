package pattern

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Point точка пространства (час суток, потребление)
type Point struct {
	Hour  float64
	Usage float64
}

// Scaler приводит оси к нулевому среднему и единичной дисперсии.
// Без масштабирования кластеры определяла бы ось с большим разбросом.
type Scaler struct {
	Mean  [2]float64
	Scale [2]float64
}

// FitScaler оценивает параметры масштабирования (дисперсия генеральной совокупности)
func FitScaler(points []Point) Scaler {
	s := Scaler{Scale: [2]float64{1, 1}}
	if len(points) == 0 {
		return s
	}

	axes := [2][]float64{make([]float64, len(points)), make([]float64, len(points))}
	for i, p := range points {
		axes[0][i] = p.Hour
		axes[1][i] = p.Usage
	}

	n := float64(len(points))
	for i, xs := range axes {
		mean, variance := stat.MeanVariance(xs, nil)
		s.Mean[i] = mean
		if len(xs) < 2 {
			continue
		}
		if sd := math.Sqrt(variance * (n - 1) / n); sd > 0 {
			s.Scale[i] = sd
		}
	}
	return s
}

// Transform масштабирует точку
func (s Scaler) Transform(p Point) [2]float64 {
	return [2]float64{
		(p.Hour - s.Mean[0]) / s.Scale[0],
		(p.Usage - s.Mean[1]) / s.Scale[1],
	}
}

// TransformAll масштабирует набор точек
func (s Scaler) TransformAll(points []Point) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = s.Transform(p)
	}
	return out
}
