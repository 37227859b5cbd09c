package forecast

import (
	"fmt"
	"math"

	"github.com/sajari/regression"

	"energy-insights/internal/features"
	"energy-insights/internal/models"
)

// LinearConfig линейная регрессия методом наименьших квадратов
type LinearConfig struct{}

// Kind реализует Trainer
func (LinearConfig) Kind() string { return "linear" }

// Train решает задачу МНК. Признаки с нулевой дисперсией исключаются,
// иначе матрица вырождена (например, месяц внутри одного месяца истории).
func (LinearConfig) Train(samples []Sample) (Predictor, error) {
	cols := varyingColumns(samples)
	if len(samples) < len(cols)+1 {
		return nil, fmt.Errorf("%w: %d samples for %d features", models.ErrInsufficientData, len(samples), len(cols))
	}
	if len(cols) == 0 {
		return newMean(samples, len(samples)), nil
	}

	var r regression.Regression
	r.SetObserved("energy_usage")
	for j, col := range cols {
		r.SetVar(j, features.Names[col])
	}
	for _, s := range samples {
		vars := make([]float64, len(cols))
		for j, col := range cols {
			vars[j] = s.Features[col]
		}
		r.Train(regression.DataPoint(s.Target, vars))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("linear regression: %w", err)
	}

	lm := &linear{intercept: r.Coeff(0), cols: cols, coeffs: make([]float64, len(cols))}
	for j := range cols {
		lm.coeffs[j] = r.Coeff(j + 1)
	}
	if math.IsNaN(lm.intercept) || math.IsInf(lm.intercept, 0) {
		return nil, fmt.Errorf("linear regression: degenerate intercept")
	}
	for _, c := range lm.coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("linear regression: degenerate coefficients")
		}
	}
	return lm, nil
}

type linear struct {
	intercept float64
	cols      []int
	coeffs    []float64
}

func (l *linear) Predict(x features.Vector) float64 {
	p := l.intercept
	for j, col := range l.cols {
		p += l.coeffs[j] * x[col]
	}
	return p
}

func varyingColumns(samples []Sample) []int {
	cols := make([]int, 0, features.Arity)
	if len(samples) == 0 {
		return cols
	}
	for f := 0; f < features.Arity; f++ {
		first := samples[0].Features[f]
		for _, s := range samples[1:] {
			if s.Features[f] != first {
				cols = append(cols, f)
				break
			}
		}
	}
	return cols
}
