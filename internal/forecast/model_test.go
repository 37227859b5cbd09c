package forecast

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-insights/internal/features"
	"energy-insights/internal/models"
)

// hourlySamples builds a daily usage shape: higher in the evening, scaled by temperature.
func hourlySamples(days int) []Sample {
	e := features.Extractor{}
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	samples := make([]Sample, 0, days*24)
	for h := 0; h < days*24; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		temp := 15 + float64(h%10)
		v, _ := e.At(ts, temp)

		usage := 0.5 + 0.05*temp
		if ts.Hour() >= 18 && ts.Hour() <= 22 {
			usage += 1.5
		}
		samples = append(samples, Sample{Features: v, Target: usage})
	}
	return samples
}

func constantSamples(n int, target float64) []Sample {
	samples := hourlySamples(2)[:n]
	out := make([]Sample, n)
	for i, s := range samples {
		out[i] = Sample{Features: s.Features, Target: target}
	}
	return out
}

func smallForest() ForestConfig {
	cfg := DefaultForestConfig()
	cfg.Trees = 20
	return cfg
}

func TestModel_PredictBeforeFit(t *testing.T) {
	m := NewModel(Config{Fallback: true}, smallForest(), nil)

	_, err := m.Predict(features.Vector{})
	assert.True(t, errors.Is(err, models.ErrModelNotFitted))
	assert.False(t, m.Fitted())
}

func TestModel_ForestLearnsEveningPeak(t *testing.T) {
	m := NewModel(Config{Seed: 42}, smallForest(), nil)
	require.NoError(t, m.Fit(hourlySamples(14)))

	e := features.Extractor{}
	evening, _ := e.At(time.Date(2025, 9, 20, 20, 0, 0, 0, time.UTC), 20)
	morning, _ := e.At(time.Date(2025, 9, 20, 9, 0, 0, 0, time.UTC), 20)

	pe, err := m.Predict(evening)
	require.NoError(t, err)
	pm, err := m.Predict(morning)
	require.NoError(t, err)

	assert.Greater(t, pe, pm+1.0, "evening %.2f vs morning %.2f", pe, pm)

	info := m.Info()
	assert.True(t, info.Fitted)
	assert.Equal(t, "random_forest", info.Kind)
	require.NotNil(t, info.HoldoutMAE)
	assert.Less(t, *info.HoldoutMAE, 0.5)
}

func TestModel_Reproducible(t *testing.T) {
	samples := hourlySamples(7)
	a := NewModel(Config{Seed: 7}, smallForest(), nil)
	b := NewModel(Config{Seed: 7}, smallForest(), nil)
	require.NoError(t, a.Fit(samples))
	require.NoError(t, b.Fit(samples))

	for _, s := range samples[:48] {
		pa, _ := a.Predict(s.Features)
		pb, _ := b.Predict(s.Features)
		assert.Equal(t, pa, pb)

		// No hidden randomness after fit
		again, _ := a.Predict(s.Features)
		assert.Equal(t, pa, again)
	}
}

func TestModel_NeverNegative(t *testing.T) {
	// A linear fit on a steep downward trend extrapolates below zero.
	samples := make([]Sample, 0, 24)
	for h := 0; h < 24; h++ {
		var v features.Vector
		v[features.Hour] = float64(h)
		samples = append(samples, Sample{Features: v, Target: math.Max(0, 10-float64(h))})
	}

	m := NewModel(Config{}, LinearConfig{}, nil)
	require.NoError(t, m.Fit(samples))

	var far features.Vector
	far[features.Hour] = 500
	p, err := m.Predict(far)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)

	f := NewModel(Config{}, smallForest(), nil)
	require.NoError(t, f.Fit(samples))
	for h := -50; h < 100; h++ {
		var v features.Vector
		v[features.Hour] = float64(h)
		p, _ := f.Predict(v)
		assert.GreaterOrEqual(t, p, 0.0)
	}
}

func TestModel_FallbackToMean(t *testing.T) {
	m := NewModel(Config{MinSamples: 7, Fallback: true}, smallForest(), nil)
	samples := constantSamples(3, 0)
	samples[0].Target = 3
	samples[1].Target = 6
	samples[2].Target = 9

	require.NoError(t, m.Fit(samples))
	p, err := m.Predict(features.Vector{})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, p, 1e-9)

	info := m.Info()
	assert.True(t, info.Fallback)
	assert.Equal(t, "mean", info.Kind)
}

func TestModel_InsufficientDataKeepsState(t *testing.T) {
	m := NewModel(Config{MinSamples: 7}, smallForest(), nil)

	err := m.Fit(constantSamples(3, 1))
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
	assert.False(t, m.Fitted())

	require.NoError(t, m.Fit(constantSamples(10, 5)))
	err = m.Fit(nil)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))

	p, err := m.Predict(features.Vector{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, p)
}

func TestModel_RefitAtomic(t *testing.T) {
	m := NewModel(Config{}, smallForest(), nil)
	low := constantSamples(20, 10)
	high := constantSamples(20, 20)
	require.NoError(t, m.Fit(low))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x := low[3].Features
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, err := m.Predict(x)
				if err != nil || (p != 10 && p != 20) {
					t.Errorf("observed mixed parameters: %v (err=%v)", p, err)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			require.NoError(t, m.Fit(high))
		} else {
			require.NoError(t, m.Fit(low))
		}
	}
	close(stop)
	wg.Wait()
}

func TestLinear_ConstantColumnsDropped(t *testing.T) {
	samples := hourlySamples(3)
	// month is constant within three days of September
	p, err := LinearConfig{}.Train(samples)
	require.NoError(t, err)

	for _, s := range samples[:10] {
		v := p.Predict(s.Features)
		assert.False(t, math.IsNaN(v))
	}
}

func BenchmarkForestTrain(b *testing.B) {
	samples := hourlySamples(30)
	cfg := DefaultForestConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = cfg.Train(samples)
	}
}

func BenchmarkForestPredict(b *testing.B) {
	samples := hourlySamples(30)
	p, _ := DefaultForestConfig().Train(samples)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Predict(samples[i%len(samples)].Features)
	}
}
