// Package synth генерирует детерминированный почасовой ряд потребления
// с суточным профилем, выходными и температурой.
package synth

import (
	"math"
	"math/rand/v2"
	"time"

	"energy-insights/internal/models"
)

// Options параметры генерации
type Options struct {
	Start time.Time
	Days  int
	Seed  uint64
	// Noise относительный шум потребления
	Noise float64
}

// DefaultOptions тридцать дней с полуночи 1 января 2024 UTC
func DefaultOptions() Options {
	return Options{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:  30,
		Seed:  42,
		Noise: 0.05,
	}
}

// Profile типичное потребление в кВт·ч для часа суток
func Profile(hour int) float64 {
	switch {
	case hour < 6:
		return 0.4
	case hour < 9:
		return 0.9
	case hour < 17:
		return 0.7
	case hour == 17:
		return 1.2
	case hour <= 22:
		return 1.8
	default:
		return 0.6
	}
}

// Hourly возвращает Days*24 показаний с шагом в час
func Hourly(opts Options) []models.Reading {
	if opts.Start.IsZero() {
		opts.Start = DefaultOptions().Start
	}
	rng := rand.New(rand.NewPCG(opts.Seed, 7))

	n := opts.Days * 24
	readings := make([]models.Reading, 0, n)
	for i := 0; i < n; i++ {
		ts := opts.Start.Add(time.Duration(i) * time.Hour)
		hour := ts.Hour()

		temp := 18 + 6*math.Sin(2*math.Pi*float64(hour-9)/24) + rng.NormFloat64()
		usage := Profile(hour)
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			usage *= 1.1
		}
		// кондиционер в жару
		usage += 0.05 * math.Max(0, temp-22)
		usage *= 1 + rng.NormFloat64()*opts.Noise

		readings = append(readings, models.Reading{
			Timestamp:   ts,
			EnergyUsage: math.Max(0, round3(usage)),
			Temperature: models.Celsius(round3(temp)),
		})
	}
	return readings
}

// Spike возвращает копию ряда, где показание index умножено на factor
func Spike(readings []models.Reading, index int, factor float64) []models.Reading {
	out := make([]models.Reading, len(readings))
	copy(out, readings)
	if index >= 0 && index < len(out) {
		out[index].EnergyUsage *= factor
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
