package analytics

import (
	"sync"

	"energy-insights/internal/models"
)

const (
	// HoursPerDay число часовых окон базовой линии
	HoursPerDay = 24
	// DefaultPerHour сколько последних показаний одного часа усредняется
	DefaultPerHour = 30
	// RecentWindow окно запасного среднего по последним показаниям
	RecentWindow = 7
)

// Baseline историческая норма потребления для часа суток
type Baseline interface {
	At(hour int) float64
}

// ConstantBaseline одна норма на все часы
type ConstantBaseline float64

// At реализует Baseline
func (c ConstantBaseline) At(int) float64 { return float64(c) }

// HourlyBaseline скользящее среднее по тому же часу суток.
// Если для часа нет данных, берётся среднее последних RecentWindow показаний,
// а без истории норма равна 0.
type HourlyBaseline struct {
	mu     sync.RWMutex
	hours  [HoursPerDay]*SlidingWindow
	recent *SlidingWindow
}

// NewHourlyBaseline создаёт базовую линию с окном perHour на каждый час
func NewHourlyBaseline(perHour int) *HourlyBaseline {
	if perHour <= 0 {
		perHour = DefaultPerHour
	}
	b := &HourlyBaseline{recent: NewSlidingWindow(RecentWindow)}
	for h := range b.hours {
		b.hours[h] = NewSlidingWindow(perHour)
	}
	return b
}

// Add учитывает показание
func (b *HourlyBaseline) Add(r models.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(r)
}

// Seed загружает историю в порядке времени
func (b *HourlyBaseline) Seed(history []models.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range history {
		b.add(r)
	}
}

func (b *HourlyBaseline) add(r models.Reading) {
	b.hours[r.Timestamp.Hour()].Add(r.EnergyUsage)
	b.recent.Add(r.EnergyUsage)
}

// At реализует Baseline
func (b *HourlyBaseline) At(hour int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if hour >= 0 && hour < HoursPerDay && b.hours[hour].Count() > 0 {
		return b.hours[hour].Mean()
	}
	return b.recent.Mean()
}

// Recent среднее и стандартное отклонение последних показаний
func (b *HourlyBaseline) Recent() (mean, stdDev float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recent.Mean(), b.recent.StdDev()
}

func baselineAt(b Baseline, hour int) float64 {
	if b == nil {
		return 0
	}
	return b.At(hour)
}
