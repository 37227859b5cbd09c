package advisor

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// CarbonPerKWh выбросы CO2 в кг на кВт·ч
	CarbonPerKWh = 0.4
	// DefaultTariff цена кВт·ч
	DefaultTariff = 0.12
	// IntervalSpread ширина интервала прогноза в долях
	IntervalSpread = 0.15
)

// EfficiencyScore оценка 0..100 текущего потребления относительно нормы.
// Без нормы возвращает нейтральные 50.
func EfficiencyScore(current, historicalAvg float64) float64 {
	if historicalAvg == 0 || math.IsNaN(historicalAvg) || math.IsInf(historicalAvg, 0) {
		return 50
	}
	saving := math.Max(0, (historicalAvg-current)/historicalAvg*100)
	return math.Min(100, math.Max(0, 100-saving))
}

// CarbonFootprint кг CO2, округлённые до сотых
func CarbonFootprint(kwh float64) float64 {
	return round2(kwh * CarbonPerKWh)
}

// Cost стоимость потребления, округлённая до центов
func Cost(kwh, tariff float64) decimal.Decimal {
	return decimal.NewFromFloat(kwh).Mul(decimal.NewFromFloat(tariff)).Round(2)
}

// Interval нижняя и верхняя граница прогноза
func Interval(predicted float64) (lower, upper float64) {
	return predicted * (1 - IntervalSpread), predicted * (1 + IntervalSpread)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
