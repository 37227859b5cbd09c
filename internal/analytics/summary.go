package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"energy-insights/internal/advisor"
	"energy-insights/internal/models"
)

// Summarize сводка по истории: суммы по дням, стоимость, выбросы.
// Оценка эффективности сравнивает последний день со средним за день.
func Summarize(history []models.Reading, tariff float64) models.HistorySummary {
	if tariff <= 0 {
		tariff = advisor.DefaultTariff
	}
	summary := models.HistorySummary{Readings: len(history), TotalCost: "0.00"}
	if len(history) == 0 {
		return summary
	}

	daily := make(map[string]float64)
	cost := decimal.Zero
	for _, r := range history {
		summary.TotalConsumption += r.EnergyUsage
		daily[r.Timestamp.Format("2006-01-02")] += r.EnergyUsage
		cost = cost.Add(advisor.Cost(r.EnergyUsage, tariff))
	}

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	summary.PeakDay, summary.LowestDay = days[0], days[0]
	for _, d := range days[1:] {
		if daily[d] > daily[summary.PeakDay] {
			summary.PeakDay = d
		}
		if daily[d] < daily[summary.LowestDay] {
			summary.LowestDay = d
		}
	}

	summary.AverageDaily = summary.TotalConsumption / float64(len(days))
	summary.TotalCost = cost.StringFixed(2)
	summary.TotalCarbonKg = advisor.CarbonFootprint(summary.TotalConsumption)
	summary.EfficiencyScore = advisor.EfficiencyScore(daily[days[len(days)-1]], summary.AverageDaily)
	return summary
}
