// Package advisor превращает прогноз и историческую норму в рекомендации.
package advisor

import (
	"fmt"
	"math"
)

const (
	// DefaultThreshold во сколько раз прогноз должен превысить норму
	DefaultThreshold = 1.2
	// DefaultPeakStart начало вечернего пика (включительно)
	DefaultPeakStart = 18
	// DefaultPeakEnd конец вечернего пика (включительно)
	DefaultPeakEnd = 22
)

// Тексты рекомендаций
const (
	MsgShiftOffPeak   = "Try shifting heavy appliance use to off-peak hours before 6 PM or after 10 PM."
	MsgTurnOff        = "Consider turning off unused devices or check for appliance faults."
	MsgNormal         = "Energy use is within normal limits. Keep up the good habits!"
	MsgAlert          = "ALERT: Unusual energy consumption pattern detected!"
	MsgAnomalyHigher  = "Energy usage is significantly higher than expected. Please check for malfunctioning equipment."
	MsgAnomalyLower   = "Energy usage is significantly lower than expected. This might indicate equipment shutdown or malfunction."
	msgHigherTemplate = "Energy usage is %.2f times higher than usual at hour %d."
)

// Policy правила рекомендаций. Нулевое значение не годится, используйте DefaultPolicy.
type Policy struct {
	Threshold float64
	PeakStart int
	PeakEnd   int
}

// DefaultPolicy политика с порогом 1.2 и пиком 18–22
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, PeakStart: DefaultPeakStart, PeakEnd: DefaultPeakEnd}
}

// Recommend возвращает упорядоченный список рекомендаций.
// Функция чистая: одинаковые аргументы дают одинаковый результат.
func (p Policy) Recommend(predicted, historicalAvg float64, hour int, isAnomaly bool) []string {
	recs := make([]string, 0, 4)

	// без нормы сравнивать не с чем
	usable := historicalAvg > 0 && !math.IsInf(historicalAvg, 0) && !math.IsNaN(historicalAvg)

	if usable && predicted > historicalAvg*p.Threshold {
		recs = append(recs, fmt.Sprintf(msgHigherTemplate, predicted/historicalAvg, hour))
		if p.isPeak(hour) {
			recs = append(recs, MsgShiftOffPeak)
		} else {
			recs = append(recs, MsgTurnOff)
		}
	} else {
		recs = append(recs, MsgNormal)
	}

	if isAnomaly {
		recs = append(recs, MsgAlert)
		if predicted > historicalAvg {
			recs = append(recs, MsgAnomalyHigher)
		} else {
			recs = append(recs, MsgAnomalyLower)
		}
	}
	return recs
}

func (p Policy) isPeak(hour int) bool {
	return hour >= p.PeakStart && hour <= p.PeakEnd
}
