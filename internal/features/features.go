// Package features извлекает вектор признаков из показания.
// Порядок признаков фиксирован и общий для обучения и инференса.
package features

import (
	"fmt"
	"math"
	"time"

	"energy-insights/internal/models"
)

// Индексы признаков в векторе
const (
	Hour = iota
	DayOfWeek
	DayOfMonth
	Month
	Temperature
	// Arity количество признаков
	Arity
)

// Names имена признаков в порядке вектора
var Names = [Arity]string{"hour", "day_of_week", "day_of_month", "month", "temperature_c"}

// Vector вектор признаков фиксированной длины
type Vector [Arity]float64

// Extractor извлекает признаки. DefaultTemperature подставляется,
// когда показание пришло без температуры.
type Extractor struct {
	DefaultTemperature float64
}

// Extract возвращает вектор признаков для показания.
// День недели считается с понедельника: понедельник = 0, воскресенье = 6.
func (e Extractor) Extract(r models.Reading) (Vector, error) {
	temp := e.DefaultTemperature
	if r.Temperature != nil {
		temp = *r.Temperature
	}
	return e.At(r.Timestamp, temp)
}

// At возвращает вектор признаков для момента времени и температуры
func (e Extractor) At(ts time.Time, temperature float64) (Vector, error) {
	if ts.IsZero() {
		return Vector{}, fmt.Errorf("%w: missing timestamp", models.ErrInvalidInput)
	}
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return Vector{}, fmt.Errorf("%w: temperature %v", models.ErrInvalidInput, temperature)
	}

	var v Vector
	v[Hour] = float64(ts.Hour())
	v[DayOfWeek] = float64(MondayIndex(ts.Weekday()))
	v[DayOfMonth] = float64(ts.Day())
	v[Month] = float64(ts.Month())
	v[Temperature] = temperature
	return v, nil
}

// MondayIndex переводит time.Weekday в нумерацию с понедельника
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
