// Package models содержит структуры данных для показаний счётчиков и результатов анализа
package models

import (
	"fmt"
	"math"
	"time"
)

// Reading представляет одно показание потребления энергии.
// После создания не изменяется.
type Reading struct {
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	EnergyUsage float64   `json:"energy_usage" validate:"gte=0"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
}

// Validate проверяет показание на границе ядра
func (r Reading) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidInput)
	}
	if math.IsNaN(r.EnergyUsage) || math.IsInf(r.EnergyUsage, 0) || r.EnergyUsage < 0 {
		return fmt.Errorf("%w: energy usage %v", ErrInvalidInput, r.EnergyUsage)
	}
	if r.Temperature != nil && (math.IsNaN(*r.Temperature) || math.IsInf(*r.Temperature, 0)) {
		return fmt.Errorf("%w: temperature %v", ErrInvalidInput, *r.Temperature)
	}
	return nil
}

// Celsius возвращает указатель на температуру, удобно для литералов
func Celsius(v float64) *float64 {
	return &v
}

// AnalysisResult содержит результат анализа одного показания
type AnalysisResult struct {
	Timestamp         time.Time `json:"timestamp"`
	EnergyUsage       float64   `json:"energy_usage"`
	PredictedValue    float64   `json:"predicted_value"`
	HistoricalAverage float64   `json:"historical_average"`
	ClusterID         int       `json:"cluster_id"`
	IsAnomaly         bool      `json:"is_anomaly"`
	AnomalyScore      float64   `json:"anomaly_score"`
	Recommendations   []string  `json:"recommendations"`
}

// ForecastResult содержит прогноз потребления на заданный момент
type ForecastResult struct {
	Timestamp         time.Time `json:"timestamp"`
	PredictedValue    float64   `json:"predicted_energy_kwh"`
	Lower             float64   `json:"lower"`
	Upper             float64   `json:"upper"`
	HistoricalAverage float64   `json:"historical_average"`
	ClusterID         int       `json:"pattern_cluster"`
	IsAnomaly         bool      `json:"anomaly_detected"`
	AnomalyScore      float64   `json:"anomaly_score"`
	Recommendations   []string  `json:"recommendations"`
}

// ModelInfo описывает опубликованную модель
type ModelInfo struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Fitted     bool      `json:"fitted"`
	Fallback   bool      `json:"fallback,omitempty"`
	Samples    int       `json:"samples"`
	HoldoutMAE *float64  `json:"holdout_mae,omitempty"`
	TrainedAt  time.Time `json:"trained_at"`
}
