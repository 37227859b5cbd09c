package models

import "time"

// ReadingsBatch представляет пакет показаний для массовой загрузки
type ReadingsBatch struct {
	Readings []Reading `json:"readings" validate:"dive"`
}

// ForecastRequest запрос прогноза на момент времени
type ForecastRequest struct {
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Temperature *float64  `json:"temperature_c" validate:"required"`
}

// BatchResponse ответ на пакетный анализ
type BatchResponse struct {
	Processed      int              `json:"processed"`
	AnomaliesFound int              `json:"anomalies_found"`
	Results        []AnalysisResult `json:"results"`
}

// TrainResponse ответ на переобучение моделей
type TrainResponse struct {
	Samples int         `json:"samples"`
	Models  []ModelInfo `json:"models"`
	Errors  []string    `json:"errors,omitempty"`
}

// HistorySummary сводка по накопленной истории потребления
type HistorySummary struct {
	Readings         int     `json:"readings"`
	TotalConsumption float64 `json:"total_consumption"`
	AverageDaily     float64 `json:"average_daily"`
	TotalCost        string  `json:"total_cost"`
	TotalCarbonKg    float64 `json:"total_carbon_kg"`
	PeakDay          string  `json:"peak_day,omitempty"`
	LowestDay        string  `json:"lowest_day,omitempty"`
	EfficiencyScore  float64 `json:"efficiency_score"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	Models    string    `json:"models"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse содержит статистику сервиса
type StatsResponse struct {
	TotalReadings  int64   `json:"total_readings"`
	AnomaliesCount int64   `json:"anomalies_count"`
	HistoryLength  int64   `json:"history_length"`
	RecentAverage  float64 `json:"recent_average"`
	RecentStdDev   float64 `json:"recent_std_dev"`
}
