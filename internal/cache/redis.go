// Package cache хранит историю показаний и результаты анализа в Redis
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"energy-insights/internal/models"
)

const (
	// ReadingKeyPrefix префикс ключей отдельных показаний
	ReadingKeyPrefix = "reading:"
	// HistoryKey список показаний, новые в начале
	HistoryKey = "readings:history"
	// AnalysisKeyPrefix префикс результатов анализа
	AnalysisKeyPrefix = "analysis:"
	// TotalReadingsKey счётчик принятых показаний
	TotalReadingsKey = "stats:readings_total"
	// AnomaliesKey счётчик найденных аномалий
	AnomaliesKey = "stats:anomalies_total"
	// DefaultHistoryLimit сколько показаний хранится в истории (90 дней по часам)
	DefaultHistoryLimit = 2160
	// ReadingTTL время жизни отдельного показания
	ReadingTTL = 24 * time.Hour
	// AnalysisTTL время жизни результата анализа
	AnalysisTTL = 1 * time.Hour
)

// RedisCache история показаний в Redis
type RedisCache struct {
	client       *redis.Client
	historyLimit int64
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(ctx context.Context, addr, password string, db, historyLimit int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &RedisCache{client: client, historyLimit: int64(historyLimit)}, nil
}

// CacheReading сохраняет показание и добавляет его в историю
func (r *RedisCache) CacheReading(ctx context.Context, reading models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	key := fmt.Sprintf("%s%d", ReadingKeyPrefix, reading.Timestamp.UnixNano())

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, ReadingTTL)
	pipe.LPush(ctx, HistoryKey, data)
	pipe.LTrim(ctx, HistoryKey, 0, r.historyLimit-1)
	pipe.Incr(ctx, TotalReadingsKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache reading: %w", err)
	}
	return nil
}

// CacheReadings сохраняет пакет одним конвейером, порядок пакета сохраняется
func (r *RedisCache) CacheReadings(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, reading := range readings {
		data, err := json.Marshal(reading)
		if err != nil {
			return fmt.Errorf("failed to marshal reading: %w", err)
		}
		pipe.LPush(ctx, HistoryKey, data)
	}
	pipe.LTrim(ctx, HistoryKey, 0, r.historyLimit-1)
	pipe.IncrBy(ctx, TotalReadingsKey, int64(len(readings)))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache readings: %w", err)
	}
	return nil
}

// LatestReadings возвращает последние count показаний, новые первыми
func (r *RedisCache) LatestReadings(ctx context.Context, count int64) ([]models.Reading, error) {
	return r.readRange(ctx, 0, count-1)
}

// History возвращает всю сохранённую историю в хронологическом порядке
func (r *RedisCache) History(ctx context.Context) ([]models.Reading, error) {
	readings, err := r.readRange(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

func (r *RedisCache) readRange(ctx context.Context, start, stop int64) ([]models.Reading, error) {
	data, err := r.client.LRange(ctx, HistoryKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	readings := make([]models.Reading, 0, len(data))
	for _, d := range data {
		var reading models.Reading
		if err := json.Unmarshal([]byte(d), &reading); err != nil {
			continue
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// CacheAnalysisResult сохраняет результат анализа и считает аномалии
func (r *RedisCache) CacheAnalysisResult(ctx context.Context, result models.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	key := fmt.Sprintf("%s%d", AnalysisKeyPrefix, result.Timestamp.UnixNano())
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, AnalysisTTL)
	if result.IsAnomaly {
		pipe.Incr(ctx, AnomaliesKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache analysis result: %w", err)
	}
	return nil
}

// AnalysisResult возвращает сохранённый результат для момента времени
func (r *RedisCache) AnalysisResult(ctx context.Context, ts time.Time) (models.AnalysisResult, bool, error) {
	var result models.AnalysisResult
	data, err := r.client.Get(ctx, fmt.Sprintf("%s%d", AnalysisKeyPrefix, ts.UnixNano())).Bytes()
	if err == redis.Nil {
		return result, false, nil
	}
	if err != nil {
		return result, false, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false, err
	}
	return result, true, nil
}

// GetCounter возвращает значение счётчика, 0 если его нет
func (r *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// HistoryLen длина истории
func (r *RedisCache) HistoryLen(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, HistoryKey).Result()
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
