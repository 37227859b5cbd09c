package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"energy-insights/internal/analytics"
	"energy-insights/internal/cache"
	"energy-insights/internal/models"
	"energy-insights/internal/synth"
)

type testServer struct {
	router  http.Handler
	redis   *miniredis.Miniredis
	cache   *cache.RedisCache
	engine  *analytics.Engine
	history []models.Reading
	logs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, trained bool) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(context.Background(), mr.Addr(), "", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	cfg := analytics.DefaultConfig()
	cfg.Trees = 20
	engine, err := analytics.NewEngine(cfg, nil)
	require.NoError(t, err)

	history := synth.Hourly(synth.DefaultOptions())
	baseline := analytics.NewHourlyBaseline(0)
	if trained {
		require.NoError(t, engine.Train(context.Background(), history))
		baseline.Seed(history)
	}

	core, logs := observer.New(zap.WarnLevel)
	r := mux.NewRouter()
	r.Use(RequestID, Logging(zap.NewNop()))
	NewHandler(engine, baseline, c, 0.12, zap.New(core)).Register(r)

	return &testServer{router: r, redis: mr, cache: c, engine: engine, history: history, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestReadingHandler(t *testing.T) {
	s := newTestServer(t, true)

	reading := models.Reading{
		Timestamp:   time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC),
		EnergyUsage: 1.9,
		Temperature: models.Celsius(18),
	}
	rec := s.do(t, http.MethodPost, "/readings", reading)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1.9, result.EnergyUsage)
	assert.Greater(t, result.HistoricalAverage, 0.0)
	assert.NotEmpty(t, result.Recommendations)

	n, err := s.cache.HistoryLen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReadingHandler_BadInput(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodPost, "/readings", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/readings", map[string]interface{}{
		"timestamp":    "2024-01-31T20:00:00Z",
		"energy_usage": -3,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/readings", map[string]interface{}{"energy_usage": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	n, _ := s.cache.HistoryLen(context.Background())
	assert.Equal(t, int64(0), n)
}

func TestReadingHandler_NotTrained(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/readings", models.Reading{
		Timestamp:   time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC),
		EnergyUsage: 1.9,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// the reading is still kept for the next training
	n, _ := s.cache.HistoryLen(context.Background())
	assert.Equal(t, int64(1), n)
}

func TestBatchHandler(t *testing.T) {
	s := newTestServer(t, true)

	batch := models.ReadingsBatch{Readings: synth.Spike(s.history[:72], 44, 10)}
	rec := s.do(t, http.MethodPost, "/readings/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 72, resp.Processed)
	require.Len(t, resp.Results, 72)
	assert.True(t, resp.Results[44].IsAnomaly)
	assert.GreaterOrEqual(t, resp.AnomaliesFound, 1)

	n, _ := s.cache.HistoryLen(context.Background())
	assert.Equal(t, int64(72), n)
	anomalies, _ := s.cache.GetCounter(context.Background(), cache.AnomaliesKey)
	assert.Equal(t, int64(resp.AnomaliesFound), anomalies)
}

func TestBatchHandler_CacheFailureIsLogged(t *testing.T) {
	s := newTestServer(t, true)
	s.redis.Close()

	batch := models.ReadingsBatch{Readings: synth.Spike(s.history[:72], 44, 10)}
	rec := s.do(t, http.MethodPost, "/readings/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 1, s.logs.FilterMessage("failed to cache batch").Len())
	assert.GreaterOrEqual(t, s.logs.FilterMessage("failed to cache analysis result").Len(), 1)
}

func TestAnalysisHandler(t *testing.T) {
	s := newTestServer(t, true)

	ts := time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC)
	rec := s.do(t, http.MethodPost, "/readings", models.Reading{Timestamp: ts, EnergyUsage: 1.9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/analysis?timestamp=2024-01-31T20:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1.9, result.EnergyUsage)
	assert.True(t, ts.Equal(result.Timestamp))

	rec = s.do(t, http.MethodGet, "/analysis?timestamp=2024-01-31T21:00:00Z", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/analysis?timestamp=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/prometheus", nil)
	body := rec.Body.String()
	assert.Contains(t, body, `energy_cache_writes_total{status="ok"}`)
	assert.Contains(t, body, `energy_cache_lookups_total{result="hit"}`)
	assert.Contains(t, body, `energy_cache_lookups_total{result="miss"}`)
}

func TestBatchHandler_Empty(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/readings/batch", map[string]interface{}{"readings": []interface{}{}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":0,"anomalies_found":0,"results":[]}`, rec.Body.String())
}

func TestLatestReadingsHandler(t *testing.T) {
	s := newTestServer(t, true)
	require.NoError(t, s.cache.CacheReadings(context.Background(), s.history[:5]))

	rec := s.do(t, http.MethodGet, "/readings/latest?count=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var readings []models.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
	require.Len(t, readings, 2)
	assert.True(t, readings[0].Timestamp.Equal(s.history[4].Timestamp))

	rec = s.do(t, http.MethodGet, "/readings/latest", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
	assert.Len(t, readings, 5)

	for _, bad := range []string{"0", "1001", "abc"} {
		rec = s.do(t, http.MethodGet, "/readings/latest?count="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestForecastHandler(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodPost, "/forecast", map[string]interface{}{
		"timestamp":     "2024-02-01T20:00:00Z",
		"temperature_c": 18.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "predicted_energy_kwh")
	assert.Contains(t, body, "pattern_cluster")
	assert.Contains(t, body, "anomaly_detected")
	assert.Greater(t, body["predicted_energy_kwh"].(float64), 0.0)

	rec = s.do(t, http.MethodPost, "/forecast", map[string]interface{}{"timestamp": "2024-02-01T20:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecastHandler_NotTrained(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodPost, "/forecast", map[string]interface{}{
		"timestamp":     "2024-02-01T20:00:00Z",
		"temperature_c": 18.5,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrainHandler(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodPost, "/train", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "no history yet")

	require.NoError(t, s.cache.CacheReadings(context.Background(), s.history))
	rec = s.do(t, http.MethodPost, "/train", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.TrainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, len(s.history), resp.Samples)
	assert.Empty(t, resp.Errors)
	require.Len(t, resp.Models, 3)
	for _, m := range resp.Models {
		assert.True(t, m.Fitted, m.Name)
	}
	assert.NotNil(t, resp.Models[0].HoldoutMAE)
	assert.True(t, s.engine.Ready())
}

func TestTrainHandler_PartialFailure(t *testing.T) {
	s := newTestServer(t, false)
	require.NoError(t, s.cache.CacheReadings(context.Background(), s.history[:2]))

	rec := s.do(t, http.MethodPost, "/train", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.TrainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Errors, 2)
	assert.True(t, resp.Models[0].Fallback)
}

func TestModelSummaryHealthStats(t *testing.T) {
	s := newTestServer(t, true)
	require.NoError(t, s.cache.CacheReadings(context.Background(), s.history[:48]))

	rec := s.do(t, http.MethodGet, "/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []models.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	assert.Len(t, infos, 3)

	rec = s.do(t, http.MethodGet, "/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.HistorySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 48, summary.Readings)
	assert.NotEmpty(t, summary.PeakDay)

	rec = s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Redis)

	rec = s.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(48), stats.TotalReadings)
	assert.Equal(t, int64(48), stats.HistoryLength)
	assert.Greater(t, stats.RecentAverage, 0.0)
}

func TestHealth_Degraded(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestPrometheusEndpoint(t *testing.T) {
	s := newTestServer(t, true)
	s.do(t, http.MethodGet, "/model", nil)

	rec := s.do(t, http.MethodGet, "/prometheus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "energy_requests_total"))
}

func TestRequestID_KeepsClientValue(t *testing.T) {
	s := newTestServer(t, false)
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/model", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodGet, "/readings", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
