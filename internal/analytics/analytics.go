// Package analytics связывает модели в движок анализа показаний.
// Содержит сам движок, часовую базовую линию и пул воркеров для потока показаний.
package analytics

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"energy-insights/internal/models"
)

// SlidingWindow скользящее окно фиксированного размера
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
	sum    float64
	sumSq  float64
}

// NewSlidingWindow создаёт окно на size значений
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{values: make([]float64, size), size: size}
}

// Add добавляет значение, вытесняя самое старое
func (sw *SlidingWindow) Add(value float64) {
	if sw.count >= sw.size {
		old := sw.values[sw.index]
		sw.sum -= old
		sw.sumSq -= old * old
	} else {
		sw.count++
	}

	sw.values[sw.index] = value
	sw.sum += value
	sw.sumSq += value * value
	sw.index = (sw.index + 1) % sw.size
}

// Mean среднее по окну, 0 для пустого окна
func (sw *SlidingWindow) Mean() float64 {
	if sw.count == 0 {
		return 0
	}
	return sw.sum / float64(sw.count)
}

// StdDev выборочное стандартное отклонение
func (sw *SlidingWindow) StdDev() float64 {
	if sw.count < 2 {
		return 0
	}
	n := float64(sw.count)
	variance := (sw.sumSq - (sw.sum*sw.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Count количество значений в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Stream асинхронно анализирует поток показаний пулом воркеров
type Stream struct {
	engine   *Engine
	baseline *HourlyBaseline
	logger   *zap.Logger

	readings chan models.Reading
	results  chan models.AnalysisResult
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStream создаёт поток с буферами на bufferSize элементов
func NewStream(engine *Engine, baseline *HourlyBaseline, bufferSize int, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		engine:   engine,
		baseline: baseline,
		logger:   logger.With(zap.String("component", "stream")),
		readings: make(chan models.Reading, bufferSize),
		results:  make(chan models.AnalysisResult, bufferSize),
		stopChan: make(chan struct{}),
	}
}

// Start запускает numWorkers воркеров
func (s *Stream) Start(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Stream) worker() {
	defer s.wg.Done()
	for {
		select {
		case r := <-s.readings:
			result, err := s.engine.Analyze(r, s.baseline)
			if err != nil {
				s.logger.Warn("reading skipped", zap.Time("timestamp", r.Timestamp), zap.Error(err))
				continue
			}
			s.baseline.Add(r)
			select {
			case s.results <- result:
			default:
				// никто не читает результаты
				s.logger.Debug("results buffer full, result dropped")
			}
		case <-s.stopChan:
			return
		}
	}
}

// Submit ставит показание в очередь. false, если буфер заполнен.
func (s *Stream) Submit(r models.Reading) bool {
	select {
	case s.readings <- r:
		return true
	default:
		return false
	}
}

// Results канал результатов анализа
func (s *Stream) Results() <-chan models.AnalysisResult {
	return s.results
}

// Stop останавливает воркеров и ждёт их завершения
func (s *Stream) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
