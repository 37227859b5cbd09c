// Package ingest читает показания из Kafka и публикует результаты анализа
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"energy-insights/internal/metrics"
	"energy-insights/internal/models"
)

const (
	// DefaultReadingsTopic топик входящих показаний
	DefaultReadingsTopic = "energy.readings"
	// DefaultResultsTopic топик результатов анализа
	DefaultResultsTopic = "energy.analysis"
	// DefaultGroupID группа потребителей
	DefaultGroupID = "energy-insights"
	// submitRetry пауза перед повторной постановкой в заполненный поток
	submitRetry = 50 * time.Millisecond
)

// Fetcher часть kafka.Reader, нужная потребителю
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter часть kafka.Writer, нужная издателю
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter принимает показания на асинхронный анализ
type Submitter interface {
	Submit(r models.Reading) bool
}

// Recorder сохраняет принятые показания в историю для переобучения
type Recorder interface {
	CacheReading(ctx context.Context, r models.Reading) error
}

// Consumer передаёт показания из топика в поток анализа
type Consumer struct {
	reader   Fetcher
	stream   Submitter
	recorder Recorder
	logger   *zap.Logger
}

// NewConsumer создаёт потребителя группы groupID
func NewConsumer(brokers []string, topic, groupID string, stream Submitter, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return NewConsumerWithFetcher(reader, stream, logger)
}

// NewConsumerWithFetcher создаёт потребителя поверх готового источника сообщений
func NewConsumerWithFetcher(reader Fetcher, stream Submitter, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, stream: stream, logger: logger.With(zap.String("component", "kafka_consumer"))}
}

// WithRecorder сохраняет каждое принятое показание в историю
func (c *Consumer) WithRecorder(r Recorder) *Consumer {
	c.recorder = r
	return c
}

// Run читает сообщения до отмены контекста. Сообщение подтверждается
// после передачи в поток или после отказа как некорректное.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	reading, err := Decode(msg.Value)
	if err != nil {
		c.logger.Warn("malformed reading skipped",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	metrics.ReadingsReceived.WithLabelValues("kafka").Inc()

	// поток переполнен: ждём, а не теряем сообщение
	for !c.stream.Submit(reading) {
		metrics.StreamDropped.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(submitRetry):
		}
	}

	if c.recorder != nil {
		if err := c.recorder.CacheReading(ctx, reading); err != nil {
			metrics.CacheWrites.WithLabelValues("error").Inc()
			c.logger.Warn("failed to store reading", zap.Time("timestamp", reading.Timestamp), zap.Error(err))
		} else {
			metrics.CacheWrites.WithLabelValues("ok").Inc()
		}
	}
	return nil
}

// Close закрывает reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Decode разбирает показание из JSON и проверяет его
func Decode(data []byte) (models.Reading, error) {
	var r models.Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return models.Reading{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if err := r.Validate(); err != nil {
		return models.Reading{}, err
	}
	return r, nil
}

// Publisher отправляет результаты анализа в топик
type Publisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewPublisher создаёт издателя в topic
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

// NewPublisherWithWriter создаёт издателя поверх готового writer
func NewPublisherWithWriter(w MessageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: w, logger: logger.With(zap.String("component", "kafka_publisher"))}
}

// Publish отправляет результат с ключом по часу показания
func (p *Publisher) Publish(ctx context.Context, result models.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(result.Timestamp.UTC().Format("2006-01-02T15")),
		Value: data,
		Time:  result.Timestamp,
	}
	if result.IsAnomaly {
		msg.Headers = []kafka.Header{{Key: "anomaly", Value: []byte("true")}}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// Close сбрасывает буфер и закрывает writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
