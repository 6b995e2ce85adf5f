package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"sentinel-ir/internal/alerting"

	"github.com/segmentio/kafka-go"
)

// Producer sends messages to the alerts topic.
type Producer struct {
	writer  *kafka.Writer
	config  *Config
	logger  *slog.Logger
	metrics *producerMetrics
	closed  atomic.Bool
}

type producerMetrics struct {
	messagesProduced atomic.Int64
	bytesProduced    atomic.Int64
	errors           atomic.Int64
	retries          atomic.Int64
	lastError        atomic.Value
	lastErrorTime    atomic.Value
}

// NewProducer creates a producer for the alerts topic.
func NewProducer(config *Config, logger *slog.Logger) (*Producer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.AlertsTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    config.ProducerBatchSize,
		BatchTimeout: config.ProducerBatchTimeout,
		MaxAttempts:  config.ProducerMaxRetries,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Compression:  config.GetCompression(),
		Transport: &kafka.Transport{
			Dial: dialer.DialFunc,
			TLS:  dialer.TLS,
			SASL: dialer.SASLMechanism,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	p := &Producer{
		writer:  writer,
		config:  config,
		logger:  logger,
		metrics: &producerMetrics{},
	}

	logger.Info("kafka producer initialized",
		"brokers", config.Brokers,
		"topic", config.AlertsTopic,
		"compression", config.CompressionType,
	)

	return p, nil
}

// Produce sends a single message with retry.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg := kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}

	var lastErr error
	backoff := p.config.ProducerRetryBackoff

	for attempt := 0; attempt <= p.config.ProducerMaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.retries.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.metrics.messagesProduced.Add(1)
			p.metrics.bytesProduced.Add(int64(len(value) + len(key)))
			return nil
		}

		lastErr = err
		p.metrics.errors.Add(1)
		p.metrics.lastError.Store(err)
		p.metrics.lastErrorTime.Store(time.Now())

		p.logger.Warn("kafka produce failed",
			"error", err,
			"attempt", attempt+1,
		)

		if isNonRetryableError(err) {
			return fmt.Errorf("kafka: non-retryable error: %w", err)
		}
	}

	return fmt.Errorf("kafka: failed after %d attempts: %w", p.config.ProducerMaxRetries+1, lastErr)
}

// GetMetrics returns current producer metrics.
func (p *Producer) GetMetrics() Metrics {
	m := Metrics{
		MessagesProduced: p.metrics.messagesProduced.Load(),
		BytesProduced:    p.metrics.bytesProduced.Load(),
		Errors:           p.metrics.errors.Load(),
		Retries:          p.metrics.retries.Load(),
	}

	if err := p.metrics.lastError.Load(); err != nil {
		m.LastError = err.(error)
	}
	if t := p.metrics.lastErrorTime.Load(); t != nil {
		m.LastErrorTime = t.(time.Time)
	}

	return m
}

// Stats returns internal writer statistics.
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}

// Close closes the producer and flushes any buffered messages.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("closing kafka producer",
		"messages_produced", p.metrics.messagesProduced.Load(),
	)

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	return nil
}

func isNonRetryableError(err error) bool {
	switch err {
	case kafka.MessageSizeTooLarge,
		kafka.InvalidTopic,
		kafka.TopicAuthorizationFailed,
		kafka.ClusterAuthorizationFailed:
		return true
	}
	return false
}

// AlertPublisher publishes alert lifecycle changes as JSON, keyed by
// alert id so all changes for one alert land on the same partition.
type AlertPublisher struct {
	producer *Producer
	logger   *slog.Logger
}

// NewAlertPublisher wraps a producer for alert change publishing.
func NewAlertPublisher(producer *Producer, logger *slog.Logger) *AlertPublisher {
	return &AlertPublisher{producer: producer, logger: logger}
}

// alertChangeMessage is the wire format for published alert changes.
type alertChangeMessage struct {
	ChangeType  string          `json:"change_type"`
	Manual      bool            `json:"manual"`
	PublishedAt time.Time       `json:"published_at"`
	Alert       *alerting.Alert `json:"alert"`
}

// Publish sends an alert change to the alerts topic.
func (ap *AlertPublisher) Publish(ctx context.Context, change alerting.Change) error {
	msg := alertChangeMessage{
		ChangeType:  string(change.Type),
		Manual:      change.Manual,
		PublishedAt: time.Now().UTC(),
		Alert:       change.Alert,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal alert change: %w", err)
	}

	return ap.producer.Produce(ctx, []byte(change.Alert.ID.String()), data)
}

// Close closes the underlying producer.
func (ap *AlertPublisher) Close() error {
	return ap.producer.Close()
}
