package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-ir/internal/schema"

	"github.com/segmentio/kafka-go"
)

// MessageHandler processes consumed messages. Return nil to commit the
// offset, or an error to leave it uncommitted for redelivery.
type MessageHandler func(ctx context.Context, msg Message) error

// Message represents a consumed Kafka message.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Submitter accepts events for processing. Implemented by the pipeline
// monitor; Submit must not block on downstream work.
type Submitter interface {
	Submit(event *schema.Event)
}

// EventHandler returns a MessageHandler that decodes events and feeds
// them to the submitter. Malformed payloads are logged and committed so
// a poison message cannot wedge the partition.
func EventHandler(submitter Submitter, logger *slog.Logger) MessageHandler {
	return func(_ context.Context, msg Message) error {
		var event schema.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Warn("dropping undecodable event",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return nil
		}
		submitter.Submit(&event)
		return nil
	}
}

// Consumer reads raw events from the events topic.
type Consumer struct {
	reader  *kafka.Reader
	config  *Config
	logger  *slog.Logger
	handler MessageHandler
	metrics *consumerMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
	started atomic.Bool
}

type consumerMetrics struct {
	messagesConsumed atomic.Int64
	bytesConsumed    atomic.Int64
	errors           atomic.Int64
	lastOffset       atomic.Int64
	lastError        atomic.Value
	lastErrorTime    atomic.Value
}

// NewConsumer creates a consumer for the events topic.
func NewConsumer(config *Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("kafka: message handler is required")
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          config.EventsTopic,
		Dialer:         dialer,
		MinBytes:       config.ConsumerMinBytes,
		MaxBytes:       config.ConsumerMaxBytes,
		MaxWait:        config.ConsumerMaxWait,
		CommitInterval: config.CommitInterval,
		StartOffset:    config.StartOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		reader:  reader,
		config:  config,
		logger:  logger,
		handler: handler,
		metrics: &consumerMetrics{},
		ctx:     ctx,
		cancel:  cancel,
	}

	logger.Info("kafka consumer initialized",
		"brokers", config.Brokers,
		"topic", config.EventsTopic,
		"group", config.ConsumerGroup,
	)

	return c, nil
}

// Start begins consuming messages in a goroutine. Use Stop to halt.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited", "error", err)
		}
	}()

	return nil
}

func (c *Consumer) consumeLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		kafkaMsg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			c.metrics.errors.Add(1)
			c.metrics.lastError.Store(err)
			c.metrics.lastErrorTime.Store(time.Now())
			c.logger.Error("failed to fetch message", "error", err)

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		msg := Message{
			Topic:     kafkaMsg.Topic,
			Partition: kafkaMsg.Partition,
			Offset:    kafkaMsg.Offset,
			Key:       kafkaMsg.Key,
			Value:     kafkaMsg.Value,
			Time:      kafkaMsg.Time,
		}

		if err := c.handler(c.ctx, msg); err != nil {
			c.metrics.errors.Add(1)
			c.logger.Error("failed to process message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			continue
		}

		if err := c.reader.CommitMessages(c.ctx, kafkaMsg); err != nil {
			c.logger.Error("failed to commit offset",
				"error", err,
				"offset", kafkaMsg.Offset,
			)
		}

		c.metrics.messagesConsumed.Add(1)
		c.metrics.bytesConsumed.Add(int64(len(kafkaMsg.Value) + len(kafkaMsg.Key)))
		c.metrics.lastOffset.Store(kafkaMsg.Offset)
	}
}

// GetMetrics returns current consumer metrics.
func (c *Consumer) GetMetrics() Metrics {
	m := Metrics{
		MessagesConsumed: c.metrics.messagesConsumed.Load(),
		BytesConsumed:    c.metrics.bytesConsumed.Load(),
		Errors:           c.metrics.errors.Load(),
	}

	if err := c.metrics.lastError.Load(); err != nil {
		m.LastError = err.(error)
	}
	if t := c.metrics.lastErrorTime.Load(); t != nil {
		m.LastErrorTime = t.(time.Time)
	}

	return m
}

// Stats returns internal reader statistics.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Info("stopping kafka consumer",
		"messages_consumed", c.metrics.messagesConsumed.Load(),
	)

	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}
	return nil
}
