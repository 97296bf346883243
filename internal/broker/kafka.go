package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"pixelgate/internal/config"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/pkg/errors"
	"pixelgate/pkg/logging"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/models"
	"pixelgate/pkg/retry"
	"pixelgate/pkg/tracing"
)

// RetryPolicy converts the broker retry settings into a retry.Policy.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialIntervalMs > 0 {
		policy.InitialInterval = time.Duration(cfg.InitialIntervalMs) * time.Millisecond
	}
	if cfg.MaxIntervalMs > 0 {
		policy.MaxInterval = time.Duration(cfg.MaxIntervalMs) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	return policy
}

type KafkaProducer struct {
	writer      *kafka.Writer
	serviceName string
	logger      logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, serviceName string, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, serviceName: serviceName, logger: log}
}

// Publish writes one message keyed by msg.ID. Trace context travels in the headers.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	if msg.Metadata.RequestID == "" {
		msg.Metadata.RequestID = logging.GetRequestID(ctx)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.ID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    msg.Timestamp,
	})
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	serviceName string
	logger      logger.Logger

	mu     sync.Mutex
	reader *kafka.Reader
	wg     sync.WaitGroup
}

func NewKafkaConsumer(cfg config.KafkaConfig, serviceName string, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:         cfg,
		serviceName: serviceName,
		logger:      log,
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.wg.Add(1)
	defer c.wg.Done()

	policy := RetryPolicy(c.cfg.Retry)
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message", "error", err, "topic", topic)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(constants.KafkaFetchBackoff):
			}
			continue
		}
		metrics.IncKafkaMessagesRead(c.serviceName, topic)

		c.handle(consumeCtx, m, handler, policy)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message", "error", err, "topic", topic)
		}
	}
}

// handle decodes and processes one message. Messages that still fail after
// retries are logged and committed so that one bad record never blocks the partition.
func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc, policy retry.Policy) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()

	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal message", "error", err, "topic", m.Topic)
		return
	}
	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	if envelope.Metadata.RequestID != "" {
		msgCtx = logging.WithRequestID(msgCtx, envelope.Metadata.RequestID)
	}

	err := retry.Do(msgCtx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = retry.Permanent(errors.RecoverPanic(r))
			}
		}()
		return handler(msgCtx, envelope)
	}, func(attempt int, err error, next time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, m.Topic).Inc()
		c.logger.WarnwCtx(msgCtx, "Retrying message processing",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
			"topic", m.Topic,
		)
	})
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
			"error", err,
			"message_id", envelope.ID,
			"topic", m.Topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()

	var err error
	if reader != nil {
		err = reader.Close()
	}
	c.wg.Wait()
	return err
}
