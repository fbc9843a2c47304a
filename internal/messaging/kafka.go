package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/pkg/models"
)

const (
	InvalidationDLQSuffix = "-dlq"
	maxDeliveryAttempts   = 3
)

// InvalidationMessage asks consumers to rebuild one customer's
// bucket. Reason is free text for operators reading the topic.
type InvalidationMessage struct {
	MessageID   uuid.UUID `json:"message_id"`
	CustomerKey string    `json:"customer_key"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
	RetryCount  int       `json:"retry_count"`
}

// ArchiveMessage is the durable record of one engagement action,
// written to the archive topic for downstream analytics.
type ArchiveMessage struct {
	MessageID uuid.UUID               `json:"message_id"`
	Action    models.EngagementAction `json:"action"`
	Timestamp time.Time               `json:"timestamp"`
}

// MessageBus owns the producers for the invalidation and archive
// topics plus the invalidation consumer and its DLQ writer.
type MessageBus struct {
	invalidationWriter *kafka.Writer
	archiveWriter      *kafka.Writer
	invalidationReader *kafka.Reader
	dlqWriter          *kafka.Writer
	logger             *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	invalidationTopic := cfg.Kafka.Topics.BucketInvalidation

	invalidationWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        invalidationTopic,
		Balancer:     &kafka.Hash{}, // Key by customer so one customer's messages stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	archiveWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.EngagementArchive,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	invalidationReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          invalidationTopic,
		GroupID:        cfg.Kafka.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        invalidationTopic + InvalidationDLQSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &MessageBus{
		invalidationWriter: invalidationWriter,
		archiveWriter:      archiveWriter,
		invalidationReader: invalidationReader,
		dlqWriter:          dlqWriter,
		logger:             logger,
	}, nil
}

// PublishInvalidation announces that a customer's cached bucket is
// stale and should be rebuilt.
func (mb *MessageBus) PublishInvalidation(ctx context.Context, customerKey, reason string) error {
	message := InvalidationMessage{
		MessageID:   uuid.New(),
		CustomerKey: customerKey,
		Reason:      reason,
		Timestamp:   time.Now(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(customerKey),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(message.MessageID.String())},
			{Key: "reason", Value: []byte(reason)},
			{Key: "timestamp", Value: []byte(message.Timestamp.Format(time.RFC3339))},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.invalidationWriter.WriteMessages(writeCtx, kafkaMessage); err != nil {
		mb.logger.WithError(err).WithField("customer_key", customerKey).
			Error("Failed to publish invalidation message")
		return fmt.Errorf("failed to write invalidation message: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"message_id":   message.MessageID,
		"customer_key": customerKey,
		"reason":       reason,
	}).Info("Invalidation message published")

	return nil
}

// PublishArchive records an engagement action on the archive topic.
// Failures are the caller's to log; counters are already committed by
// the time this runs.
func (mb *MessageBus) PublishArchive(ctx context.Context, action *models.EngagementAction) error {
	message := ArchiveMessage{
		MessageID: uuid.New(),
		Action:    *action,
		Timestamp: time.Now(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal archive message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.archiveWriter.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(action.CustomerKey),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(message.MessageID.String())},
			{Key: "action", Value: []byte(action.Action)},
		},
	}); err != nil {
		return fmt.Errorf("failed to write archive message: %w", err)
	}

	return nil
}

// ConsumeInvalidations reads the invalidation topic until ctx is
// cancelled, calling handler once per message with retry and DLQ
// semantics. Handlers must be idempotent: redelivery after a consumer
// crash is expected.
func (mb *MessageBus) ConsumeInvalidations(ctx context.Context, handler func(InvalidationMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := mb.invalidationReader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				mb.logger.WithError(err).Error("Failed to read invalidation message")
				continue
			}

			var invalidation InvalidationMessage
			if err := json.Unmarshal(message.Value, &invalidation); err != nil {
				mb.logger.WithError(err).Error("Failed to unmarshal invalidation message")
				continue
			}

			if err := mb.processWithRetry(ctx, invalidation, handler); err != nil {
				mb.logger.WithError(err).WithField("message_id", invalidation.MessageID).
					Error("Failed to process invalidation after retries")

				if dlqErr := mb.sendToDLQ(ctx, invalidation, err); dlqErr != nil {
					mb.logger.WithError(dlqErr).Error("Failed to send invalidation to DLQ")
				}
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, message InvalidationMessage, handler func(InvalidationMessage) error) error {
	baseDelay := time.Second

	for attempt := 0; attempt <= maxDeliveryAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"message_id": message.MessageID,
				"attempt":    attempt,
				"delay":      delay,
			}).Info("Retrying invalidation processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		message.RetryCount = attempt
		if err := handler(message); err != nil {
			mb.logger.WithError(err).WithFields(logrus.Fields{
				"message_id": message.MessageID,
				"attempt":    attempt,
			}).Warn("Invalidation processing failed")

			if attempt == maxDeliveryAttempts {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}

		mb.logger.WithFields(logrus.Fields{
			"message_id":   message.MessageID,
			"customer_key": message.CustomerKey,
			"attempt":      attempt,
		}).Info("Invalidation processed")
		return nil
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, message InvalidationMessage, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": message,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(message.CustomerKey),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(message.MessageID.String())},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"message_id":   message.MessageID,
		"customer_key": message.CustomerKey,
		"error":        originalError.Error(),
	}).Warn("Invalidation message sent to DLQ")

	return nil
}

func (mb *MessageBus) Close() error {
	var errors []error

	if err := mb.invalidationWriter.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close invalidation writer: %w", err))
	}

	if err := mb.archiveWriter.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close archive writer: %w", err))
	}

	if err := mb.invalidationReader.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close invalidation reader: %w", err))
	}

	if err := mb.dlqWriter.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errors)
	}

	return nil
}

// GetMetrics returns consumer statistics for monitoring.
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	stats := mb.invalidationReader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
