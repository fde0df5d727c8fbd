package queue

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
	"osintgraph/backend/pkg/logger"
)

// Ingester consumes observation batches
type Ingester interface {
	Ingest(ctx context.Context, observations []observation.RawObservation) (*state.IngestResult, error)
}

// Channel is the subset of *amqp.Channel the consumer uses
type Channel interface {
	Publisher
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

var _ Channel = (*amqp.Channel)(nil)

// errMalformed marks batches that no retry can fix
var errMalformed = errors.New("malformed batch")

// Consumer reads batches from one queue, one message at a time
type Consumer struct {
	ch         Channel
	queue      string
	engine     Ingester
	maxRetries int
	logger     *zap.Logger
}

// NewConsumer creates a consumer for queueName
func NewConsumer(ch Channel, queueName string, engine Ingester) *Consumer {
	return &Consumer{
		ch:         ch,
		queue:      queueName,
		engine:     engine,
		maxRetries: defaultMaxRetries,
		logger:     logger.Named("queue"),
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := c.ch.Consume(
		c.queue,
		"",    // consumer
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}

	c.logger.Info("Waiting for observation batches", zap.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			c.process(ctx, msg)
		}
	}
}

// Handle decodes and ingests one message body
func (c *Consumer) Handle(ctx context.Context, body []byte) (*state.IngestResult, error) {
	batch, err := DecodeBatch(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return c.engine.Ingest(ctx, batch)
}

func (c *Consumer) process(ctx context.Context, msg amqp.Delivery) {
	result, err := c.Handle(ctx, msg.Body)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ack message", zap.Error(ackErr))
		}
		c.logger.Info("Batch ingested",
			zap.String("batch_id", result.BatchID),
			zap.Int("observations", result.Observations),
			zap.Int("dropped", result.ObservationsDropped),
			zap.Int("entities_created", result.EntitiesCreated),
			zap.Int("entities_merged", result.EntitiesMerged),
		)
		return
	}

	switch {
	case ctx.Err() != nil:
		// Shutting down; leave the batch for the next consumer.
		_ = msg.Nack(false, true)
	case errors.Is(err, errMalformed):
		c.logger.Warn("Dropping malformed batch", zap.Error(err))
		c.deadLetter(ctx, msg)
	case apperrors.IsRetryable(err):
		c.logger.Warn("Batch failed, scheduling retry", zap.Error(err))
		c.retry(ctx, msg)
	default:
		c.logger.Error("Batch failed permanently", zap.Error(err))
		c.deadLetter(ctx, msg)
	}
}

func (c *Consumer) retry(ctx context.Context, msg amqp.Delivery) {
	retries := retriesOf(msg.Headers)
	if retries >= c.maxRetries {
		c.deadLetter(ctx, msg)
		return
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(retries + 1)

	c.republish(ctx, msg, c.queue+"_retry", headers)
}

func (c *Consumer) deadLetter(ctx context.Context, msg amqp.Delivery) {
	c.logger.Info("Sending batch to DLQ", zap.String("dlq", c.queue+"_dlq"))
	c.republish(ctx, msg, c.queue+"_dlq", msg.Headers)
}

func (c *Consumer) republish(ctx context.Context, msg amqp.Delivery, target string, headers amqp.Table) {
	err := c.ch.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		c.logger.Error("Failed to republish batch", zap.String("queue", target), zap.Error(err))
		_ = msg.Nack(false, true)
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message", zap.Error(err))
	}
}
