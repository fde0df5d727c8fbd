// Package queue feeds observation batches from RabbitMQ into the engine.
//
// Each message body is one batch: either a JSON array of raw observations or
// an object with an "observations" array. Failed batches are republished to
// <queue>_retry, which dead-letters back to the main queue after a delay, and
// land in <queue>_dlq once the retry budget is spent or the body is unusable.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"osintgraph/backend/internal/observation"
)

const (
	retryHeader = "x-retries"

	defaultMaxRetries = 5
	defaultRetryDelay = 10 * time.Second
)

// Dial connects to the broker
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the ingest queue with its retry and dead-letter queues
func SetupQueues(ch *amqp.Channel, name string, retryDelay time.Duration) error {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{name, nil},
		{name + "_dlq", nil},
		{name + "_retry", amqp.Table{
			"x-message-ttl":             int32(retryDelay / time.Millisecond),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		}},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(
			q.name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			q.args,
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// Publisher is the publishing half of an AMQP channel
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publish enqueues one observation batch
func Publish(ctx context.Context, pub Publisher, queueName string, observations []observation.RawObservation) error {
	body, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return pub.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

// DecodeBatch accepts a bare array or an {"observations": [...]} envelope
func DecodeBatch(body []byte) ([]observation.RawObservation, error) {
	var batch []observation.RawObservation
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}

	var envelope struct {
		Observations []observation.RawObservation `json:"observations"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed batch: %w", err)
	}
	if envelope.Observations == nil {
		return nil, fmt.Errorf("malformed batch: no observations")
	}
	return envelope.Observations, nil
}

func retriesOf(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
