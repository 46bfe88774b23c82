package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher emits attempt events to the topic exchange, keyed by the
// state the attempt entered.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

var _ Publisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event AttemptEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	msg, err := newPublishing(event)
	if err != nil {
		return err
	}

	return p.client.publish(ctx, EventsExchange, RoutingKey(event.State), msg)
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func newPublishing(event AttemptEvent) (amqp.Publishing, error) {
	if err := event.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid attempt event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal attempt event: %w", err)
	}

	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     timestamp,
		MessageId:     fmt.Sprintf("%s:%s", event.AttemptID, event.State),
		CorrelationId: event.AttemptID,
		Type:          RoutingKey(event.State),
		Body:          payload,
	}, nil
}
