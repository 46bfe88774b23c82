package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

// Publisher publishes attempt state-change events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event AttemptEvent) error
	Close() error
}

const (
	// EventsExchange is the RabbitMQ topic exchange attempt events are routed through.
	EventsExchange = "reminder.events"
	// EventsQueue is bound to every attempt routing key.
	EventsQueue = "reminder.attempt_events"

	routingKeyPrefix = "attempt"
	bindingKey       = routingKeyPrefix + ".#"
)

// RoutingKey returns the topic routing key for a state, e.g. attempt.sms_sent.
func RoutingKey(state domain.AttemptState) string {
	return fmt.Sprintf("%s.%s", routingKeyPrefix, strings.ToLower(state.String()))
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.reminder.attempt_events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AttemptEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
