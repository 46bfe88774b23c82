package queue

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes attempt events to a single topic keyed by attempt id,
// so every event for one attempt lands on the same partition in order.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic is required")
	}

	return newKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, topic), nil
}

func newKafkaPublisherWithWriter(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event AttemptEvent) error {
	if err := event.Validate(); err != nil {
		return errors.Wrap(err, "invalid attempt event")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal attempt event")
	}

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.AttemptID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "routing-key", Value: []byte(RoutingKey(event.State))},
		},
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
