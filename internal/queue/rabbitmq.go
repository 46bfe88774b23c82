package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "reminder.dlx"
	connectionName   = "reminder-engine"
	dialTimeout      = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

type exchangeSpec struct {
	name string
	kind string
}

type queueSpec struct {
	name       string
	exchange   string
	bindingKey string
	args       amqp.Table
}

// topology is declared once per connection, dead-letter side first so the
// events queue can reference it.
var (
	topologyExchanges = []exchangeSpec{
		{name: dlxExchangeName, kind: amqp.ExchangeDirect},
		{name: EventsExchange, kind: amqp.ExchangeTopic},
	}
	topologyQueues = []queueSpec{
		{name: DLQName(EventsQueue), exchange: dlxExchangeName, bindingKey: EventsQueue},
		{
			name:       EventsQueue,
			exchange:   EventsExchange,
			bindingKey: bindingKey,
			args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": EventsQueue,
			},
		},
	}
)

// RabbitMQ owns one connection and one confirm-mode channel used for
// publishing attempt events. Both are re-established lazily after a drop.
type RabbitMQ struct {
	url string
	dial func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: dialNamed}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.channelLocked(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func dialNamed(url string) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)
	return amqp.DialConfig(url, amqp.Config{Properties: props})
}

// publish sends msg and waits for the broker to confirm it.
func (r *RabbitMQ) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.channelLocked(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		r.resetLocked()
		return fmt.Errorf("failed to publish to %q with routing key %q: %w", exchange, routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked event with routing key %q", routingKey)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn := r.conn
	r.conn, r.ch = nil, nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (r *RabbitMQ) channelLocked(ctx context.Context) (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() && r.conn != nil && !r.conn.IsClosed() {
		return r.ch, nil
	}

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := r.dialWithBackoff(ctx)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}

	ch, err := r.conn.Channel()
	if err != nil {
		r.resetLocked()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	r.ch = ch
	return ch, nil
}

func (r *RabbitMQ) resetLocked() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil && !r.conn.IsClosed() {
		_ = r.conn.Close()
	}
	r.conn, r.ch = nil, nil
}

func (r *RabbitMQ) dialWithBackoff(ctx context.Context) (*amqp.Connection, error) {
	wait := reconnectBackoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func nextBackoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

func declareTopology(ch *amqp.Channel) error {
	for _, ex := range topologyExchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex.name, err)
		}
	}

	for _, q := range topologyQueues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		if err := ch.QueueBind(q.name, q.bindingKey, q.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %q: %w", q.name, q.exchange, err)
		}
	}

	return nil
}
