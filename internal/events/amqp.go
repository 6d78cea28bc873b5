package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder relays bus events to a RabbitMQ topic exchange, routed by
// event type.
type AMQPForwarder struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	timeout  time.Duration
	logger   *zerolog.Logger
}

func DialAMQP(url, exchange string, logger *zerolog.Logger) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	f := newAMQPForwarder(ch, exchange, logger)
	f.conn = conn
	return f, nil
}

func newAMQPForwarder(ch amqpChannel, exchange string, logger *zerolog.Logger) *AMQPForwarder {
	return &AMQPForwarder{
		ch:       ch,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Attach subscribes the forwarder to every booking event on bus.
func (f *AMQPForwarder) Attach(bus *EventBus) {
	bus.SubscribeAll(f.forward)
}

func (f *AMQPForwarder) forward(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := f.ch.PublishWithContext(ctx, f.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Body:         event.Payload,
	})
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Msg("amqp publish failed")
	}
	return err
}

func (f *AMQPForwarder) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
