// Package broker wraps the AMQP broker: topology declaration, publishing with
// retry, and durable-queue consumption.
package broker

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/domain"
)

// Dead-letter queues hold messages for this long before the ring handler sees
// them again; together with the retry-count header this bounds redelivery.
const deadLetterTTLMillis = 3000

// Conn owns the AMQP connection and a channel for topology and consumption.
type Conn struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// Dial connects to the broker and opens a channel with per-consumer
// prefetch 1, so a slow handler never hoards deliveries.
func Dial(url string, logger *slog.Logger) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	return &Conn{conn: conn, ch: ch, logger: logger.With("component", "broker")}, nil
}

// Channel exposes the underlying channel for publishing.
func (c *Conn) Channel() *amqp.Channel { return c.ch }

// Close shuts the channel and connection; consumer delivery channels close
// as a consequence.
func (c *Conn) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// NotifyClose relays connection-level failures.
func (c *Conn) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// DeclareTopology declares, for every event, the durable direct main exchange
// and queue plus the dead-letter twin. Main queues route rejects to the DLQ
// exchange; DLQ queues hold messages for the ring TTL and have no further
// dead-lettering.
func (c *Conn) DeclareTopology(events []domain.Event) error {
	for _, e := range events {
		if err := c.ch.ExchangeDeclare(e.Exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", e.Exchange, err)
		}
		if err := c.ch.ExchangeDeclare(e.DeadLetterExchange(), "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", e.DeadLetterExchange(), err)
		}

		if _, err := c.ch.QueueDeclare(e.Queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    e.DeadLetterExchange(),
			"x-dead-letter-routing-key": e.DeadLetterRoutingKey(),
		}); err != nil {
			return fmt.Errorf("declare queue %s: %w", e.Queue, err)
		}
		if err := c.ch.QueueBind(e.Queue, e.RoutingKey, e.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", e.Queue, err)
		}

		if _, err := c.ch.QueueDeclare(e.DeadLetterQueue(), true, false, false, false, amqp.Table{
			"x-message-ttl": int32(deadLetterTTLMillis),
		}); err != nil {
			return fmt.Errorf("declare queue %s: %w", e.DeadLetterQueue(), err)
		}
		if err := c.ch.QueueBind(e.DeadLetterQueue(), e.DeadLetterRoutingKey(), e.DeadLetterExchange(), false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", e.DeadLetterQueue(), err)
		}

		c.logger.Debug("declared topology", "exchange", e.Exchange, "queue", e.Queue)
	}
	return nil
}

// Consume opens a delivery stream on a durable queue. Handlers ack or reject
// each delivery explicitly.
func (c *Conn) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}
