// Package dlq implements the dead-letter retry ring: rejected messages land
// on the dead-letter queue, sit out the TTL, and are republished to the main
// exchange until the x-death count exhausts the retry budget.
package dlq

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/broker"
	"crawlsched/internal/domain"
	"crawlsched/internal/observability"
)

// Publisher is the republish surface; *broker.Publisher in production.
type Publisher interface {
	Publish(ctx context.Context, msg any, exchange, routingKey string, opts broker.PublishOptions) error
}

// Ring consumes every event's dead-letter queue and routes each expired
// message back to its main exchange or drops it.
type Ring struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewRing(publisher Publisher, logger *slog.Logger) *Ring {
	return &Ring{publisher: publisher, logger: logger.With("component", "dlq")}
}

// Start launches one handler goroutine per event's dead-letter queue.
func (r *Ring) Start(ctx context.Context, conn *broker.Conn, evs []domain.Event) error {
	for _, e := range evs {
		deliveries, err := conn.Consume(e.DeadLetterQueue(), "dlq."+e.RoutingKey)
		if err != nil {
			return err
		}
		go r.consume(ctx, e, deliveries)
	}
	return nil
}

func (r *Ring) consume(ctx context.Context, e domain.Event, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			r.Handle(ctx, e, msg)
		}
	}
}

// Handle processes one TTL-expired message. Messages that have died
// MaxRetries times are dropped; everything else goes back to the main
// exchange with its headers intact so x-death keeps advancing.
func (r *Ring) Handle(ctx context.Context, e domain.Event, msg amqp.Delivery) {
	count := DeathCount(msg.Headers)
	r.logger.Info("dead-letter message received",
		"queue", e.DeadLetterQueue(), "routing_key", msg.RoutingKey, "count", count)

	if count >= domain.MaxRetries {
		observability.DLQDropped.WithLabelValues(e.Queue).Inc()
		r.logger.Error("max retries reached, dropping message",
			"queue", e.Queue, "routing_key", msg.RoutingKey, "count", count)
		r.ack(msg)
		return
	}

	err := r.publisher.Publish(ctx, msg.Body, e.Exchange, e.RoutingKey, broker.PublishOptions{
		Headers:       msg.Headers,
		CorrelationID: msg.CorrelationId,
	})
	if err != nil {
		// Republish failed; requeue the delivery so the ring tries again.
		r.logger.Error("republish failed", "queue", e.Queue, "err", err)
		if nerr := msg.Nack(false, true); nerr != nil {
			r.logger.Error("nack failed", "queue", e.Queue, "err", nerr)
		}
		return
	}

	observability.DLQRepublished.WithLabelValues(e.Queue).Inc()
	r.logger.Info("republished to main queue", "exchange", e.Exchange, "routing_key", e.RoutingKey)
	r.ack(msg)
}

func (r *Ring) ack(msg amqp.Delivery) {
	if err := msg.Ack(false); err != nil {
		r.logger.Error("ack failed", "err", err)
	}
}

// DeathCount extracts x-death[0].count from a delivery's headers; 0 when the
// header is missing or malformed.
func DeathCount(headers amqp.Table) int {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	switch v := first["count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}
