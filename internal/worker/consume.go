// Package worker hosts the pipeline consumers: fetch, parse and date
// discovery. Each worker owns one queue; failed deliveries are rejected
// without requeue so the broker dead-letters them into the retry ring.
package worker

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/broker"
	"crawlsched/internal/observability"
)

// handlerFunc processes one delivery; a non-nil error rejects it.
type handlerFunc func(ctx context.Context, msg amqp.Delivery) error

// runConsumer attaches a handler to a queue and processes deliveries until
// the context is cancelled or the broker closes the stream.
func runConsumer(ctx context.Context, conn *broker.Conn, queue, tag string, logger *slog.Logger, handle handlerFunc) error {
	deliveries, err := conn.Consume(queue, tag)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					logger.Info("delivery stream closed", "queue", queue)
					return
				}
				handleDelivery(ctx, queue, logger, msg, handle)
			}
		}
	}()
	return nil
}

func handleDelivery(ctx context.Context, queue string, logger *slog.Logger, msg amqp.Delivery, handle handlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "queue", queue, "panic", r)
			msg.Nack(false, false)
			observability.ConsumerMessages.WithLabelValues(queue, "reject").Inc()
		}
	}()

	if err := handle(ctx, msg); err != nil {
		logger.Error("handler failed", "queue", queue, "err", err)
		if nerr := msg.Nack(false, false); nerr != nil {
			logger.Error("nack failed", "queue", queue, "err", nerr)
		}
		observability.ConsumerMessages.WithLabelValues(queue, "reject").Inc()
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("ack failed", "queue", queue, "err", err)
		return
	}
	observability.ConsumerMessages.WithLabelValues(queue, "ack").Inc()
}
