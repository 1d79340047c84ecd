package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/observability"
)

// Publish retry budget: 3 attempts with a 2s pause, capped well under the
// dispatcher's lease-duration envelope.
const (
	publishAttempts   = 3
	publishRetryDelay = 2 * time.Second
)

// publishChannel is the slice of *amqp.Channel the publisher needs; tests
// substitute a fake.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishOptions carries the optional identifiers and headers of one publish.
// Zero values get random UUIDs / empty headers.
type PublishOptions struct {
	CorrelationID string
	MessageID     string
	Headers       amqp.Table
}

// Publisher sends persistent JSON messages with bounded retry.
type Publisher struct {
	ch     publishChannel
	logger *slog.Logger
}

// NewPublisher builds a publisher on top of a broker connection.
func NewPublisher(conn *Conn, logger *slog.Logger) *Publisher {
	return &Publisher{ch: conn.Channel(), logger: logger.With("component", "publisher")}
}

func newPublisherWithChannel(ch publishChannel, logger *slog.Logger) *Publisher {
	return &Publisher{ch: ch, logger: logger}
}

// Publish marshals msg (unless it is already a raw []byte), assigns message
// and correlation ids, and publishes persistently to the exchange. Any error
// is retried up to the budget; the final error is surfaced to the caller.
func (p *Publisher) Publish(ctx context.Context, msg any, exchange, routingKey string, opts PublishOptions) error {
	body, err := encodeBody(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	headers := amqp.Table{"content-type": "application/json"}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: correlationID,
		Headers:       headers,
		Body:          body,
	}

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			observability.PublishRetries.WithLabelValues(exchange).Inc()
		}
		return p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(publishRetryDelay), publishAttempts-1),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		observability.PublishFailures.WithLabelValues(exchange).Inc()
		p.logger.Error("publish failed",
			"exchange", exchange, "routing_key", routingKey,
			"message_id", messageID, "attempts", attempt, "err", err)
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}

	p.logger.Debug("published",
		"exchange", exchange, "routing_key", routingKey,
		"message_id", messageID, "correlation_id", correlationID)
	return nil
}

func encodeBody(msg any) ([]byte, error) {
	if raw, ok := msg.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(msg)
}
