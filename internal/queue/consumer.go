package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerTag = "notify-engine-intake"

// RabbitMQConsumer feeds business events to a handler with manual acks.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	var delay time.Duration
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = 0
			continue
		}

		delay = nextRedialDelay(delay)
		c.logger.Warn("event consumer stopped, restarting",
			zap.String("queue", queue),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// settlement is what happens to a delivery once its handler has run.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	outcome := c.decide(ctx, d, handler)

	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

// decide runs handler for a decoded, valid event. Undecodable or invalid
// events and handler validation errors are dead-lettered; other handler
// errors are requeued.
func (c *RabbitMQConsumer) decide(ctx context.Context, d amqp.Delivery, handler MessageHandler) settlement {
	var msg EventMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("dead-lettering event: invalid JSON",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		return settleDeadLetter
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering event: validation failed",
			zap.Error(err),
			zap.String("eventId", msg.EventID),
			zap.String("eventType", msg.EventType),
		)
		return settleDeadLetter
	}

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = d.CorrelationId
	}
	if correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		return settleAck
	case errors.Is(err, domain.ErrValidation):
		c.logger.Warn("dead-lettering event: handler refused it",
			zap.Error(err),
			zap.String("eventId", msg.EventID),
		)
		return settleDeadLetter
	default:
		c.logger.Warn("requeueing event after handler error",
			zap.Error(err),
			zap.String("eventId", msg.EventID),
			zap.Bool("redelivered", d.Redelivered),
		)
		return settleRequeue
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
