package queue

import (
	"context"

	"github.com/practiceflow/notify-engine/internal/domain"
)

// Publisher publishes business events to the intake queue.
type Publisher interface {
	Publish(ctx context.Context, msg EventMessage) error
	Close() error
}

// MessageHandler handles a consumed event. Returning an error wrapping
// domain.ErrValidation dead-letters the message; any other error requeues it.
type MessageHandler func(ctx context.Context, msg EventMessage) error

// Consumer consumes business events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// EventsQueue carries business events that become ledger records.
	EventsQueue = "notification.events"
	// EventsDLQ receives events that failed validation or were rejected.
	EventsDLQ = "dlq." + EventsQueue

	eventsRoutingKey = "notification.events"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the events queue.
	queueMaxPriority int32 = 3
)

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
