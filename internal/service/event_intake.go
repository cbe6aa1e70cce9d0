package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/observability"
	"github.com/practiceflow/notify-engine/internal/queue"
	"go.uber.org/zap"
)

// QuickCreator creates ledger records from business events.
type QuickCreator interface {
	CreateQuickNotification(ctx context.Context, req QuickRequest) (*domain.Notification, error)
}

// EventIntake turns business events from the broker into ledger records.
type EventIntake struct {
	consumer queue.Consumer
	creator  QuickCreator
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewEventIntake(
	consumer queue.Consumer,
	creator QuickCreator,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*EventIntake, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if creator == nil {
		return nil, fmt.Errorf("notification creator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventIntake{
		consumer: consumer,
		creator:  creator,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Start consumes the events queue until ctx is cancelled.
func (e *EventIntake) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.logger.Info("event intake started", zap.String("queue", queue.EventsQueue))
	if err := e.consumer.Consume(ctx, queue.EventsQueue, e.handleEvent); err != nil {
		e.logger.Error("event intake stopped with error", zap.Error(err))
		return err
	}

	e.logger.Info("event intake stopped")
	return nil
}

func (e *EventIntake) handleEvent(ctx context.Context, msg queue.EventMessage) error {
	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("eventId", msg.EventID),
		zap.String("eventType", msg.EventType),
	)

	notification, err := e.creator.CreateQuickNotification(ctx, QuickRequest{
		Recipient:    msg.RecipientPhone,
		Type:         msg.EventType,
		Variables:    msg.Variables,
		DelayMinutes: msg.DelayMinutes,
		Metadata:     eventMetadata(msg),
		Priority:     msg.Priority.String(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			e.metrics.IncEventConsumed("rejected")
			logger.Warn("event rejected", zap.Error(err))
			return err
		}
		e.metrics.IncEventConsumed("error")
		logger.Error("failed to create notification from event", zap.Error(err))
		return err
	}

	e.metrics.IncEventConsumed("created")
	logger.Info("notification created from event", observability.NotificationFields(notification)...)
	return nil
}

func eventMetadata(msg queue.EventMessage) map[string]any {
	metadata := copyMetadata(msg.Metadata)
	if msg.EventID != "" {
		metadata["event_id"] = msg.EventID
	}
	return metadata
}
