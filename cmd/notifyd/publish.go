package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/queue"
)

func newPublishEventCmd() *cobra.Command {
	var (
		msg      queue.EventMessage
		priority string
		metadata map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish-event",
		Short: "Publish a business event to the notification events queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if !cfg.EventIntakeEnabled() {
				return fmt.Errorf("RABBITMQ_URL is required to publish events")
			}

			if strings.TrimSpace(priority) != "" {
				p, err := domain.ParsePriorityFromString(priority)
				if err != nil {
					return err
				}
				msg.Priority = p
			}
			if len(metadata) > 0 {
				msg.Metadata = make(map[string]any, len(metadata))
				for k, v := range metadata {
					msg.Metadata[k] = v
				}
			}

			ctx, stop := commandContext(cmd)
			defer stop()

			dialCtx, cancelDial := context.WithTimeout(ctx, rabbitDialTimeout)
			defer cancelDial()

			rabbit, err := queue.NewRabbitMQ(dialCtx, cfg.RabbitMQURL, logger)
			if err != nil {
				return fmt.Errorf("rabbitmq initialization failed: %w", err)
			}
			publisher := queue.NewRabbitMQPublisher(rabbit)
			defer publisher.Close() //nolint:errcheck

			if err := publisher.Publish(ctx, msg); err != nil {
				return err
			}

			logger.Info("event published",
				zap.String("eventType", msg.EventType),
				zap.String("queue", queue.EventsQueue),
			)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&msg.EventType, "type", "", "notification type, e.g. appointment_reminder")
	flags.StringVar(&msg.RecipientPhone, "phone", "", "recipient phone number")
	flags.StringToStringVar(&msg.Variables, "var", nil, "template variable as key=value, repeatable")
	flags.IntVar(&msg.DelayMinutes, "delay", 0, "minutes until delivery")
	flags.StringVar(&priority, "priority", "", "low, normal or high")
	flags.StringVar(&msg.CorrelationID, "correlation-id", "", "correlation id carried into logs")
	flags.StringToStringVar(&metadata, "meta", nil, "metadata entry as key=value, repeatable")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}
