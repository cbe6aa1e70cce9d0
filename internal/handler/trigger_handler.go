package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/practiceflow/notify-engine/internal/observability"
	"github.com/practiceflow/notify-engine/internal/service"
	"github.com/practiceflow/notify-engine/internal/transport"
)

type Processor interface {
	ProcessScheduledNotifications(ctx context.Context) (*service.ProcessResult, error)
}

type processResponse struct {
	Success    bool   `json:"success"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Requeued   int64  `json:"requeued"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RegisterTriggerRoutes exposes the reprocessing trigger for an external
// scheduler. Calling it while another pass runs is safe and reports skipped.
func RegisterTriggerRoutes(router fiber.Router, processor Processor, secret []byte, logger *zap.Logger) error {
	if processor == nil {
		return fmt.Errorf("processor is required")
	}
	if len(secret) == 0 {
		return fmt.Errorf("trigger secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	internal := router.Group("/internal", transport.TriggerAuth(secret))
	internal.Post("/notifications/process", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		result, err := processor.ProcessScheduledNotifications(ctx)
		if result == nil {
			result = &service.ProcessResult{}
		}

		resp := processResponse{
			Success:    err == nil,
			Processed:  result.Processed,
			Failed:     result.Failed,
			Requeued:   result.Requeued,
			Skipped:    result.Skipped,
			SkipReason: result.SkipReason,
		}
		if err != nil {
			observability.WithContextLogger(logger, ctx).Error("triggered processing pass failed", zap.Error(err))
			resp.Error = err.Error()
			statusCode := fiber.StatusInternalServerError
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				statusCode = fiber.StatusServiceUnavailable
			}
			return c.Status(statusCode).JSON(resp)
		}

		return c.Status(fiber.StatusOK).JSON(resp)
	})

	return nil
}
