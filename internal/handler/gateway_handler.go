package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/practiceflow/notify-engine/internal/domain"
)

const maxStatusAgeSeconds = 3600

type GatewayService interface {
	GatewayStatus(ctx context.Context, maxAge time.Duration) domain.GatewayStatus
	ReconnectGateway(ctx context.Context) (domain.GatewayStatus, error)
}

type GatewayHandler struct {
	service       GatewayService
	defaultMaxAge time.Duration
}

func NewGatewayHandler(service GatewayService, defaultMaxAge time.Duration) (*GatewayHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("gateway service is required")
	}
	if defaultMaxAge < 0 {
		defaultMaxAge = 0
	}
	return &GatewayHandler{service: service, defaultMaxAge: defaultMaxAge}, nil
}

func RegisterGatewayRoutes(router fiber.Router, service GatewayService, defaultMaxAge time.Duration) error {
	h, err := NewGatewayHandler(service, defaultMaxAge)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/gateway/status", h.GetStatus)
	v1.Post("/gateway/reconnect", h.Reconnect)

	return nil
}

// GetStatus accepts maxAge in seconds; maxAge=0 forces a fresh check.
func (h *GatewayHandler) GetStatus(c *fiber.Ctx) error {
	maxAge := h.defaultMaxAge
	if raw := c.Query("maxAge"); raw != "" {
		seconds := c.QueryInt("maxAge", -1)
		if seconds < 0 || seconds > maxStatusAgeSeconds {
			return toHTTPError(fmt.Errorf("%w: maxAge must be between 0 and %d seconds", domain.ErrValidation, maxStatusAgeSeconds))
		}
		maxAge = time.Duration(seconds) * time.Second
	}

	status := h.service.GatewayStatus(c.UserContext(), maxAge)
	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *GatewayHandler) Reconnect(c *fiber.Ctx) error {
	status, err := h.service.ReconnectGateway(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"status":  status,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": status.Connected,
		"status":  status,
	})
}
