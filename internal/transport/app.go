package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/practiceflow/notify-engine/internal/observability"
)

// NewApp builds the fiber app shared by every route group: correlation ids,
// request metrics, panic recovery and the JSON error handler. /metrics is
// mounted when metrics is non-nil.
func NewApp(logger *zap.Logger, metrics *observability.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "notify-engine",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(observability.CorrelationMiddleware())
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	return app
}
