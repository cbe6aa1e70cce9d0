package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

var errCheckDisabled = errors.New("disabled")

// ReadinessCheck is one dependency reported by /readyz. Only Required
// checks can make the service not ready.
type ReadinessCheck struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

// PostgresCheck pings the ledger database.
func PostgresCheck(sqlDB *sql.DB) ReadinessCheck {
	return ReadinessCheck{
		Name:     "postgres",
		Required: true,
		Check: func(ctx context.Context) error {
			if sqlDB == nil {
				return errors.New("not configured")
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

// RedisCheck pings Redis. A nil client means Redis is not configured and the
// check reports disabled.
func RedisCheck(rdb *redis.Client) ReadinessCheck {
	return ReadinessCheck{
		Name:     "redis",
		Required: rdb != nil,
		Check: func(ctx context.Context) error {
			if rdb == nil {
				return errCheckDisabled
			}
			return rdb.Ping(ctx).Err()
		},
	}
}

// GatewayCheck reports the cached gateway connection. Notifications are still
// accepted while the gateway is down, so it never blocks readiness.
func GatewayCheck(svc GatewayService, maxAge time.Duration) ReadinessCheck {
	return ReadinessCheck{
		Name: "gateway",
		Check: func(ctx context.Context) error {
			if svc == nil {
				return errCheckDisabled
			}
			status := svc.GatewayStatus(ctx, maxAge)
			if status.Connected {
				return nil
			}
			if status.Error != nil {
				return errors.New(*status.Error)
			}
			return errors.New("disconnected")
		},
	}
}

// RegisterHealthRoutes mounts /livez and /readyz.
func RegisterHealthRoutes(router fiber.Router, checks ...ReadinessCheck) {
	router.Get("/livez", LivezHandler())
	router.Get("/readyz", ReadyzHandler(checks...))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks ...ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		ready := true
		results := make(fiber.Map, len(checks))
		for _, check := range checks {
			err := check.Check(ctx)
			switch {
			case err == nil:
				results[check.Name] = "ok"
			case errors.Is(err, errCheckDisabled):
				results[check.Name] = "disabled"
			default:
				results[check.Name] = "down"
				if check.Required {
					ready = false
				}
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": results,
			})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ready",
			"checks": results,
		})
	}
}
