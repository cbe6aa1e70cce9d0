package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// TriggerSubject is the subject carried by tokens that may start a
// processing pass.
const TriggerSubject = "notification-processor"

// TriggerAuth guards the processing trigger with an HS256 bearer token signed
// with the shared secret.
func TriggerAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(secret) == 0 {
			return fiber.NewError(fiber.StatusServiceUnavailable, "trigger secret is not configured")
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization format")
		}

		keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }
		token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), &jwt.RegisteredClaims{}, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithSubject(TriggerSubject),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		return c.Next()
	}
}

// IssueTriggerToken signs a token accepted by TriggerAuth for ttl.
func IssueTriggerToken(secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("trigger secret is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   TriggerSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign trigger token: %w", err)
	}
	return signed, nil
}
