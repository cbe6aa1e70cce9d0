// Package ratelimit declares the throttle the dispatcher applies in front of
// the messaging gateway.
package ratelimit

import "context"

// Scopes share one budget per key across every process using the same store.
const (
	ScopeGatewaySend = "gateway-send"
	ScopeGatewayBulk = "gateway-bulk"
)

// RateLimiter controls outbound gateway throughput per scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
