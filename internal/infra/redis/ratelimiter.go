package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/practiceflow/notify-engine/internal/ratelimit"
)

const (
	defaultSendBudget = 5
	defaultBulkBudget = 1
	minWindowWait     = 10 * time.Millisecond
	rateLimitPrefix   = "notify:ratelimit"
)

// spendScript counts one call in the current one-second window and returns
// the count so far. Window keys expire after two seconds.
var spendScript = goredis.NewScript(`
local spent = redis.call("INCR", KEYS[1])
if spent == 1 then
  redis.call("EXPIRE", KEYS[1], 2)
end
return spent
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// Budgets is the number of gateway calls each scope may make per second.
// Scopes without an entry use Default.
type Budgets struct {
	Default int
	Scopes  map[string]int
}

// GatewayBudgets returns per-second budgets for single sends and bulk calls.
func GatewayBudgets(sendPerSec, bulkPerSec int) Budgets {
	if sendPerSec <= 0 {
		sendPerSec = defaultSendBudget
	}
	if bulkPerSec <= 0 {
		bulkPerSec = defaultBulkBudget
	}
	return Budgets{
		Default: sendPerSec,
		Scopes: map[string]int{
			ratelimit.ScopeGatewaySend: sendPerSec,
			ratelimit.ScopeGatewayBulk: bulkPerSec,
		},
	}
}

func (b Budgets) limit(scope string) int64 {
	if n, ok := b.Scopes[scope]; ok && n > 0 {
		return int64(n)
	}
	if b.Default > 0 {
		return int64(b.Default)
	}
	return defaultSendBudget
}

// RedisRateLimiter shares per-scope gateway budgets across every instance
// pointed at the same Redis.
type RedisRateLimiter struct {
	client  *goredis.Client
	budgets Budgets
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, budgets Budgets) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	normalized := Budgets{Default: budgets.Default, Scopes: make(map[string]int, len(budgets.Scopes))}
	for scope, n := range budgets.Scopes {
		normalized.Scopes[normalizeScope(scope)] = n
	}

	return &RedisRateLimiter{
		client:  client,
		budgets: normalized,
		now:     time.Now,
		sleep:   sleepWithContext,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	scope = normalizeScope(scope)
	if scope == "" {
		return false, fmt.Errorf("rate limit scope is required")
	}

	window := r.now().UTC().Unix()
	key := fmt.Sprintf("%s:%s:%d", rateLimitPrefix, scope, window)
	spent, err := spendScript.Run(ctx, r.client, []string{key}).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to spend rate limit budget: %w", err)
	}

	return spent <= r.budgets.limit(scope), nil
}

// Wait blocks until the scope has budget, sleeping to the start of the next
// window after each refusal, or until ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	for {
		allowed, err := r.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, untilNextWindow(r.now())); err != nil {
			return err
		}
	}
}

func untilNextWindow(now time.Time) time.Duration {
	return max(time.Second-time.Duration(now.Nanosecond()), minWindowWait)
}

func normalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
