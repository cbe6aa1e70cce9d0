package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/monitor"
)

const (
	defaultStatusCacheKey = "notify:gateway:status"
	defaultStatusCacheTTL = 10 * time.Minute
)

var _ monitor.Cache = (*StatusCache)(nil)

// StatusCache shares the last gateway status between instances. Freshness is
// judged by the caller from CheckedAt; the TTL only drops abandoned entries.
type StatusCache struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

func NewStatusCache(client *goredis.Client, key string, ttl time.Duration) (*StatusCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		key = defaultStatusCacheKey
	}
	if ttl <= 0 {
		ttl = defaultStatusCacheTTL
	}

	return &StatusCache{client: client, key: key, ttl: ttl}, nil
}

func (c *StatusCache) Load(ctx context.Context) (domain.GatewayStatus, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.GatewayStatus{}, false, nil
	}
	if err != nil {
		return domain.GatewayStatus{}, false, fmt.Errorf("failed to load gateway status: %w", err)
	}

	var status domain.GatewayStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.GatewayStatus{}, false, fmt.Errorf("failed to decode gateway status: %w", err)
	}

	return status, true, nil
}

func (c *StatusCache) Store(ctx context.Context, status domain.GatewayStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode gateway status: %w", err)
	}

	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store gateway status: %w", err)
	}
	return nil
}
