package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPassLockKey = "notify:lock:process-pass"
	defaultPassLockTTL = 5 * time.Minute
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PassLock serializes scheduled-notification passes across instances. The TTL
// bounds how long a crashed holder can block later passes.
type PassLock struct {
	client   *goredis.Client
	key      string
	ttl      time.Duration
	newToken func() string
}

func NewPassLock(client *goredis.Client, key string, ttl time.Duration) (*PassLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		key = defaultPassLockKey
	}
	if ttl <= 0 {
		ttl = defaultPassLockTTL
	}

	return &PassLock{
		client:   client,
		key:      key,
		ttl:      ttl,
		newToken: uuid.NewString,
	}, nil
}

// TryAcquire returns ok=false without error when another holder owns the lock.
// The returned release func is safe to call after the lock expired.
func (l *PassLock) TryAcquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := l.newToken()

	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to release pass lock: %w", err)
		}
		return nil
	}

	return release, true, nil
}
