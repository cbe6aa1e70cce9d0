// Package monitor keeps a short-lived cached view of gateway health. It is
// demand-driven: the gateway is only asked when a caller needs a fresher view
// than the cache holds.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/observability"
)

const refreshKey = "gateway-status"

type StatusChecker interface {
	CheckStatus(ctx context.Context) domain.GatewayStatus
}

// Cache stores the last observed status. Implementations may be shared
// between processes.
type Cache interface {
	Load(ctx context.Context) (domain.GatewayStatus, bool, error)
	Store(ctx context.Context, status domain.GatewayStatus) error
}

type Monitor struct {
	checker StatusChecker
	cache   Cache
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	group   singleflight.Group
}

func New(checker StatusChecker, cache Cache, logger *zap.Logger, metrics *observability.Metrics) *Monitor {
	return newMonitor(checker, cache, logger, metrics, time.Now)
}

func newMonitor(
	checker StatusChecker,
	cache Cache,
	logger *zap.Logger,
	metrics *observability.Metrics,
	nowFn func() time.Time,
) *Monitor {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Monitor{
		checker: checker,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		now:     nowFn,
	}
}

// GetStatus returns the cached status when it is younger than maxAge and
// refreshes synchronously otherwise. A non-positive maxAge always refreshes.
func (m *Monitor) GetStatus(ctx context.Context, maxAge time.Duration) domain.GatewayStatus {
	if maxAge > 0 {
		cached, ok, err := m.cache.Load(ctx)
		if err != nil {
			m.logger.Warn("failed to read cached gateway status", zap.Error(err))
		} else if ok && cached.Age(m.now()) < maxAge {
			return cached
		}
	}

	return m.ForceCheck(ctx)
}

// ForceCheck asks the gateway now. Concurrent callers share one request.
func (m *Monitor) ForceCheck(ctx context.Context) domain.GatewayStatus {
	result, _, _ := m.group.Do(refreshKey, func() (any, error) {
		status := m.checker.CheckStatus(ctx)
		if status.CheckedAt.IsZero() {
			status.CheckedAt = m.now().UTC()
		}

		if err := m.cache.Store(ctx, status); err != nil {
			m.logger.Warn("failed to cache gateway status", zap.Error(err))
		}
		m.metrics.SetGatewayConnected(status.Connected)

		if !status.Connected {
			fields := []zap.Field{zap.Time("checkedAt", status.CheckedAt)}
			if status.Error != nil {
				fields = append(fields, zap.String("error", *status.Error))
			}
			m.logger.Warn("gateway reported disconnected", fields...)
		}

		return status, nil
	})

	return result.(domain.GatewayStatus)
}

// MemoryCache is the in-process Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	status domain.GatewayStatus
	ok     bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load(_ context.Context) (domain.GatewayStatus, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status, c.ok, nil
}

func (c *MemoryCache) Store(_ context.Context, status domain.GatewayStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = status
	c.ok = true
	return nil
}
