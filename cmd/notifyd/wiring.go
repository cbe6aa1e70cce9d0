package main

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/practiceflow/notify-engine/internal/config"
	"github.com/practiceflow/notify-engine/internal/gateway"
	"github.com/practiceflow/notify-engine/internal/infra/postgresql"
	infraredis "github.com/practiceflow/notify-engine/internal/infra/redis"
	"github.com/practiceflow/notify-engine/internal/monitor"
	"github.com/practiceflow/notify-engine/internal/observability"
	"github.com/practiceflow/notify-engine/internal/phone"
	"github.com/practiceflow/notify-engine/internal/repository"
	"github.com/practiceflow/notify-engine/internal/service"
	"github.com/practiceflow/notify-engine/internal/templates"
)

// components is everything a command needs to run the dispatcher against
// real infrastructure. redis is nil when REDIS_URL is unset.
type components struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	db         *gorm.DB
	sqlDB      *sql.DB
	redis      *goredis.Client
	dispatcher *service.Dispatcher
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	c.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	c.sqlDB = sqlDB

	deps := service.Dependencies{
		Notifications: repository.NewGormNotificationRepo(db),
		Attempts:      repository.NewGormAttemptRepo(db),
		Bulk:          repository.NewGormBulkRepo(db),
		Metrics:       c.metrics,
	}

	var statusCache monitor.Cache = monitor.NewMemoryCache()
	if cfg.RedisEnabled() {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
		c.redis = rdb

		limiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.GatewayBudgets(cfg.RateLimitPerSec, cfg.BulkRateLimitPerSec))
		if err != nil {
			c.Close()
			return nil, err
		}
		deps.RateLimiter = limiter

		lock, err := infraredis.NewPassLock(rdb, "", 0)
		if err != nil {
			c.Close()
			return nil, err
		}
		deps.PassLock = lock

		cache, err := infraredis.NewStatusCache(rdb, "", 0)
		if err != nil {
			c.Close()
			return nil, err
		}
		statusCache = cache
	} else {
		logger.Warn("REDIS_URL not set, running without shared rate limit and pass lock")
	}

	client, err := gateway.NewClient(gateway.Options{
		BaseURL:       cfg.GatewayURL,
		APIKey:        cfg.GatewayAPIKey,
		StatusTimeout: cfg.GatewayStatusTimeout,
		SendTimeout:   cfg.GatewaySendTimeout,
		Logger:        logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	deps.Gateway = client
	deps.Monitor = monitor.New(client, statusCache, logger, c.metrics)

	normalizer, err := phone.New(cfg.PhoneCountryCode, cfg.PhoneMobileIndicator, cfg.PhoneSubscriberLength)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid phone settings: %w", err)
	}
	deps.Phone = normalizer

	catalog := templates.DefaultCatalog()
	if cfg.TemplateCatalogPath != "" {
		catalog, err = templates.LoadCatalog(cfg.TemplateCatalogPath)
		if err != nil {
			c.Close()
			return nil, err
		}
	}
	deps.Catalog = catalog

	dispatcher, err := service.NewDispatcher(deps, service.DispatcherConfig{
		RemoteScheduling:        cfg.RemoteScheduling,
		RequireConnectedGateway: cfg.RequireConnectedGateway,
		StatusMaxAge:            cfg.GatewayStatusMaxAge,
		ProcessLimit:            cfg.ProcessBatchSize,
		StaleClaimAfter:         cfg.StaleClaimAfter,
	}, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.dispatcher = dispatcher

	return c, nil
}

func (c *components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
}
