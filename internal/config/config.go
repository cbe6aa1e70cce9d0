package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	// RedisURL enables the shared rate limiter, pass lock and status cache.
	RedisURL string `env:"REDIS_URL"`
	// RabbitMQURL enables business-event intake.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	GatewayURL           string        `env:"GATEWAY_URL,required=true"`
	GatewayAPIKey        string        `env:"GATEWAY_API_KEY"`
	GatewayStatusTimeout time.Duration `env:"GATEWAY_STATUS_TIMEOUT,default=8s"`
	GatewaySendTimeout   time.Duration `env:"GATEWAY_SEND_TIMEOUT,default=12s"`
	GatewayStatusMaxAge  time.Duration `env:"GATEWAY_STATUS_MAX_AGE,default=30s"`

	RemoteScheduling        bool          `env:"REMOTE_SCHEDULING,default=false"`
	RequireConnectedGateway bool          `env:"REQUIRE_CONNECTED_GATEWAY,default=true"`
	SchedulerInterval       time.Duration `env:"SCHEDULER_INTERVAL,default=0s"`
	ProcessBatchSize        int           `env:"PROCESS_BATCH_SIZE,default=100"`
	StaleClaimAfter         time.Duration `env:"STALE_CLAIM_AFTER,default=10m"`
	RateLimitPerSec         int           `env:"RATE_LIMIT_PER_SEC,default=5"`
	BulkRateLimitPerSec     int           `env:"BULK_RATE_LIMIT_PER_SEC,default=1"`

	TriggerSecret string `env:"TRIGGER_SECRET,required=true"`

	PhoneCountryCode      string `env:"PHONE_COUNTRY_CODE,default=54"`
	PhoneMobileIndicator  string `env:"PHONE_MOBILE_INDICATOR,default=9"`
	PhoneSubscriberLength int    `env:"PHONE_SUBSCRIBER_LENGTH,default=10"`
	TemplateCatalogPath   string `env:"TEMPLATE_CATALOG_PATH"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.TriggerSecret)) < 16 {
		return fmt.Errorf("TRIGGER_SECRET must be at least 16 characters")
	}
	if c.GatewayStatusTimeout <= 0 || c.GatewaySendTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}
	if c.GatewayStatusMaxAge < 0 || c.SchedulerInterval < 0 || c.StaleClaimAfter < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.RateLimitPerSec <= 0 || c.BulkRateLimitPerSec <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.ProcessBatchSize <= 0 {
		return fmt.Errorf("PROCESS_BATCH_SIZE must be positive")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT %d is out of range", c.APIPort)
	}
	return nil
}

func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

func (c *Config) EventIntakeEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}
