package config

import (
	"github.com/leshachaplin/eventstream/internal/auth"
	"github.com/leshachaplin/eventstream/internal/cache"
	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/ratelimit"
	appServer "github.com/leshachaplin/eventstream/internal/server/http"
	"github.com/leshachaplin/eventstream/internal/storage/event/clickhouse"
	"github.com/leshachaplin/eventstream/internal/storage/kv"
	"github.com/leshachaplin/eventstream/internal/storage/postgres"
	"github.com/leshachaplin/eventstream/internal/stream"
	"github.com/leshachaplin/eventstream/internal/stream/redpanda/consumer"
	"github.com/leshachaplin/eventstream/internal/stream/redpanda/producer"
	"github.com/leshachaplin/eventstream/internal/worker"
)

const (
	EventStoragePostgres   = "postgres"
	EventStorageClickhouse = "clickhouse"
)

// Config is the main config for the application
type Config struct {
	AppEnv   string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`

	HTTP         appServer.Config  `mapstructure:"http"`
	Auth         auth.Config       `mapstructure:"auth"`
	Postgres     postgres.Config   `mapstructure:"postgres"`
	EventStorage string            `mapstructure:"event_storage"`
	Clickhouse   clickhouse.Config `mapstructure:"clickhouse"`
	Redis        kv.Config         `mapstructure:"redis"`
	Cache        cache.Config      `mapstructure:"cache"`
	RateLimit    ratelimit.Config  `mapstructure:"rate_limit"`
	Metrics      metrics.Config    `mapstructure:"metrics"`

	Stream        stream.Config   `mapstructure:"stream"`
	EventProducer producer.Config `mapstructure:"event_producer"`
	EventConsumer consumer.Config `mapstructure:"event_consumer"`
	EventWorker   worker.Config   `mapstructure:"event_worker"`
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c Config) NeedsRedis() bool {
	return c.Cache.Driver == cache.DriverRedis ||
		(c.RateLimit.Enabled && c.RateLimit.Driver == ratelimit.DriverRedis)
}
