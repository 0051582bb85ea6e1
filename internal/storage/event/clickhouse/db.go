package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	DB       string `mapstructure:"db"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Clickhouse struct {
	conn   driver.Conn
	logger zerolog.Logger
}

func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Clickhouse, error) {
	logger = logger.With().Str("component", "clickhouse").Logger()
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.DB,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: logger.GetLevel() <= zerolog.TraceLevel,
		Debugf: func(format string, v ...any) {
			logger.Trace().Msgf(format, v...)
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     time.Second * 30,
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Duration(10) * time.Minute,
	})
	if err != nil {
		return nil, errors.Wrap(err, "clickhouse open")
	}

	if err = conn.Ping(ctx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			logger.Error().
				Int32("code", exception.Code).
				Str("stack_trace", exception.StackTrace).
				Msg(exception.Message)
		}
		_ = conn.Close()
		return nil, errors.Wrap(err, "clickhouse ping")
	}

	return &Clickhouse{
		conn:   conn,
		logger: logger,
	}, nil
}

func (c *Clickhouse) Close() error {
	return c.conn.Close()
}

func (c *Clickhouse) Ready(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Migrate creates the events table. ReplacingMergeTree keyed by event_id
// collapses redelivered rows; readers that need exact counts query with FINAL.
func (c *Clickhouse) Migrate(ctx context.Context) error {
	return c.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS events
		(
			event_id   UUID,
			project_id UUID,
			user_id    Nullable(String),
			session_id Nullable(String),
			event_type LowCardinality(String),
			timestamp  DateTime64(6, 'UTC'),
			properties String,
			created_at DateTime64(6, 'UTC')
		) Engine = ReplacingMergeTree(created_at)
		ORDER BY event_id`)
}
