package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/leshachaplin/eventstream/app/waiter"
	"github.com/leshachaplin/eventstream/internal/auth"
	"github.com/leshachaplin/eventstream/internal/cache"
	"github.com/leshachaplin/eventstream/internal/config"
	"github.com/leshachaplin/eventstream/internal/identity"
	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/ratelimit"
	appServer "github.com/leshachaplin/eventstream/internal/server/http"
	"github.com/leshachaplin/eventstream/internal/service"
	"github.com/leshachaplin/eventstream/internal/storage/event/clickhouse"
	"github.com/leshachaplin/eventstream/internal/storage/kv"
	"github.com/leshachaplin/eventstream/internal/storage/postgres"
	"github.com/leshachaplin/eventstream/internal/stream"
	"github.com/leshachaplin/eventstream/internal/stream/memory"
	"github.com/leshachaplin/eventstream/internal/stream/redpanda"
	"github.com/leshachaplin/eventstream/internal/stream/redpanda/consumer"
	"github.com/leshachaplin/eventstream/internal/stream/redpanda/producer"
	"github.com/leshachaplin/eventstream/internal/worker"
)

type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
	RoleAll    Role = "all"
)

func (r Role) api() bool    { return r == RoleAPI || r == RoleAll }
func (r Role) worker() bool { return r == RoleWorker || r == RoleAll }

const shutdownTimeout = 30 * time.Second

type LoadConfigFn func() (config.Config, error)

type App struct {
	cfg     config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	server  *appServer.Server
	waiter  waiter.Waiter

	db          *postgres.DB
	redis       *redis.Client
	memStream   *memory.Stream
	eventWriter worker.EventStore

	ctx      context.Context
	cancelFn context.CancelFunc
	closers  []func()
}

func New(loadConfigFn LoadConfigFn) (*App, error) {
	cfg, err := loadConfigFn()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	logger := NewZeroLogger(Level(cfg.LogLevel), cfg.AppEnv)

	return &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		waiter:   waiter.NewWaiter(ctx, cancelFn),
		ctx:      ctx,
		cancelFn: cancelFn,
	}, nil
}

func (a *App) Logger() zerolog.Logger {
	return a.logger
}

// Start wires the components of role and blocks until a signal, Stop or the
// first component failure.
func (a *App) Start(role Role) error {
	defer a.cancelFn()
	defer a.close()

	if role == RoleAPI && a.cfg.Stream.Driver == stream.DriverMemory {
		a.logger.Warn().Msg("memory stream without an in-process worker: accepted events are never persisted")
	}

	if role.api() {
		if err := a.setupAPI(); err != nil {
			return err
		}
		a.waitForServer()
	}
	if role.worker() {
		w, err := a.setupWorker()
		if err != nil {
			return err
		}
		a.waitForWorker(w)
		if role == RoleWorker {
			a.waitForMetricsServer()
		}
	}

	a.logger.Info().Str("role", string(role)).Msg("app started")
	return a.waiter.Wait()
}

func (a *App) Stop() {
	a.cancelFn()
}

// Migrate applies the relational schema and, when configured, the ClickHouse
// event table.
func (a *App) Migrate() error {
	defer a.close()

	db, err := a.postgres()
	if err != nil {
		return err
	}
	if err := db.Migrate(a.ctx, a.logger); err != nil {
		return errors.Wrap(err, "postgres migrate")
	}

	if a.cfg.EventStorage == config.EventStorageClickhouse {
		ch, err := clickhouse.New(a.ctx, a.cfg.Clickhouse, a.logger)
		if err != nil {
			return errors.Wrap(err, "clickhouse connect")
		}
		defer ch.Close()
		if err := ch.Migrate(a.ctx); err != nil {
			return errors.Wrap(err, "clickhouse migrate")
		}
	}

	a.logger.Info().Msg("migrations applied")
	return nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) postgres() (*postgres.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := postgres.Connect(a.ctx, a.cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, "postgres connect")
	}
	a.onClose(db.Close)
	a.db = db
	return db, nil
}

func (a *App) redisClient() (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := kv.Connect(a.ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })
	a.redis = client
	return client, nil
}

func (a *App) memoryStream() *memory.Stream {
	if a.memStream == nil {
		a.memStream = memory.New(a.cfg.Stream.MemoryMaxLen)
	}
	return a.memStream
}

func (a *App) topicSpec() redpanda.TopicSpec {
	return redpanda.TopicSpec{
		Name:              a.cfg.EventProducer.Topic,
		Partitions:        a.cfg.EventConsumer.Partitions,
		ReplicationFactor: a.cfg.EventConsumer.ReplicationFactor,
		MaxLen:            a.cfg.EventProducer.MaxLen,
		ApproxRecordBytes: a.cfg.EventProducer.ApproxRecordBytes,
	}
}

func (a *App) eventProducer() (stream.Producer, error) {
	if a.cfg.Stream.Driver == stream.DriverMemory {
		return memory.NewProducer(a.memoryStream()), nil
	}

	created, err := redpanda.EnsureTopicAt(a.ctx, a.cfg.EventProducer.Brokers, a.topicSpec())
	if err != nil {
		return nil, errors.Wrap(err, "ensure event topic")
	}
	if created {
		a.logger.Info().Str("topic", a.cfg.EventProducer.Topic).Msg("event topic created")
	}

	p, err := producer.NewProducer(a.ctx, a.cfg.EventProducer, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "event producer")
	}
	a.onClose(func() { _ = p.Close() })
	return p, nil
}

func (a *App) identityCache() (cache.IdentityCache, error) {
	cfg := a.cfg.Cache.WithDefaults()
	if cfg.Driver == cache.DriverRedis {
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		return cache.NewRedis(client), nil
	}
	return cache.NewMemory(cfg, time.Now), nil
}

func (a *App) rateCounter() (ratelimit.Counter, error) {
	if a.cfg.RateLimit.Enabled && a.cfg.RateLimit.Driver == ratelimit.DriverRedis {
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		return ratelimit.NewRedisCounter(client, time.Now), nil
	}
	return ratelimit.NewMemoryCounter(time.Now), nil
}

func (a *App) setupAPI() error {
	db, err := a.postgres()
	if err != nil {
		return err
	}
	projects := postgres.NewProjectStore(db)

	identityCache, err := a.identityCache()
	if err != nil {
		return err
	}
	counter, err := a.rateCounter()
	if err != nil {
		return err
	}
	eventProducer, err := a.eventProducer()
	if err != nil {
		return err
	}

	resolver := identity.NewResolver(a.cfg.AppEnv, identityCache, projects, a.cfg.Cache.WithDefaults().TTL, a.logger)
	tokens := auth.NewSecretTokenValidator(a.cfg.Auth.SecretToken)
	if a.cfg.Auth.SecretToken == "" {
		a.logger.Warn().Msg("auth.secret_token is empty: administrative endpoints reject every caller")
	}

	readiness := []appServer.ReadyCheck{{Name: "postgres", Check: db.Ready}}
	if a.redis != nil {
		client := a.redis
		readiness = append(readiness, appServer.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	svc := service.New(a.cfg.AppEnv, eventProducer, projects, a.metrics, a.logger)
	handler := appServer.NewHandler(appServer.Deps{
		Ingestion:   svc,
		Projects:    svc,
		Resolver:    resolver,
		PlanLimiter: ratelimit.NewPlanLimiter(a.cfg.RateLimit, counter, resolver),
		IPLimiter:   ratelimit.NewIPLimiter(a.cfg.RateLimit, counter, tokens),
		Tokens:      tokens,
		Readiness:   readiness,
		Metrics:     a.metrics,
		Debug:       a.cfg.Debug,
	}, a.logger)

	a.server = appServer.New(handler)
	return nil
}

func (a *App) eventStore() (worker.EventStore, error) {
	if a.eventWriter != nil {
		return a.eventWriter, nil
	}
	if a.cfg.EventStorage == config.EventStorageClickhouse {
		ch, err := clickhouse.New(a.ctx, a.cfg.Clickhouse, a.logger)
		if err != nil {
			return nil, errors.Wrap(err, "clickhouse connect")
		}
		a.onClose(func() { _ = ch.Close() })
		a.eventWriter = ch
		return ch, nil
	}

	db, err := a.postgres()
	if err != nil {
		return nil, err
	}
	a.eventWriter = postgres.NewEventStore(db)
	return a.eventWriter, nil
}

func (a *App) deadLetter() (stream.DeadLetter, error) {
	var dead stream.DeadLetter = stream.NewLogDeadLetter(a.logger)
	if topic := a.cfg.EventConsumer.DeadLetterTopic; topic != "" && a.cfg.Stream.Driver == stream.DriverRedpanda {
		sink, err := producer.NewDeadLetterSink(a.ctx, a.cfg.EventConsumer.Brokers, topic, a.logger)
		if err != nil {
			return nil, errors.Wrap(err, "dead letter sink")
		}
		a.onClose(func() { _ = sink.Close() })
		dead = sink
	}
	return worker.CountDeadLetters(dead, a.metrics), nil
}

func (a *App) eventConsumer(dead stream.DeadLetter) (stream.Consumer, error) {
	cc := a.cfg.EventConsumer
	if a.cfg.Stream.Driver == stream.DriverMemory {
		return memory.NewConsumer(a.memoryStream(), cc.ConsumerGroup, cc.ConsumerName, dead, a.logger), nil
	}

	c, err := consumer.NewConsumer(a.ctx, cc, a.topicSpec(), dead, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "event consumer")
	}
	a.onClose(func() { _ = c.Close() })
	return c, nil
}

func (a *App) setupWorker() (*worker.Worker, error) {
	store, err := a.eventStore()
	if err != nil {
		return nil, err
	}
	dead, err := a.deadLetter()
	if err != nil {
		return nil, err
	}
	c, err := a.eventConsumer(dead)
	if err != nil {
		return nil, err
	}

	processor := worker.NewProcessor(c, store, a.cfg.EventWorker, a.metrics, a.logger)
	sampler := worker.NewSampler(c, a.metrics, a.cfg.Metrics.SampleInterval, a.logger)
	return worker.New(a.cfg.EventWorker, c, processor, sampler, a.logger), nil
}

func (a *App) waitForServer() {
	a.waiter.Add(func(ctx context.Context) error {
		defer a.logger.Debug().Msg("server has been shutdown")

		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			defer a.logger.Debug().Msg("public server exited")
			a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Msg("starting public server")
			err := a.server.ServePublic(a.cfg.HTTP, appServer.Middlewares(a.logger)...)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		group.Go(func() error {
			<-gCtx.Done()
			a.logger.Debug().Msg("shutting down the server")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := a.server.ShutdownPublic(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("error while shutting down the server")
			}
			return nil
		})

		return group.Wait()
	})
}

func (a *App) waitForWorker(eventWorker *worker.Worker) {
	a.waiter.Add(func(ctx context.Context) error {
		if err := eventWorker.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		eventWorker.GracefulStop()
		return nil
	})
}

func (a *App) waitForMetricsServer() {
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           a.metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.waiter.Add(func(ctx context.Context) error {
		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			a.logger.Info().Str("addr", srv.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gCtx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		return group.Wait()
	})
}
