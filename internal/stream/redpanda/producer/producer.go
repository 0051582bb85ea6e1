package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/stream"
)

const contentTypeHeader = "content-type"

type Config struct {
	Brokers           []string      `mapstructure:"brokers"`
	Topic             string        `mapstructure:"topic"`
	MaxLen            int64         `mapstructure:"max_len"`
	ApproxRecordBytes int64         `mapstructure:"approx_record_bytes"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryInitial      time.Duration `mapstructure:"retry_initial"`
	RetryMax          time.Duration `mapstructure:"retry_max"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout"`
}

func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: c.RetryAttempts,
		Initial:  c.RetryInitial,
		Max:      c.RetryMax,
	}.withDefaults()
}

type Producer struct {
	client         *kgo.Client
	retry          RetryPolicy
	publishTimeout time.Duration
	logger         zerolog.Logger
}

func NewProducer(
	ctx context.Context,
	cfg Config,
	logger zerolog.Logger,
) (*Producer, error) {
	clientOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "kgo new client")
	}

	if err = client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}

	producer := &Producer{
		client:         client,
		retry:          cfg.RetryPolicy(),
		publishTimeout: publishTimeout,
		logger:         logger.With().Str("component", "event_producer").Logger(),
	}

	return producer, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

func (p *Producer) Publish(ctx context.Context, event domain.Event) error {
	return p.PublishBatch(ctx, []domain.Event{event})
}

// PublishBatch produces every event in a single ProduceSync call. Records are
// keyed by project so one call from one tenant lands on one partition in order.
func (p *Producer) PublishBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	type encoded struct {
		key   []byte
		value []byte
	}
	payloads := make([]encoded, 0, len(events))
	for _, e := range events {
		b, err := stream.Encode(e)
		if err != nil {
			return err
		}
		payloads = append(payloads, encoded{key: []byte(e.ProjectID.String()), value: b})
	}

	return Retry(ctx, p.retry, p.logger, func() error {
		records := make([]*kgo.Record, 0, len(payloads))
		for _, pl := range payloads {
			records = append(records, &kgo.Record{
				Key:     pl.key,
				Value:   pl.value,
				Headers: []kgo.RecordHeader{{Key: contentTypeHeader, Value: []byte(stream.ContentType)}},
			})
		}

		produceCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
		res := p.client.ProduceSync(produceCtx, records...)
		cancel()

		if err := res.FirstErr(); err != nil {
			return errors.Wrap(err, "produce sync")
		}
		return nil
	})
}

// DeadLetterSink publishes undecodable entries with their error reason to a
// separate topic.
type DeadLetterSink struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

func NewDeadLetterSink(ctx context.Context, brokers []string, topic string, logger zerolog.Logger) (*DeadLetterSink, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...), kgo.DefaultProduceTopic(topic))
	if err != nil {
		return nil, errors.Wrap(err, "kgo new client")
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return &DeadLetterSink{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "dead_letter").Str("topic", topic).Logger(),
	}, nil
}

func (s *DeadLetterSink) Send(ctx context.Context, rec stream.DeadLetterRecord) error {
	b, err := json.Marshal(stream.NewDeadLetterPayload(rec))
	if err != nil {
		return errors.Wrap(err, "marshal dead letter")
	}
	res := s.client.ProduceSync(ctx, &kgo.Record{Key: []byte(rec.MsgID), Value: b})
	if err := res.FirstErr(); err != nil {
		return errors.Wrap(err, "produce dead letter")
	}
	s.logger.Warn().Err(rec.Reason).Str("msg_id", rec.MsgID).Msg("stream entry dead-lettered")
	return nil
}

func (s *DeadLetterSink) Close() error {
	s.client.Close()
	return nil
}
