package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/stream"
	"github.com/leshachaplin/eventstream/internal/stream/redpanda"
)

var ErrClientClosed = errors.New("client closed")

type Config struct {
	Brokers           []string `mapstructure:"brokers"`
	ConsumerGroup     string   `mapstructure:"consumer_group"`
	ConsumerName      string   `mapstructure:"consumer_name"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
	DeadLetterTopic   string   `mapstructure:"dead_letter_topic"`
}

type delivery struct {
	id     string
	record *kgo.Record
	event  domain.Event
}

// Consumer reads the event topic as a member of a consumer group. Offsets
// are committed only through Ack; records handed out but not yet acknowledged
// are kept in delivery order and returned again by the next ReadBatch.
type Consumer struct {
	client *kgo.Client
	admin  *kadm.Client
	group  string
	topic  redpanda.TopicSpec
	dead   stream.DeadLetter
	logger zerolog.Logger

	mu      sync.Mutex
	pending []delivery
}

func NewConsumer(
	ctx context.Context,
	cfg Config,
	topic redpanda.TopicSpec,
	dead stream.DeadLetter,
	logger zerolog.Logger,
) (*Consumer, error) {
	consumer := &Consumer{
		group:  cfg.ConsumerGroup,
		topic:  topic,
		dead:   dead,
		logger: logger.With().Str("component", "event_consumer").Str("consumer", cfg.ConsumerName).Logger(),
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ConsumerName),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsRevoked(consumer.onRevoked),
		kgo.OnPartitionsLost(consumer.onRevoked),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "kgo new client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, err
	}

	consumer.client = client
	consumer.admin = kadm.NewClient(client)
	return consumer, nil
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// onRevoked forgets deliveries from partitions this member no longer owns;
// their new owner starts from the last committed offset.
func (c *Consumer) onRevoked(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.pending[:0]
	for _, d := range c.pending {
		if !containsPartition(revoked[d.record.Topic], d.record.Partition) {
			kept = append(kept, d)
		}
	}
	c.pending = kept
}

func containsPartition(partitions []int32, p int32) bool {
	for _, q := range partitions {
		if q == p {
			return true
		}
	}
	return false
}

func (c *Consumer) EnsureGroup(ctx context.Context) error {
	created, err := redpanda.EnsureTopic(ctx, c.admin, c.topic)
	if err != nil {
		return err
	}
	c.logger.Info().
		Bool("topic_created", created).
		Str("topic", c.topic.Name).
		Str("group", c.group).
		Msg("consumer group ready")
	return nil
}

func (c *Consumer) ReadBatch(ctx context.Context, count int, block time.Duration) ([]stream.ConsumedEvent, error) {
	if redelivered := c.redeliver(count); len(redelivered) > 0 {
		return redelivered, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, block)
	fetches := c.client.PollRecords(pollCtx, count)
	cancel()

	if fetches.IsClientClosed() {
		return nil, ErrClientClosed
	}

	var fetchErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if fetchErr == nil {
			fetchErr = errors.Wrapf(err, "stream poll fetches %s[%d]", topic, partition)
		}
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	batch := make([]stream.ConsumedEvent, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		id := redpanda.MsgID(r)
		event, err := stream.Decode(r.Value)
		if err != nil {
			if dlErr := c.dead.Send(ctx, stream.DeadLetterRecord{MsgID: id, Payload: r.Value, Reason: err}); dlErr != nil {
				c.logger.Error().Err(dlErr).Str("msg_id", id).Msg("dead letter send failed")
			}
			return
		}

		c.mu.Lock()
		c.pending = append(c.pending, delivery{id: id, record: r, event: event})
		c.mu.Unlock()
		batch = append(batch, stream.ConsumedEvent{MsgID: id, Event: event})
	})

	if len(batch) == 0 && fetchErr != nil {
		return nil, fetchErr
	}
	if fetchErr != nil {
		c.logger.Warn().Err(fetchErr).Msg("partial fetch")
	}
	return batch, nil
}

func (c *Consumer) redeliver(count int) []stream.ConsumedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	if n > count {
		n = count
	}
	out := make([]stream.ConsumedEvent, 0, n)
	for _, d := range c.pending[:n] {
		out = append(out, stream.ConsumedEvent{MsgID: d.id, Event: d.event})
	}
	return out
}

func (c *Consumer) Ack(ctx context.Context, msgIDs []string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(msgIDs))
	for _, id := range msgIDs {
		want[id] = struct{}{}
	}

	c.mu.Lock()
	records := make([]*kgo.Record, 0, len(msgIDs))
	for _, d := range c.pending {
		if _, ok := want[d.id]; ok {
			records = append(records, d.record)
		}
	}
	c.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		return errors.Wrap(err, "commit records")
	}

	c.mu.Lock()
	kept := c.pending[:0]
	for _, d := range c.pending {
		if _, ok := want[d.id]; !ok {
			kept = append(kept, d)
		}
	}
	c.pending = kept
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Pending(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.pending)), nil
}

// Lag sums, over all partitions, the distance between the log end and the
// group's committed offset (or the log start when nothing is committed).
func (c *Consumer) Lag(ctx context.Context) (int64, error) {
	ends, err := c.admin.ListEndOffsets(ctx, c.topic.Name)
	if err != nil {
		return 0, errors.Wrap(err, "list end offsets")
	}
	starts, err := c.admin.ListStartOffsets(ctx, c.topic.Name)
	if err != nil {
		return 0, errors.Wrap(err, "list start offsets")
	}
	committed, err := c.admin.FetchOffsets(ctx, c.group)
	if err != nil {
		return 0, errors.Wrap(err, "fetch group offsets")
	}

	var lag int64
	ends.Each(func(end kadm.ListedOffset) {
		if end.Err != nil {
			return
		}
		from := int64(0)
		if s, ok := starts.Lookup(end.Topic, end.Partition); ok && s.Err == nil {
			from = s.Offset
		}
		if o, ok := committed.Lookup(end.Topic, end.Partition); ok && o.Err == nil && o.At > from {
			from = o.At
		}
		if end.Offset > from {
			lag += end.Offset - from
		}
	})
	return lag, nil
}
