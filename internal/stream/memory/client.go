package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/stream"
)

type Producer struct {
	stream *Stream
}

func NewProducer(s *Stream) *Producer {
	return &Producer{stream: s}
}

func (p *Producer) Publish(ctx context.Context, event domain.Event) error {
	return p.PublishBatch(ctx, []domain.Event{event})
}

func (p *Producer) PublishBatch(_ context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(events))
	for _, e := range events {
		b, err := stream.Encode(e)
		if err != nil {
			return err
		}
		payloads = append(payloads, b)
	}
	p.stream.Append(payloads...)
	return nil
}

type Consumer struct {
	stream *Stream
	group  string
	name   string
	dead   stream.DeadLetter
	logger zerolog.Logger

	mu      sync.Mutex
	dropped map[string]struct{}
}

func NewConsumer(s *Stream, group, name string, dead stream.DeadLetter, logger zerolog.Logger) *Consumer {
	return &Consumer{
		stream:  s,
		group:   group,
		name:    name,
		dead:    dead,
		logger:  logger.With().Str("component", "memory_consumer").Str("consumer", name).Logger(),
		dropped: make(map[string]struct{}),
	}
}

func (c *Consumer) EnsureGroup(_ context.Context) error {
	if c.stream.CreateGroup(c.group) {
		c.logger.Info().Str("group", c.group).Msg("consumer group created")
	}
	return nil
}

func (c *Consumer) isDropped(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dropped[id]
	return ok
}

func (c *Consumer) ReadBatch(ctx context.Context, count int, block time.Duration) ([]stream.ConsumedEvent, error) {
	msgs, err := c.stream.ReadPending(c.group, c.name, count, c.isDropped)
	if err != nil {
		return nil, errors.Wrap(err, "read pending")
	}
	if len(msgs) == 0 {
		msgs, err = c.stream.ReadNew(ctx, c.group, c.name, count, block)
		if err != nil {
			return nil, errors.Wrap(err, "read new")
		}
	}
	return c.decode(ctx, msgs), nil
}

func (c *Consumer) decode(ctx context.Context, msgs []Message) []stream.ConsumedEvent {
	batch := make([]stream.ConsumedEvent, 0, len(msgs))
	for _, m := range msgs {
		event, err := stream.Decode(m.Data)
		if err != nil {
			c.mu.Lock()
			c.dropped[m.ID] = struct{}{}
			c.mu.Unlock()

			if dlErr := c.dead.Send(ctx, stream.DeadLetterRecord{MsgID: m.ID, Payload: m.Data, Reason: err}); dlErr != nil {
				c.logger.Error().Err(dlErr).Str("msg_id", m.ID).Msg("dead letter send failed")
			}
			continue
		}
		batch = append(batch, stream.ConsumedEvent{MsgID: m.ID, Event: event})
	}
	return batch
}

func (c *Consumer) Ack(_ context.Context, msgIDs []string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	_, err := c.stream.Ack(c.group, msgIDs...)
	return err
}

func (c *Consumer) Pending(_ context.Context) (int64, error) {
	return c.stream.PendingCount(c.group)
}

func (c *Consumer) Lag(_ context.Context) (int64, error) {
	return c.stream.Lag(c.group)
}
