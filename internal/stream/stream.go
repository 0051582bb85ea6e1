package stream

import (
	"context"
	"time"

	"github.com/leshachaplin/eventstream/internal/domain"
)

// ConsumedEvent pairs a decoded event with the stream id it was delivered under.
// It lives for one processing cycle only.
type ConsumedEvent struct {
	MsgID string
	Event domain.Event
}

// MsgIDs returns the stream ids of the batch in delivery order.
func MsgIDs(batch []ConsumedEvent) []string {
	ids := make([]string, 0, len(batch))
	for _, ce := range batch {
		ids = append(ids, ce.MsgID)
	}
	return ids
}

// Events returns the decoded events of the batch in delivery order.
func Events(batch []ConsumedEvent) []domain.Event {
	events := make([]domain.Event, 0, len(batch))
	for _, ce := range batch {
		events = append(events, ce.Event)
	}
	return events
}

type Producer interface {
	Publish(ctx context.Context, event domain.Event) error
	// PublishBatch appends all events in one round trip, preserving their order.
	PublishBatch(ctx context.Context, events []domain.Event) error
}

type Consumer interface {
	// EnsureGroup creates the stream and the consumer group if they are absent.
	// It must run before the first ReadBatch.
	EnsureGroup(ctx context.Context) error
	// ReadBatch returns up to count messages for this consumer. Entries that were
	// delivered before but never acknowledged come first. An empty batch after
	// block has elapsed is not an error.
	ReadBatch(ctx context.Context, count int, block time.Duration) ([]ConsumedEvent, error)
	// Ack removes ids from the pending entries list. An empty list is a no-op.
	Ack(ctx context.Context, msgIDs []string) error
	// Pending reports the number of delivered but unacknowledged entries.
	Pending(ctx context.Context) (int64, error)
	// Lag reports how many entries the group has not consumed yet.
	Lag(ctx context.Context) (int64, error)
}

const (
	DriverRedpanda = "redpanda"
	DriverMemory   = "memory"
)

type Config struct {
	Driver string `mapstructure:"driver"`
	// MemoryMaxLen caps the in-process stream used by the memory driver.
	MemoryMaxLen int `mapstructure:"memory_max_len"`
}
