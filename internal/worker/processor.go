package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/stream"
)

type EventStore interface {
	AddMany(ctx context.Context, events []domain.Event) (int64, error)
}

type Outcome int

const (
	// Empty means the blocking read returned nothing.
	Empty Outcome = iota
	// Acked means the batch was persisted and acknowledged.
	Acked
	// Failed means the batch stays pending and the caller should back off.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Empty:
		return "empty"
	case Acked:
		return "acked"
	default:
		return "failed"
	}
}

// Processor runs one fetch, persist, ack cycle. Messages are acknowledged only
// after the batch has been committed, so a crash in between leads to
// redelivery, which the idempotent insert absorbs.
type Processor struct {
	consumer stream.Consumer
	store    EventStore
	cfg      Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewProcessor(
	consumer stream.Consumer,
	store EventStore,
	cfg Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		consumer: consumer,
		store:    store,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		logger:   logger.With().Str("component", "batch_processor").Logger(),
	}
}

func (p *Processor) ProcessOnce(ctx context.Context) (Outcome, error) {
	batch, err := p.consumer.ReadBatch(ctx, p.cfg.BatchSize, p.cfg.BlockTimeout)
	if err != nil {
		p.metrics.ProcessingError("fetch")
		return Failed, errors.Wrap(err, "read batch")
	}
	if len(batch) == 0 {
		return Empty, nil
	}

	start := time.Now()
	ids := stream.MsgIDs(batch)

	inserted, err := p.store.AddMany(ctx, stream.Events(batch))
	if err != nil {
		p.metrics.ProcessingError("persist")
		return Failed, errors.Wrapf(err, "persist batch of %d", len(batch))
	}

	if err := p.consumer.Ack(ctx, ids); err != nil {
		// committed rows are safe; the entries stay pending and come back
		p.metrics.ProcessingError("ack")
		return Failed, errors.Wrapf(err, "ack batch of %d", len(batch))
	}

	p.metrics.EventsProcessed(len(batch))
	p.metrics.ObserveBatch(time.Since(start))
	p.logger.Debug().
		Int("batch_size", len(batch)).
		Int64("inserted", inserted).
		Int64("duplicates", int64(len(batch))-inserted).
		Str("first_msg_id", ids[0]).
		Msg("batch persisted")
	return Acked, nil
}
