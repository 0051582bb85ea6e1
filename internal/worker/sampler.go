package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/stream"
)

// Sampler periodically copies consumer group lag and pending counts into
// gauges. It only reads from the consumer.
type Sampler struct {
	consumer stream.Consumer
	metrics  *metrics.Metrics
	interval time.Duration
	logger   zerolog.Logger
}

func NewSampler(consumer stream.Consumer, m *metrics.Metrics, interval time.Duration, logger zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		consumer: consumer,
		metrics:  m,
		interval: interval,
		logger:   logger.With().Str("component", "metrics_sampler").Logger(),
	}
}

func (s *Sampler) Run(ctx context.Context, done <-chan struct{}) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Sample(ctx)
		}
	}
}

func (s *Sampler) Sample(ctx context.Context) {
	if lag, err := s.consumer.Lag(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("sample consumer lag")
	} else {
		s.metrics.SetConsumerLag(lag)
	}

	if pending, err := s.consumer.Pending(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("sample pending entries")
	} else {
		s.metrics.SetPendingEntries(pending)
	}
}

// countingDeadLetter counts drops before handing them to the wrapped sink.
type countingDeadLetter struct {
	next    stream.DeadLetter
	metrics *metrics.Metrics
}

func CountDeadLetters(next stream.DeadLetter, m *metrics.Metrics) stream.DeadLetter {
	return countingDeadLetter{next: next, metrics: m}
}

func (c countingDeadLetter) Send(ctx context.Context, rec stream.DeadLetterRecord) error {
	c.metrics.DeadLetter()
	return c.next.Send(ctx, rec)
}
