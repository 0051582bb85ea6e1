package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventstream/internal/stream"
)

// Worker drives the Processor in a loop until GracefulStop. Shutdown is only
// observed between iterations: a batch that has been fetched is always
// persisted and acknowledged first, so the stop latency is bounded by one
// blocking read plus one persist and ack.
type Worker struct {
	consumer  stream.Consumer
	processor *Processor
	sampler   *Sampler
	backoff   time.Duration

	start    sync.Once
	stop     sync.Once
	started  bool
	doneChan chan struct{}
	wg       *sync.WaitGroup
	logger   zerolog.Logger
}

func New(
	cfg Config,
	consumer stream.Consumer,
	processor *Processor,
	sampler *Sampler,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		consumer:  consumer,
		processor: processor,
		sampler:   sampler,
		backoff:   cfg.withDefaults().FailureBackoff,
		doneChan:  make(chan struct{}),
		wg:        &sync.WaitGroup{},
		logger:    logger.With().Str("component", "worker").Logger(),
	}
}

// Start ensures the consumer group exists and launches the loop and the
// metrics sampler. The loop runs on a context detached from ctx so in-flight
// work is never cut short; use GracefulStop to end it.
func (w *Worker) Start(ctx context.Context) error {
	var err error
	w.start.Do(func() {
		if err = w.consumer.EnsureGroup(ctx); err != nil {
			err = errors.Wrap(err, "ensure group")
			return
		}
		w.started = true

		loopCtx := context.WithoutCancel(ctx)
		w.wg.Add(1)
		go w.work(loopCtx)

		if w.sampler != nil {
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.sampler.Run(loopCtx, w.doneChan)
			}()
		}
		w.logger.Info().Msg("worker started")
	})
	return err
}

func (w *Worker) GracefulStop() {
	w.stop.Do(func() {
		close(w.doneChan)
		w.wg.Wait()
		if w.started {
			w.logger.Info().Msg("worker stopped")
		}
	})
}

// Run starts the worker and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.GracefulStop()
	return nil
}

func (w *Worker) work(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.doneChan:
			return
		default:
		}

		outcome, err := w.processor.ProcessOnce(ctx)
		if outcome != Failed {
			continue
		}

		w.logger.Error().Err(err).Dur("backoff", w.backoff).Msg("batch processing failed")
		timer := time.NewTimer(w.backoff)
		select {
		case <-w.doneChan:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
