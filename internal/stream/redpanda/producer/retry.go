package producer

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 5
	}
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	return p
}

// IsTransient reports whether a produce failure is worth retrying: timeouts,
// connection drops and errors the broker marks as retriable.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, kgo.ErrRecordTimeout),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return kerr.IsRetriable(err)
}

// Retry runs op with jittered exponential backoff until it succeeds, fails
// with a non-transient error, ctx is done or the attempts are spent.
func Retry(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, op func() error) error {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Initial
	b.MaxInterval = policy.Max
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := op()
			if err != nil && !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.Attempts-1)), ctx),
		func(err error, next time.Duration) {
			logger.Warn().Err(err).Dur("retry_in", next).Msgf("Retry: %d.", attempt)
		},
	)
}
