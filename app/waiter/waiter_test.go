package waiter

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var ignoreSignalLoop = []goleak.Option{
	goleak.IgnoreTopFunction("os/signal.signal_recv"),
	goleak.IgnoreTopFunction("os/signal.loop"),
}

func TestWaiter_FirstErrorCancelsOthers(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSignalLoop...)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWaiter(ctx, cancel, WithSignals(syscall.SIGUSR1))

	boom := errors.New("boom")
	stopped := make(chan struct{})
	w.Add(
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		},
	)

	assert.ErrorIs(t, w.Wait(), boom)
	select {
	case <-stopped:
	default:
		t.Fatal("sibling was not cancelled")
	}
}

func TestWaiter_ParentCancel(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreSignalLoop...)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWaiter(ctx, cancel, WithSignals(syscall.SIGUSR1))
	w.Add(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	time.AfterFunc(10*time.Millisecond, cancel)
	require.NoError(t, w.Wait())
	assert.Error(t, w.Context().Err())
}
