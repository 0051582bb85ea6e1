package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/metrics"
	"github.com/leshachaplin/eventstream/internal/stream"
	"github.com/leshachaplin/eventstream/internal/stream/memory"
)

const group = "event-processors"

var errStoreDown = errors.New("store down")

// memoryStore mimics INSERT ... ON CONFLICT DO NOTHING. When failAfterCommit
// is set, the next AddMany keeps the rows and still reports an error.
type memoryStore struct {
	mu              sync.Mutex
	rows            map[uuid.UUID]domain.Event
	calls           int
	failBefore      int
	failAfterCommit int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[uuid.UUID]domain.Event)}
}

func (s *memoryStore) AddMany(_ context.Context, events []domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.failBefore > 0 {
		s.failBefore--
		return 0, errStoreDown
	}

	var inserted int64
	for _, e := range events {
		if _, ok := s.rows[e.EventID]; ok {
			continue
		}
		s.rows[e.EventID] = e
		inserted++
	}

	if s.failAfterCommit > 0 {
		s.failAfterCommit--
		return 0, errStoreDown
	}
	return inserted, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type nopDeadLetter struct{}

func (nopDeadLetter) Send(context.Context, stream.DeadLetterRecord) error { return nil }

// flakyAckConsumer fails the first n acks.
type flakyAckConsumer struct {
	stream.Consumer
	failAcks int
}

func (c *flakyAckConsumer) Ack(ctx context.Context, ids []string) error {
	if c.failAcks > 0 {
		c.failAcks--
		return errors.New("connection reset")
	}
	return c.Consumer.Ack(ctx, ids)
}

func pageView(projectID uuid.UUID) domain.Event {
	url := "https://shop.example/"
	now := time.Now()
	return domain.NewEvent(projectID, nil, nil, domain.PageView, now, domain.Properties{PageURL: &url}, now)
}

func setup(t *testing.T, dl stream.DeadLetter) (*memory.Stream, *memory.Consumer) {
	t.Helper()
	if dl == nil {
		dl = nopDeadLetter{}
	}
	s := memory.New(0)
	c := memory.NewConsumer(s, group, "worker-1", dl, zerolog.Nop())
	require.NoError(t, c.EnsureGroup(context.Background()))
	return s, c
}

var testCfg = Config{BatchSize: 100, BlockTimeout: 10 * time.Millisecond, FailureBackoff: 10 * time.Millisecond}

func TestProcessor_PersistsAndAcks(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	p := NewProcessor(c, store, testCfg, metrics.New(), zerolog.Nop())

	outcome, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Empty, outcome)

	e := pageView(uuid.New())
	require.NoError(t, memory.NewProducer(s).Publish(ctx, e))

	outcome, err = p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, 1, store.count())

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestProcessor_RedeliveredPayloadPersistsOnce(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	p := NewProcessor(c, store, testCfg, nil, zerolog.Nop())

	payload, err := stream.Encode(pageView(uuid.New()))
	require.NoError(t, err)
	for k := 0; k < 3; k++ {
		s.Append(payload)
	}

	for k := 0; k < 3; k++ {
		outcome, err := p.ProcessOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Acked, outcome)
	}
	assert.Equal(t, 1, store.count())
}

func TestProcessor_PersistFailureLeavesBatchPending(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	store.failBefore = 1
	p := NewProcessor(c, store, testCfg, metrics.New(), zerolog.Nop())

	require.NoError(t, memory.NewProducer(s).PublishBatch(ctx, []domain.Event{pageView(uuid.New()), pageView(uuid.New())}))

	outcome, err := p.ProcessOnce(ctx)
	assert.Equal(t, Failed, outcome)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Zero(t, store.count())

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)

	outcome, err = p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, 2, store.count())
}

func TestProcessor_FailureBeforeAckIsReprocessedWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	store.failAfterCommit = 1
	p := NewProcessor(c, store, testCfg, nil, zerolog.Nop())

	events := []domain.Event{pageView(uuid.New()), pageView(uuid.New()), pageView(uuid.New())}
	require.NoError(t, memory.NewProducer(s).PublishBatch(ctx, events))

	outcome, _ := p.ProcessOnce(ctx)
	require.Equal(t, Failed, outcome)
	assert.Equal(t, 3, store.count())

	outcome, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, 3, store.count())
	assert.Equal(t, 2, s.Deliveries(group, "1-0"))
}

func TestProcessor_AckFailureRedelivers(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	flaky := &flakyAckConsumer{Consumer: c, failAcks: 1}
	p := NewProcessor(flaky, store, testCfg, nil, zerolog.Nop())

	require.NoError(t, memory.NewProducer(s).Publish(ctx, pageView(uuid.New())))

	outcome, err := p.ProcessOnce(ctx)
	assert.Equal(t, Failed, outcome)
	assert.Error(t, err)

	outcome, err = p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 2, store.calls)
}

func TestWorker_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	m := metrics.New()

	w := New(testCfg, c, NewProcessor(c, store, testCfg, m, zerolog.Nop()),
		NewSampler(c, m, 5*time.Millisecond, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))

	producer := memory.NewProducer(s)
	for k := 0; k < 50; k++ {
		require.NoError(t, producer.Publish(ctx, pageView(uuid.New())))
	}

	require.Eventually(t, func() bool { return store.count() == 50 }, 5*time.Second, 5*time.Millisecond)

	w.GracefulStop()
	w.GracefulStop()

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestWorker_StopInterruptsBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	s, c := setup(t, nil)
	store := newMemoryStore()
	store.failBefore = 1_000_000
	cfg := Config{BlockTimeout: 10 * time.Millisecond, FailureBackoff: time.Hour}

	require.NoError(t, memory.NewProducer(s).Publish(ctx, pageView(uuid.New())))

	w := New(cfg, c, NewProcessor(c, store, cfg, nil, zerolog.Nop()), nil, zerolog.Nop())
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls > 0
	}, 5*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop during backoff")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, c := setup(t, nil)
	w := New(testCfg, c, NewProcessor(c, newMemoryStore(), testCfg, nil, zerolog.Nop()), nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestCountDeadLetters(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	s, c := setup(t, CountDeadLetters(nopDeadLetter{}, m))
	store := newMemoryStore()
	p := NewProcessor(c, store, testCfg, m, zerolog.Nop())

	good, err := stream.Encode(pageView(uuid.New()))
	require.NoError(t, err)
	s.Append([]byte{0xc1}, good)

	outcome, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Acked, outcome)
	assert.Equal(t, 1, store.count())

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var dropped float64
	for _, f := range families {
		if f.GetName() == "eventstream_worker_dead_letters_total" {
			dropped = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, dropped)
}
