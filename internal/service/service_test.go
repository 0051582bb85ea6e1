package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/domain"
	"github.com/leshachaplin/eventstream/internal/stream"
	"github.com/leshachaplin/eventstream/internal/stream/memory"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type projectStoreMock struct {
	mock.Mock
}

func (m *projectStoreMock) Add(ctx context.Context, p domain.Project) error {
	return m.Called(ctx, p).Error(0)
}

func (m *projectStoreMock) GetByID(ctx context.Context, id uuid.UUID) (domain.Project, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Project), args.Error(1)
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, domain.Event) error {
	return errors.New("broker unavailable")
}

func (failingProducer) PublishBatch(context.Context, []domain.Event) error {
	return errors.New("broker unavailable")
}

func newService(t *testing.T, producer stream.Producer, store ProjectStore) *Service {
	t.Helper()
	s := New("test", producer, store, nil, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func readAll(t *testing.T, s *memory.Stream) []domain.Event {
	t.Helper()
	ctx := context.Background()
	c := memory.NewConsumer(s, "readers", "reader", stream.NewLogDeadLetter(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, c.EnsureGroup(ctx))
	batch, err := c.ReadBatch(ctx, 1000, time.Millisecond)
	require.NoError(t, err)
	return stream.Events(batch)
}

func strPtr(s string) *string { return &s }

func validRequest() IngestEventRequest {
	return IngestEventRequest{
		EventType:  "page_view",
		Timestamp:  &Timestamp{Time: now.Add(-time.Minute)},
		Properties: &PropertiesRequest{PageURL: strPtr("https://shop.example/")},
	}
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var apiErr apierror.Error
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	require.Equal(t, apierror.CodeValidation, apiErr.Code)
	fields, ok := apiErr.Details["errors"].([]domain.FieldError)
	require.True(t, ok)
	names := make([]string, 0, len(fields))
	for _, fe := range fields {
		names = append(names, fe.Field)
	}
	assert.Contains(t, names, field)
}

func TestIngestEvent(t *testing.T) {
	s := memory.New(0)
	svc := newService(t, memory.NewProducer(s), nil)
	identity := domain.Identity{ProjectID: uuid.New(), Plan: domain.PlanFree}

	id, err := svc.IngestEvent(context.Background(), identity, validRequest())
	require.NoError(t, err)

	events := readAll(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].EventID)
	assert.Equal(t, identity.ProjectID, events[0].ProjectID)
	assert.Equal(t, domain.PageView, events[0].EventType)
	assert.True(t, events[0].CreatedAt.Equal(now))
}

func TestIngestEvent_Validation(t *testing.T) {
	cases := map[string]struct {
		mutate func(*IngestEventRequest)
		field  string
	}{
		"unknown event type": {
			mutate: func(r *IngestEventRequest) { r.EventType = "checkout" },
			field:  "event_type",
		},
		"missing timestamp": {
			mutate: func(r *IngestEventRequest) { r.Timestamp = nil },
			field:  "timestamp",
		},
		"future timestamp": {
			mutate: func(r *IngestEventRequest) { r.Timestamp = &Timestamp{Time: now.Add(6 * time.Minute)} },
			field:  "timestamp",
		},
		"stale timestamp": {
			mutate: func(r *IngestEventRequest) { r.Timestamp = &Timestamp{Time: now.Add(-31 * 24 * time.Hour)} },
			field:  "timestamp",
		},
		"purchase without price": {
			mutate: func(r *IngestEventRequest) {
				r.EventType = "PURCHASE"
				r.Properties = &PropertiesRequest{ProductID: strPtr("sku-1"), Quantity: new(int)}
				*r.Properties.Quantity = 1
			},
			field: "properties.price",
		},
		"bad currency": {
			mutate: func(r *IngestEventRequest) { r.Properties.Currency = strPtr("usd") },
			field:  "properties.currency",
		},
		"bad device type": {
			mutate: func(r *IngestEventRequest) { r.Properties.DeviceType = strPtr("watch") },
			field:  "properties.device_type",
		},
		"product view without product": {
			mutate: func(r *IngestEventRequest) { r.EventType = "product_view" },
			field:  "properties.product_id",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := memory.New(0)
			svc := newService(t, memory.NewProducer(s), nil)
			req := validRequest()
			tc.mutate(&req)

			_, err := svc.IngestEvent(context.Background(), domain.Identity{ProjectID: uuid.New()}, req)
			requireValidation(t, err, tc.field)
			assert.Zero(t, s.Len())
		})
	}
}

func TestIngestEvent_PurchasePriceInMinorUnits(t *testing.T) {
	s := memory.New(0)
	svc := newService(t, memory.NewProducer(s), nil)

	price, qty := 19.99, 2
	req := validRequest()
	req.EventType = "purchase"
	req.Properties = &PropertiesRequest{ProductID: strPtr("sku-1"), Price: &price, Quantity: &qty, Currency: strPtr("EUR")}

	_, err := svc.IngestEvent(context.Background(), domain.Identity{ProjectID: uuid.New()}, req)
	require.NoError(t, err)

	events := readAll(t, s)
	require.Len(t, events, 1)
	assert.EqualValues(t, 1999, *events[0].Properties.Price)
}

func TestIngestEvent_PublishFailureIsUnexpected(t *testing.T) {
	svc := newService(t, failingProducer{}, nil)

	_, err := svc.IngestEvent(context.Background(), domain.Identity{ProjectID: uuid.New()}, validRequest())
	var apiErr apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.CodeUnexpected, apiErr.Code)
	assert.Contains(t, apiErr.Debug, "broker unavailable")
}

func rawItem(t *testing.T, eventType string) RawEvent {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"event_type": eventType,
		"timestamp":  now.Add(-time.Minute).Format(time.RFC3339),
		"properties": map[string]interface{}{"page_url": "https://shop.example/"},
	})
	require.NoError(t, err)
	return b
}

func TestIngestBatch_DropsInvalidItems(t *testing.T) {
	s := memory.New(0)
	svc := newService(t, memory.NewProducer(s), nil)

	items := []RawEvent{
		rawItem(t, "page_view"),
		rawItem(t, "not_a_type"),
		rawItem(t, "PAGE_VIEW"),
		rawItem(t, "bogus"),
		rawItem(t, "page_view"),
	}
	ids, err := svc.IngestBatch(context.Background(), domain.Identity{ProjectID: uuid.New()}, items)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	events := readAll(t, s)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, ids[i], e.EventID)
	}
}

func TestIngestBatch_Bounds(t *testing.T) {
	svc := newService(t, memory.NewProducer(memory.New(0)), nil)
	identity := domain.Identity{ProjectID: uuid.New()}

	_, err := svc.IngestBatch(context.Background(), identity, nil)
	requireValidation(t, err, "events")

	tooMany := make([]RawEvent, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = rawItem(t, "page_view")
	}
	_, err = svc.IngestBatch(context.Background(), identity, tooMany)
	requireValidation(t, err, "events")
}

func TestIngestBatch_NoValidItems(t *testing.T) {
	svc := newService(t, failingProducer{}, nil)

	ids, err := svc.IngestBatch(context.Background(), domain.Identity{ProjectID: uuid.New()},
		[]RawEvent{RawEvent(`"nope"`), rawItem(t, "bogus")})
	require.NoError(t, err)
	require.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestTimestamp_AcceptsNaiveAsUTC(t *testing.T) {
	cases := map[string]time.Time{
		`"2026-03-01T11:59:00Z"`:       time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		`"2026-03-01T13:59:00+02:00"`:  time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		`"2026-03-01T11:59:00.123456"`: time.Date(2026, 3, 1, 11, 59, 0, 123456000, time.UTC),
		`"2026-03-01 11:59:00"`:        time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(raw), &ts), raw)
		assert.True(t, want.Equal(ts.Time), fmt.Sprintf("%s: got %s", raw, ts.Time))
	}

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestCreateProject(t *testing.T) {
	store := &projectStoreMock{}
	store.On("Add", mock.Anything, mock.MatchedBy(func(p domain.Project) bool {
		return p.Name == "shop" && p.Plan == domain.PlanPro && domain.ValidAPIKeyFormat(p.APIKey, "test")
	})).Return(nil).Once()

	svc := newService(t, nil, store)
	p, err := svc.CreateProject(context.Background(), CreateProjectRequest{Name: "  shop ", Plan: "PRO"})
	require.NoError(t, err)
	assert.Equal(t, "shop", p.Name)
	assert.True(t, p.CreatedAt.Equal(now))
	store.AssertExpectations(t)
}

func TestCreateProject_DefaultsToFree(t *testing.T) {
	store := &projectStoreMock{}
	store.On("Add", mock.Anything, mock.Anything).Return(nil).Once()

	p, err := newService(t, nil, store).CreateProject(context.Background(), CreateProjectRequest{Name: "shop"})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, p.Plan)
}

func TestCreateProject_Validation(t *testing.T) {
	svc := newService(t, nil, &projectStoreMock{})

	_, err := svc.CreateProject(context.Background(), CreateProjectRequest{Name: "ab"})
	requireValidation(t, err, "name")

	_, err = svc.CreateProject(context.Background(), CreateProjectRequest{Name: "shop", Plan: "platinum"})
	requireValidation(t, err, "plan")
}

func TestGetProject(t *testing.T) {
	known := domain.Project{ProjectID: uuid.New(), Name: "shop", Plan: domain.PlanFree}
	missing := uuid.New()

	store := &projectStoreMock{}
	store.On("GetByID", mock.Anything, known.ProjectID).Return(known, nil)
	store.On("GetByID", mock.Anything, missing).Return(domain.Project{}, domain.ErrNotFound)

	svc := newService(t, nil, store)

	p, err := svc.GetProject(context.Background(), known.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, known, p)

	_, err = svc.GetProject(context.Background(), missing)
	var apiErr apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.CodeNotFound, apiErr.Code)
}
