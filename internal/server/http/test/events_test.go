//go:build integration

package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/leshachaplin/eventstream/internal/storage/postgres"
)

func (i *IntegrationTestSuite) client() *Client {
	return NewClient(i.baseURL(), &http.Client{Timeout: 30 * time.Second})
}

func (i *IntegrationTestSuite) newProject(ctx context.Context) projectResp {
	p, err := i.client().CreateProject(ctx, secretToken, projectReq{Name: "shop-" + strconv.Itoa(i.Rand.Int())})
	i.Require().NoError(err)
	i.Require().NotEmpty(p.APIKey)
	return p
}

func pageView(n int) eventReq {
	return eventReq{
		UserID:     "user-" + strconv.Itoa(n),
		SessionID:  uuid.NewString(),
		EventType:  "page_view",
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Properties: eventProps{PageURL: "https://shop.example.com/p/" + strconv.Itoa(n)},
	}
}

func (i *IntegrationTestSuite) awaitPersisted(ctx context.Context, ids ...string) {
	store := postgres.NewEventStore(i.db)
	for _, id := range ids {
		eventID, err := uuid.Parse(id)
		i.Require().NoError(err)
		i.Require().Eventually(func() bool {
			n, err := store.CountByID(ctx, eventID)
			return err == nil && n == 1
		}, 30*time.Second, 200*time.Millisecond, "event %s not persisted", id)
	}
}

func (i *IntegrationTestSuite) TestEvent_IngestAndPersist() {
	ctx, cancel := context.WithTimeout(i.ctx, time.Minute)
	defer cancel()

	p := i.newProject(ctx)
	resp, err := i.client().SendEvent(ctx, p.APIKey, pageView(1))
	i.Require().NoError(err)
	i.Equal("accepted", resp.Status)

	i.awaitPersisted(ctx, resp.EventID)

	got, err := postgres.NewEventStore(i.db).GetByID(ctx, uuid.MustParse(resp.EventID))
	i.Require().NoError(err)
	i.Equal(p.ProjectID, got.ProjectID.String())
}

func (i *IntegrationTestSuite) TestEvent_BatchPartialAcceptance() {
	ctx, cancel := context.WithTimeout(i.ctx, time.Minute)
	defer cancel()

	p := i.newProject(ctx)
	items := []any{
		pageView(1),
		map[string]any{"event_type": "teleport", "timestamp": time.Now().UTC().Format(time.RFC3339), "properties": map[string]any{}},
		pageView(2),
		map[string]any{"event_type": "purchase", "timestamp": time.Now().UTC().Format(time.RFC3339), "properties": map[string]any{}},
		pageView(3),
	}

	resp, err := i.client().SendEvents(ctx, p.APIKey, items)
	i.Require().NoError(err)
	i.Len(resp.EventIDs, 3)

	i.awaitPersisted(ctx, resp.EventIDs...)
}

func (i *IntegrationTestSuite) TestEvent_Unauthorized() {
	ctx, cancel := context.WithTimeout(i.ctx, 10*time.Second)
	defer cancel()

	_, err := i.client().SendEvent(ctx, "not-a-key", pageView(1))
	var se statusError
	i.Require().ErrorAs(err, &se)
	i.Equal(http.StatusUnauthorized, se.code)
}

func (i *IntegrationTestSuite) TestEvent_Load() {
	ctx, cancel := context.WithTimeout(i.ctx, 2*time.Minute)
	defer cancel()

	p := i.newProject(ctx)
	const senders = 10

	results := make(chan []string, senders)
	for k := 0; k < senders; k++ {
		go func(k int) {
			batch := make([]any, 20)
			for j := range batch {
				batch[j] = pageView(k*100 + j)
			}
			resp, err := i.client().SendEvents(ctx, p.APIKey, batch)
			if err != nil {
				i.T().Log(err)
				results <- nil
				return
			}
			results <- resp.EventIDs
		}(k)
	}

	var ids []string
	for k := 0; k < senders; k++ {
		ids = append(ids, <-results...)
	}
	i.Require().Len(ids, senders*20)
	i.awaitPersisted(ctx, ids...)
}
