//go:build integration

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

type Client struct {
	url  string
	http HTTPClient
}

func NewClient(url string, httpClient HTTPClient) *Client {
	return &Client{
		url:  url,
		http: httpClient,
	}
}

type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out any, expected int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if res.StatusCode != expected {
		return statusError{code: res.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type projectReq struct {
	Name string `json:"name"`
	Plan string `json:"plan,omitempty"`
}

type projectResp struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Plan      string `json:"plan"`
	APIKey    string `json:"api_key"`
}

func (c *Client) CreateProject(ctx context.Context, token string, params projectReq) (projectResp, error) {
	var out projectResp
	err := c.do(ctx, http.MethodPost, "/v1/project", map[string]string{
		"Authorization": "Bearer " + token,
	}, params, &out, http.StatusOK)
	return out, err
}

type eventProps struct {
	PageURL   string   `json:"page_url,omitempty"`
	ProductID string   `json:"product_id,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Quantity  *int     `json:"quantity,omitempty"`
	Currency  string   `json:"currency,omitempty"`
}

type eventReq struct {
	UserID     string     `json:"user_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	EventType  string     `json:"event_type"`
	Timestamp  string     `json:"timestamp"`
	Properties eventProps `json:"properties"`
}

type eventResp struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

type batchResp struct {
	Status   string   `json:"status"`
	EventIDs []string `json:"event_ids"`
}

func (c *Client) SendEvent(ctx context.Context, apiKey string, params eventReq) (eventResp, error) {
	var out eventResp
	err := c.do(ctx, http.MethodPost, "/v1/event", map[string]string{
		"X-Api-Key": apiKey,
	}, params, &out, http.StatusAccepted)
	return out, err
}

func (c *Client) SendEvents(ctx context.Context, apiKey string, params []any) (batchResp, error) {
	var out batchResp
	err := c.do(ctx, http.MethodPost, "/v1/event/batch", map[string]string{
		"X-Api-Key": apiKey,
	}, map[string]any{"events": params}, &out, http.StatusAccepted)
	return out, err
}
