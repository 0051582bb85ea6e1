package service

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/leshachaplin/eventstream/internal/domain"
)

const MaxBatchSize = 500

type PropertiesRequest struct {
	PageURL       *string  `json:"page_url" validate:"omitempty,url"`
	ProductID     *string  `json:"product_id" validate:"omitempty,min=1,max=100"`
	ProductName   *string  `json:"product_name" validate:"omitempty,max=500"`
	Category      *string  `json:"category" validate:"omitempty,max=200"`
	Price         *float64 `json:"price" validate:"omitempty,gt=0,lte=1000000"`
	Quantity      *int     `json:"quantity" validate:"omitempty,min=1,max=10000"`
	Currency      *string  `json:"currency" validate:"omitempty,len=3,alpha,uppercase"`
	Country       *string  `json:"country" validate:"omitempty,len=2,alpha,uppercase"`
	Browser       *string  `json:"browser" validate:"omitempty,max=100"`
	OS            *string  `json:"os" validate:"omitempty,max=100"`
	DeviceType    *string  `json:"device_type" validate:"omitempty,oneof=mobile desktop tablet"`
	Source        *string  `json:"source" validate:"omitempty,max=100"`
	ButtonClicked *string  `json:"button_clicked" validate:"omitempty,max=100"`
}

func (p PropertiesRequest) toDomain() domain.Properties {
	props := domain.Properties{
		PageURL:       p.PageURL,
		ProductID:     p.ProductID,
		ProductName:   p.ProductName,
		Category:      p.Category,
		Quantity:      p.Quantity,
		Currency:      p.Currency,
		Country:       p.Country,
		Browser:       p.Browser,
		OS:            p.OS,
		DeviceType:    p.DeviceType,
		Source:        p.Source,
		ButtonClicked: p.ButtonClicked,
	}
	if p.Price != nil {
		price := domain.PriceFromDecimal(*p.Price)
		props.Price = &price
	}
	return props
}

type IngestEventRequest struct {
	UserID     *string            `json:"user_id"`
	SessionID  *string            `json:"session_id"`
	EventType  string             `json:"event_type" validate:"required"`
	Timestamp  *Timestamp         `json:"timestamp" validate:"required"`
	Properties *PropertiesRequest `json:"properties" validate:"required"`
}

// RawEvent is one undecoded item of a batch. Items are decoded and validated
// one by one so a bad item only drops itself.
type RawEvent = json.RawMessage

type IngestBatchRequest struct {
	Events []RawEvent `json:"events"`
}

type CreateProjectRequest struct {
	Name string `json:"name" validate:"required,min=3,max=100"`
	Plan string `json:"plan"`
}

// Timestamp accepts RFC 3339 and, like most client SDKs send it, a zone-less
// ISO 8601 time which is taken as UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

type EventAccepted struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

type BatchAccepted struct {
	Status   string   `json:"status"`
	EventIDs []string `json:"event_ids"`
}

type ProjectResponse struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewProjectResponse(p domain.Project, withKey bool) ProjectResponse {
	resp := ProjectResponse{
		ProjectID: p.ProjectID.String(),
		Name:      p.Name,
		Plan:      p.Plan.String(),
		CreatedAt: p.CreatedAt,
	}
	if withKey {
		resp.APIKey = p.APIKey
	}
	return resp
}
