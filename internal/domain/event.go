package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	PageView       EventType = "page_view"
	ProductView    EventType = "product_view"
	AddToCart      EventType = "add_to_cart"
	RemoveFromCart EventType = "remove_from_cart"
	Purchase       EventType = "purchase"
)

var eventTypes = map[EventType]struct{}{
	PageView:       {},
	ProductView:    {},
	AddToCart:      {},
	RemoveFromCart: {},
	Purchase:       {},
}

// ParseEventType accepts both the wire form ("add_to_cart") and the upper-case
// variant name ("ADD_TO_CART").
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := eventTypes[t]
	return t, ok
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

type Properties struct {
	PageURL       *string `json:"page_url,omitempty"`
	ProductID     *string `json:"product_id,omitempty"`
	ProductName   *string `json:"product_name,omitempty"`
	Category      *string `json:"category,omitempty"`
	Price         *int64  `json:"price,omitempty"`
	Quantity      *int    `json:"quantity,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	Country       *string `json:"country,omitempty"`
	Browser       *string `json:"browser,omitempty"`
	OS            *string `json:"os,omitempty"`
	DeviceType    *string `json:"device_type,omitempty"`
	Source        *string `json:"source,omitempty"`
	ButtonClicked *string `json:"button_clicked,omitempty"`
}

// PriceFromDecimal converts an amount in major currency units into minor units.
func PriceFromDecimal(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type Event struct {
	EventID    uuid.UUID  `json:"event_id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	UserID     *string    `json:"user_id,omitempty"`
	SessionID  *string    `json:"session_id,omitempty"`
	EventType  EventType  `json:"event_type"`
	Timestamp  time.Time  `json:"timestamp"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at"`
}

func NewEvent(
	projectID uuid.UUID,
	userID, sessionID *string,
	eventType EventType,
	timestamp time.Time,
	properties Properties,
	now time.Time,
) Event {
	return Event{
		EventID:    uuid.New(),
		ProjectID:  projectID,
		UserID:     userID,
		SessionID:  sessionID,
		EventType:  eventType,
		Timestamp:  timestamp.UTC().Truncate(time.Microsecond),
		Properties: properties,
		CreatedAt:  now.UTC().Truncate(time.Microsecond),
	}
}
