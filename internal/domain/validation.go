package domain

import (
	"fmt"
	"time"
)

const (
	MaxEventAge    = 30 * 24 * time.Hour
	MaxFutureSkew  = 5 * time.Minute
	PropProductID  = "product_id"
	PropPrice      = "price"
	PropQuantity   = "quantity"
	FieldTimestamp = "timestamp"
)

// requiredProperties is the single source of truth for per-type property
// requirements. Adding an event type is a change to this table only.
var requiredProperties = map[EventType][]string{
	PageView:       nil,
	ProductView:    {PropProductID},
	AddToCart:      {PropProductID},
	RemoveFromCart: {PropProductID},
	Purchase:       {PropProductID, PropPrice, PropQuantity},
}

var propertyPresent = map[string]func(Properties) bool{
	PropProductID: func(p Properties) bool { return p.ProductID != nil && *p.ProductID != "" },
	PropPrice:     func(p Properties) bool { return p.Price != nil },
	PropQuantity:  func(p Properties) bool { return p.Quantity != nil },
}

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

func RequiredProperties(t EventType) []string {
	return requiredProperties[t]
}

// CheckRequiredProperties reports every property the event type requires but
// the payload lacks.
func CheckRequiredProperties(t EventType, p Properties) []FieldError {
	var errs []FieldError
	for _, name := range requiredProperties[t] {
		if !propertyPresent[name](p) {
			errs = append(errs, FieldError{
				Field: "properties." + name,
				Msg:   fmt.Sprintf("required for %s", t),
			})
		}
	}
	return errs
}

// ValidateTimestamp enforces the accepted ingestion window [now-30d, now+5m].
func ValidateTimestamp(ts, now time.Time) *FieldError {
	switch {
	case ts.After(now.Add(MaxFutureSkew)):
		return &FieldError{Field: FieldTimestamp, Msg: "timestamp cannot be in the future"}
	case ts.Before(now.Add(-MaxEventAge)):
		return &FieldError{Field: FieldTimestamp, Msg: "timestamp is too old (max 30 days)"}
	}
	return nil
}
