package stream

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/leshachaplin/eventstream/internal/domain"
)

// TimestampLayout is how instants travel on the wire: microsecond precision
// with an explicit UTC offset.
const TimestampLayout = "2006-01-02T15:04:05.999999-07:00"

// ContentType is attached to every stream record.
const ContentType = "application/msgpack"

type wireEvent struct {
	EventID    string            `json:"event_id"`
	ProjectID  string            `json:"project_id"`
	UserID     *string           `json:"user_id"`
	SessionID  *string           `json:"session_id"`
	EventType  string            `json:"event_type"`
	Timestamp  string            `json:"timestamp"`
	Properties domain.Properties `json:"properties"`
	CreatedAt  string            `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func Encode(e domain.Event) ([]byte, error) {
	w := wireEvent{
		EventID:    e.EventID.String(),
		ProjectID:  e.ProjectID.String(),
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		EventType:  string(e.EventType),
		Timestamp:  formatTime(e.Timestamp),
		Properties: e.Properties,
		CreatedAt:  formatTime(e.CreatedAt),
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(&w); err != nil {
		return nil, errors.Wrap(err, "msgpack encode event")
	}
	return buf.Bytes(), nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// Decode is the inverse of Encode. Every failure wraps domain.ErrMalformedPayload.
func Decode(data []byte) (domain.Event, error) {
	var w wireEvent
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&w); err != nil {
		return domain.Event{}, malformed("msgpack: %v", err)
	}

	eventID, err := uuid.Parse(w.EventID)
	if err != nil {
		return domain.Event{}, malformed("event_id %q", w.EventID)
	}
	projectID, err := uuid.Parse(w.ProjectID)
	if err != nil {
		return domain.Event{}, malformed("project_id %q", w.ProjectID)
	}
	eventType, ok := domain.ParseEventType(w.EventType)
	if !ok {
		return domain.Event{}, malformed("event_type %q", w.EventType)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return domain.Event{}, malformed("timestamp %q", w.Timestamp)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		return domain.Event{}, malformed("created_at %q", w.CreatedAt)
	}

	return domain.Event{
		EventID:    eventID,
		ProjectID:  projectID,
		UserID:     w.UserID,
		SessionID:  w.SessionID,
		EventType:  eventType,
		Timestamp:  ts.UTC(),
		Properties: w.Properties,
		CreatedAt:  createdAt.UTC(),
	}, nil
}
