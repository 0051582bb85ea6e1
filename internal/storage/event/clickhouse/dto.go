package clickhouse

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/leshachaplin/eventstream/internal/domain"
)

type event struct {
	EventID    uuid.UUID `ch:"event_id"`
	ProjectID  uuid.UUID `ch:"project_id"`
	UserID     *string   `ch:"user_id"`
	SessionID  *string   `ch:"session_id"`
	EventType  string    `ch:"event_type"`
	Timestamp  time.Time `ch:"timestamp"`
	Properties string    `ch:"properties"`
	CreatedAt  time.Time `ch:"created_at"`
}

func eventsFromDomain(events []domain.Event) ([]event, error) {
	rows := make([]event, len(events))
	for i, e := range events {
		props, err := json.Marshal(e.Properties)
		if err != nil {
			return nil, errors.Wrap(err, "marshal properties")
		}
		rows[i] = event{
			EventID:    e.EventID,
			ProjectID:  e.ProjectID,
			UserID:     e.UserID,
			SessionID:  e.SessionID,
			EventType:  string(e.EventType),
			Timestamp:  e.Timestamp.UTC(),
			Properties: string(props),
			CreatedAt:  e.CreatedAt.UTC(),
		}
	}
	return rows, nil
}

func (e event) toDomain() (domain.Event, error) {
	var props domain.Properties
	if err := json.Unmarshal([]byte(e.Properties), &props); err != nil {
		return domain.Event{}, errors.Wrap(err, "unmarshal properties")
	}
	return domain.Event{
		EventID:    e.EventID,
		ProjectID:  e.ProjectID,
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		EventType:  domain.EventType(e.EventType),
		Timestamp:  e.Timestamp.UTC(),
		Properties: props,
		CreatedAt:  e.CreatedAt.UTC(),
	}, nil
}
