package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/leshachaplin/eventstream/internal/domain"
)

const insertEvent = `
	INSERT INTO events (event_id, project_id, user_id, session_id, event_type, timestamp, properties, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (event_id) DO NOTHING`

type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Add(ctx context.Context, e domain.Event) error {
	_, err := s.AddMany(ctx, []domain.Event{e})
	return err
}

// AddMany inserts the whole batch in one transaction. Events whose id is
// already stored are skipped, so redelivered batches are harmless. It returns
// the number of rows actually inserted.
func (s *EventStore) AddMany(ctx context.Context, events []domain.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var inserted int64
	err := pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range events {
			batch.Queue(insertEvent,
				e.EventID, e.ProjectID, e.UserID, e.SessionID, string(e.EventType),
				e.Timestamp, e.Properties, e.CreatedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range events {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return err
			}
			inserted += tag.RowsAffected()
		}
		return results.Close()
	})
	if err != nil {
		return 0, errors.Wrap(err, "insert events")
	}
	return inserted, nil
}

func (s *EventStore) GetByID(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	var (
		e         domain.Event
		eventType string
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT event_id, project_id, user_id, session_id, event_type, timestamp, properties, created_at
		FROM events
		WHERE event_id = $1`, eventID,
	).Scan(&e.EventID, &e.ProjectID, &e.UserID, &e.SessionID, &eventType, &e.Timestamp, &e.Properties, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, errors.Wrap(err, "select event")
	}

	e.EventType = domain.EventType(eventType)
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *EventStore) CountByID(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var n int64
	if err := s.db.Pool.QueryRow(ctx, "SELECT count(*) FROM events WHERE event_id = $1", eventID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count events")
	}
	return n, nil
}
