package clickhouse

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/leshachaplin/eventstream/internal/domain"
)

func (c *Clickhouse) Add(ctx context.Context, e domain.Event) error {
	_, err := c.AddMany(ctx, []domain.Event{e})
	return err
}

// AddMany sends the batch as a single insert block, which ClickHouse applies
// atomically. The returned count is the number of rows sent; duplicates are
// only collapsed later by the merge.
func (c *Clickhouse) AddMany(ctx context.Context, events []domain.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	rows, err := eventsFromDomain(events)
	if err != nil {
		return 0, err
	}

	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO events`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare batch")
	}
	for i := 0; i < len(rows); i++ {
		if errAppend := batch.AppendStruct(&rows[i]); errAppend != nil {
			_ = batch.Abort()
			return 0, errors.Wrap(errAppend, "append event")
		}
	}
	if err := batch.Send(); err != nil {
		return 0, errors.Wrap(err, "send batch")
	}
	return int64(len(rows)), nil
}

func (c *Clickhouse) GetByID(ctx context.Context, eventID uuid.UUID) (domain.Event, error) {
	var rows []event
	if err := c.conn.Select(ctx, &rows, `
		SELECT event_id, project_id, user_id, session_id, event_type, timestamp, properties, created_at
		FROM events FINAL
		WHERE event_id = ?
		LIMIT 1`, eventID); err != nil {
		return domain.Event{}, errors.Wrap(err, "select event")
	}
	if len(rows) == 0 {
		return domain.Event{}, domain.ErrNotFound
	}
	return rows[0].toDomain()
}

func (c *Clickhouse) CountByID(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var n uint64
	if err := c.conn.QueryRow(ctx, `SELECT count() FROM events FINAL WHERE event_id = ?`, eventID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count events")
	}
	return int64(n), nil
}
