package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/leshachaplin/eventstream/internal/apierror"
	"github.com/leshachaplin/eventstream/internal/domain"
)

// buildEvent validates req and turns it into a domain event. The returned
// field errors are empty when the request is acceptable.
func (s *Service) buildEvent(projectID uuid.UUID, req IngestEventRequest) (domain.Event, []domain.FieldError, error) {
	fields, err := s.validator.Struct(req)
	if err != nil {
		return domain.Event{}, nil, err
	}
	if len(fields) > 0 {
		return domain.Event{}, fields, nil
	}

	eventType, ok := domain.ParseEventType(req.EventType)
	if !ok {
		return domain.Event{}, []domain.FieldError{{Field: "event_type", Msg: "unknown event type " + req.EventType}}, nil
	}

	now := s.now()
	if fe := domain.ValidateTimestamp(req.Timestamp.Time, now); fe != nil {
		fields = append(fields, *fe)
	}
	props := req.Properties.toDomain()
	fields = append(fields, domain.CheckRequiredProperties(eventType, props)...)
	if len(fields) > 0 {
		return domain.Event{}, fields, nil
	}

	return domain.NewEvent(projectID, req.UserID, req.SessionID, eventType, req.Timestamp.Time, props, now), nil, nil
}

func (s *Service) IngestEvent(ctx context.Context, identity domain.Identity, req IngestEventRequest) (uuid.UUID, error) {
	l := s.logger.With().Str("project_id", identity.ProjectID.String()).Logger()

	event, fields, err := s.buildEvent(identity.ProjectID, req)
	if err != nil {
		return uuid.Nil, apierror.Unexpected("Failed to validate event").WithDebug(err.Error())
	}
	if len(fields) > 0 {
		return uuid.Nil, validationError("Event validation failed", fields)
	}

	if err := s.producer.Publish(ctx, event); err != nil {
		l.Error().Err(err).Str("event_id", event.EventID.String()).Msg("publish event")
		return uuid.Nil, apierror.Unexpected("Failed to accept event").WithDebug(err.Error())
	}

	s.metrics.EventsAccepted(1)
	l.Debug().Str("event_id", event.EventID.String()).Str("event_type", string(event.EventType)).Msg("event accepted")
	return event.EventID, nil
}

// IngestBatch accepts between 1 and MaxBatchSize raw items. Items that fail to
// decode or validate are dropped; the rest are published in one call and
// their ids returned in input order. A batch with no valid item publishes
// nothing and yields an empty list.
func (s *Service) IngestBatch(ctx context.Context, identity domain.Identity, items []RawEvent) ([]uuid.UUID, error) {
	l := s.logger.With().Str("project_id", identity.ProjectID.String()).Logger()

	switch {
	case len(items) == 0:
		return nil, validationError("Batch must contain at least 1 event", []domain.FieldError{
			{Field: "events", Msg: "must contain at least 1 item"},
		})
	case len(items) > MaxBatchSize:
		return nil, validationError("Batch is too large", []domain.FieldError{
			{Field: "events", Msg: "must contain at most 500 items"},
		})
	}

	events := make([]domain.Event, 0, len(items))
	for idx, raw := range items {
		var req IngestEventRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			l.Debug().Err(err).Int("index", idx).Msg("dropping undecodable batch item")
			continue
		}
		event, fields, err := s.buildEvent(identity.ProjectID, req)
		if err != nil || len(fields) > 0 {
			l.Debug().Err(err).Int("index", idx).Interface("errors", fields).Msg("dropping invalid batch item")
			continue
		}
		events = append(events, event)
	}

	ids := make([]uuid.UUID, 0, len(events))
	if len(events) == 0 {
		l.Debug().Int("dropped", len(items)).Msg("batch has no valid items")
		return ids, nil
	}

	if err := s.producer.PublishBatch(ctx, events); err != nil {
		l.Error().Err(err).Int("batch_size", len(events)).Msg("publish batch")
		return nil, apierror.Unexpected("Failed to accept events").WithDebug(err.Error())
	}

	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	s.metrics.EventsAccepted(len(events))
	l.Debug().Int("accepted", len(events)).Int("dropped", len(items)-len(events)).Msg("batch accepted")
	return ids, nil
}
