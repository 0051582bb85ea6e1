package stream

import (
	"context"

	"github.com/rs/zerolog"
)

// DeadLetterRecord is a stream entry that could not be turned into an Event.
type DeadLetterRecord struct {
	MsgID   string
	Payload []byte
	Reason  error
}

type DeadLetter interface {
	Send(ctx context.Context, rec DeadLetterRecord) error
}

// LogDeadLetter only records the drop.
type LogDeadLetter struct {
	logger zerolog.Logger
}

func NewLogDeadLetter(logger zerolog.Logger) *LogDeadLetter {
	return &LogDeadLetter{logger: logger.With().Str("component", "dead_letter").Logger()}
}

func (l *LogDeadLetter) Send(_ context.Context, rec DeadLetterRecord) error {
	l.logger.Error().
		Err(rec.Reason).
		Str("msg_id", rec.MsgID).
		Int("payload_bytes", len(rec.Payload)).
		Msg("dropping malformed stream entry")
	return nil
}

// DeadLetterPayload is the JSON document written to a dead-letter topic.
type DeadLetterPayload struct {
	MsgID       string `json:"msg_id"`
	Payload     []byte `json:"payload"`
	ErrorReason string `json:"error_reason,omitempty"`
}

func NewDeadLetterPayload(rec DeadLetterRecord) DeadLetterPayload {
	p := DeadLetterPayload{MsgID: rec.MsgID, Payload: rec.Payload}
	if rec.Reason != nil {
		p.ErrorReason = rec.Reason.Error()
	}
	return p
}
