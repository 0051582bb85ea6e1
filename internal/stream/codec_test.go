package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/leshachaplin/eventstream/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func purchaseEvent() domain.Event {
	ts := time.Date(2024, 3, 1, 12, 30, 15, 123456789, time.FixedZone("CET", 3600))
	return domain.NewEvent(
		uuid.New(),
		ptr("user-1"),
		nil,
		domain.Purchase,
		ts,
		domain.Properties{
			ProductID: ptr("sku-42"),
			Price:     ptr(domain.PriceFromDecimal(19.99)),
			Quantity:  ptr(2),
			Currency:  ptr("USD"),
		},
		ts.Add(time.Second),
	)
}

func TestCodec_RoundTrip(t *testing.T) {
	e := purchaseEvent()

	data, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, e, got)
	assert.Equal(t, 123456000, got.Timestamp.Nanosecond())
	assert.Nil(t, got.SessionID)
	assert.Equal(t, int64(1999), *got.Properties.Price)
}

func TestCodec_WireIsTextSafe(t *testing.T) {
	e := purchaseEvent()
	data, err := Encode(e)
	require.NoError(t, err)

	var raw map[string]any
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	require.NoError(t, dec.Decode(&raw))

	assert.Equal(t, e.EventID.String(), raw["event_id"])
	assert.Equal(t, "2024-03-01T11:30:15.123456+00:00", raw["timestamp"])
	assert.Equal(t, "purchase", raw["event_type"])
	props, ok := raw["properties"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, props, "page_url")
}

func TestCodec_DecodeRejectsMalformed(t *testing.T) {
	valid := purchaseEvent()
	mutate := func(fn func(m map[string]any)) []byte {
		data, err := Encode(valid)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, msgpack.Unmarshal(data, &m))
		fn(m)
		out, err := msgpack.Marshal(m)
		require.NoError(t, err)
		return out
	}

	cases := map[string][]byte{
		"garbage":       []byte("not msgpack at all"),
		"empty":         {},
		"bad event id":  mutate(func(m map[string]any) { m["event_id"] = "nope" }),
		"no project id": mutate(func(m map[string]any) { delete(m, "project_id") }),
		"unknown type":  mutate(func(m map[string]any) { m["event_type"] = "login" }),
		"bad timestamp": mutate(func(m map[string]any) { m["timestamp"] = "yesterday" }),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
		})
	}
}

func TestDeadLetterPayload_JSON(t *testing.T) {
	p := NewDeadLetterPayload(DeadLetterRecord{
		MsgID:   "0-7",
		Payload: []byte{0x01, 0x02},
		Reason:  errors.New("malformed payload: event_type \"login\""),
	})

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_id":"0-7","payload":"AQI=","error_reason":"malformed payload: event_type \"login\""}`, string(b))

	var back map[string]any
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, `malformed payload: event_type "login"`, back["error_reason"])

	b, err = json.Marshal(NewDeadLetterPayload(DeadLetterRecord{MsgID: "0-8"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_id":"0-8","payload":null}`, string(b))
}

func TestLogDeadLetter(t *testing.T) {
	var buf bytes.Buffer
	dl := NewLogDeadLetter(zerolog.New(&buf))

	require.NoError(t, dl.Send(context.Background(), DeadLetterRecord{MsgID: "3-0", Reason: domain.ErrMalformedPayload}))
	assert.Contains(t, buf.String(), `"msg_id":"3-0"`)
	assert.Contains(t, buf.String(), `"component":"dead_letter"`)
}
