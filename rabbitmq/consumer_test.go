package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhwhpe/unrug-agent/events"
)

func TestRetryCount(t *testing.T) {
	tests := []struct {
		headers  amqp.Table
		expected int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{"x-retry-count": int32(2)}, 2},
		{amqp.Table{"x-retry-count": int64(3)}, 3},
		{amqp.Table{"x-retry-count": 4}, 4},
		{amqp.Table{"x-retry-count": "5"}, 0},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, retryCount(test.headers), "%v", test.headers)
	}
}

func TestSetRetryCountCopiesHeaders(t *testing.T) {
	in := amqp.Table{"trace": "abc"}
	out := setRetryCount(in, 1)

	assert.Equal(t, amqp.Table{"trace": "abc", "x-retry-count": int32(1)}, out)
	assert.NotContains(t, in, "x-retry-count")
	assert.Equal(t, 1, retryCount(out))
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"eventId":"e1","kind":"choice","conversationId":"42","payload":"launch:amm:ekubo","messageId":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, events.KindChoice, ev.Kind)
	assert.Equal(t, "launch:amm:ekubo", ev.Payload)
	assert.Equal(t, "7", ev.MessageID)

	ev, err = decodeEvent([]byte(`{"eventId":"e2","kind":"text","conversationId":"42","payload":"/unrug 0x01","chatType":"private"}`))
	require.NoError(t, err)
	assert.Equal(t, events.KindCommand, ev.Kind)
	assert.Equal(t, "unrug", ev.Command)
	assert.Equal(t, "0x01", ev.Args)
	assert.Equal(t, "e2", ev.EventID)
	assert.Equal(t, "private", ev.ChatType)

	ev, err = decodeEvent([]byte(`{"kind":"command","conversationId":"42","payload":"/deploy","command":"deploy"}`))
	require.NoError(t, err)
	assert.Equal(t, "deploy", ev.Command)

	ev, err = decodeEvent([]byte(`{"kind":"text","conversationId":"42","payload":"Doge"}`))
	require.NoError(t, err)
	assert.Equal(t, events.KindText, ev.Kind)
	assert.Equal(t, "Doge", ev.Payload)
}

func TestDecodeEventRejectsInvalid(t *testing.T) {
	_, err := decodeEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = decodeEvent([]byte(`{"kind":"text","payload":"hi"}`))
	assert.ErrorIs(t, err, events.ErrMissingConversation)

	_, err = decodeEvent([]byte(`{"kind":"sticker","conversationId":"1"}`))
	assert.ErrorIs(t, err, events.ErrUnknownKind)
}

func TestConsumeRequiresConfig(t *testing.T) {
	c := New(Config{URL: "amqp://localhost", Exchange: "chat"}, nil)
	err := c.Consume(t.Context(), nil)
	assert.EqualError(t, err, "RABBITMQ_QUEUE is required")
}
