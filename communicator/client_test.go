package communicator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	routingKey string
	body       []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{routingKey: routingKey, body: body})
	return nil
}

func decode(t *testing.T, p published) AgentMessageInput {
	t.Helper()
	var input AgentMessageInput
	require.NoError(t, json.Unmarshal(p.body, &input))
	return input
}

func TestClientSendTextWithKeyboard(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, "chat.outbound.unrug", "unrug-agent", zap.NewNop())

	ref, err := c.SendText(t.Context(), "42", "Please choose your wallet.", LinkKeyboard("Open", "https://unruggable.meme"))
	require.NoError(t, err)
	assert.Equal(t, "42", ref.ConversationID)
	assert.NotEmpty(t, ref.MessageID)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "chat.outbound.unrug", pub.messages[0].routingKey)
	input := decode(t, pub.messages[0])
	assert.Equal(t, "42", input.ChatID)
	assert.Equal(t, ref.MessageID, input.MessageID)
	assert.Equal(t, "unrug-agent", input.Source)
	assert.Equal(t, "AGENT_MESSAGE", input.EventType)
	require.Len(t, input.Contents, 1)
	assert.Equal(t, ContentText, input.Contents[0].Type)
	require.NotNil(t, input.Contents[0].Keyboard)
	assert.Equal(t, "https://unruggable.meme", input.Contents[0].Keyboard.Rows[0][0].URL)
}

func TestClientImageAndDelete(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, "out", "unrug-agent", zap.NewNop())

	ref, err := c.SendImage(t.Context(), "42", []byte("png"), "Scan", nil)
	require.NoError(t, err)
	require.NoError(t, c.DeleteMessage(t.Context(), ref))

	require.Len(t, pub.messages, 2)
	image := decode(t, pub.messages[0]).Contents[0]
	assert.Equal(t, ContentImage, image.Type)
	assert.Equal(t, "cG5n", image.Data["base64"])

	del := decode(t, pub.messages[1])
	assert.Equal(t, "AGENT_MESSAGE_DELETE", del.EventType)
	assert.Equal(t, ref.MessageID, del.Contents[0].Content)

	second, err := c.SendText(t.Context(), "42", "again", nil)
	require.NoError(t, err)
	assert.NotEqual(t, ref.MessageID, second.MessageID)
}

func TestClientPublishError(t *testing.T) {
	c := New(&fakePublisher{err: errors.New("channel closed")}, "out", "unrug-agent", zap.NewNop())
	_, err := c.SendText(t.Context(), "42", "hi", nil)
	assert.ErrorContains(t, err, "publish agent message: channel closed")
}
