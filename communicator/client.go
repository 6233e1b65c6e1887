package communicator

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Content item types published to the communicator.
const (
	ContentText   = "text"
	ContentImage  = "image"
	ContentDelete = "delete"
)

// MessageContentItemInput represents input for message content
type MessageContentItemInput struct {
	Type     string                 `json:"type"`
	Content  string                 `json:"content,omitempty"`
	Order    int                    `json:"order,omitempty"`
	Keyboard *Keyboard              `json:"keyboard,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// AgentMessageInput represents input for agent message
type AgentMessageInput struct {
	ChatID    string                    `json:"chatId"`
	MessageID string                    `json:"messageId"`
	Contents  []MessageContentItemInput `json:"contents"`
	Metadata  map[string]interface{}    `json:"metadata,omitempty"`
	Source    string                    `json:"source"`
	EventType string                    `json:"eventType"`
}

// Publisher delivers an encoded message to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Client sends agent messages to the communicator service through the broker.
// Message ids are assigned here, so later edits and deletes can address them.
type Client struct {
	publisher  Publisher
	routingKey string
	source     string
	seq        atomic.Int64
	logger     *zap.Logger
}

var _ Messenger = (*Client)(nil)

// New creates a new communicator client
func New(publisher Publisher, routingKey, source string, logger *zap.Logger) *Client {
	return &Client{
		publisher:  publisher,
		routingKey: routingKey,
		source:     source,
		logger:     logger.Named("communicator"),
	}
}

// AddAgentMessage sends a message to the communicator
func (c *Client) AddAgentMessage(ctx context.Context, input AgentMessageInput) error {
	body, err := sonic.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal agent message: %w", err)
	}
	c.logger.Debug("sending message",
		zap.String("conversation", input.ChatID),
		zap.String("event_type", input.EventType),
		zap.Int("contents", len(input.Contents)))
	if err := c.publisher.Publish(ctx, c.routingKey, body); err != nil {
		return fmt.Errorf("publish agent message: %w", err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, conversationID, text string, kb *Keyboard) (MessageRef, error) {
	return c.send(ctx, conversationID, "AGENT_MESSAGE", MessageContentItemInput{
		Type:     ContentText,
		Content:  text,
		Keyboard: kb,
	})
}

func (c *Client) SendImage(ctx context.Context, conversationID string, png []byte, caption string, kb *Keyboard) (MessageRef, error) {
	return c.send(ctx, conversationID, "AGENT_MESSAGE", MessageContentItemInput{
		Type:     ContentImage,
		Content:  caption,
		Keyboard: kb,
		Data: map[string]interface{}{
			"contentType": "image/png",
			"base64":      base64.StdEncoding.EncodeToString(png),
		},
	})
}

func (c *Client) DeleteMessage(ctx context.Context, ref MessageRef) error {
	_, err := c.send(ctx, ref.ConversationID, "AGENT_MESSAGE_DELETE", MessageContentItemInput{
		Type:    ContentDelete,
		Content: ref.MessageID,
	})
	return err
}

func (c *Client) send(ctx context.Context, conversationID, eventType string, item MessageContentItemInput) (MessageRef, error) {
	ref := MessageRef{
		ConversationID: conversationID,
		MessageID:      fmt.Sprintf("%d-%s", c.seq.Add(1), uuid.NewString()[:8]),
	}
	err := c.AddAgentMessage(ctx, AgentMessageInput{
		ChatID:    conversationID,
		MessageID: ref.MessageID,
		Contents:  []MessageContentItemInput{item},
		Source:    c.source,
		EventType: eventType,
	})
	if err != nil {
		return MessageRef{}, err
	}
	return ref, nil
}
