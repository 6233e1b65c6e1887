package communicator

import (
	"context"

	"github.com/yhwhpe/unrug-agent/events"
	"github.com/yhwhpe/unrug-agent/form"
)

// MessageRef identifies a message previously sent to a conversation.
type MessageRef struct {
	ConversationID string `json:"chatId"`
	MessageID      string `json:"messageId"`
}

// Button is either a callback button (Data) or a link button (URL).
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Keyboard is an inline keyboard rendered under a message.
type Keyboard struct {
	Rows [][]Button `json:"rows"`
}

// Messenger is the outbound side of the chat transport. Sends are fire-and-forget
// from the engine's point of view: errors are logged by callers, never retried.
type Messenger interface {
	SendText(ctx context.Context, conversationID, text string, kb *Keyboard) (MessageRef, error)
	SendImage(ctx context.Context, conversationID string, png []byte, caption string, kb *Keyboard) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// ChoiceKeyboard renders the buttons of a choice field on a single row, each
// carrying the "<flow>:<field>:<key>" identifier.
func ChoiceKeyboard(flow string, f *form.Field) *Keyboard {
	choices := f.Choices()
	if len(choices) == 0 {
		return nil
	}
	row := make([]Button, 0, len(choices))
	for _, c := range choices {
		row = append(row, Button{Text: c.Title, Data: events.ChoiceData(flow, f.Name(), c.Key)})
	}
	return &Keyboard{Rows: [][]Button{row}}
}

// LinkKeyboard renders a single link button.
func LinkKeyboard(text, url string) *Keyboard {
	return &Keyboard{Rows: [][]Button{{{Text: text, URL: url}}}}
}
