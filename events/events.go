package events

import (
	"errors"
	"strings"
)

// Kind mirrors the inbound chat contract: free text, a button press or a bot command.
type Kind string

const (
	KindText    Kind = "text"
	KindChoice  Kind = "choice"
	KindCommand Kind = "command"
)

// ChatTypePrivate is the chat type of one-to-one conversations.
const ChatTypePrivate = "private"

// Event is the envelope shared by every inbound transport (Telegram poller, AMQP consumer).
type Event struct {
	EventID        string `json:"eventId"`
	Kind           Kind   `json:"kind"`
	ConversationID string `json:"conversationId"`
	Payload        string `json:"payload"`             // raw text or opaque choice identifier
	MessageID      string `json:"messageId,omitempty"` // message that carried the text or the keyboard
	ChatType       string `json:"chatType,omitempty"`
	Command        string `json:"command,omitempty"` // command name without the leading slash
	Args           string `json:"args,omitempty"`
	Timestamp      *int64 `json:"timestamp,omitempty"` // unix seconds
}

var (
	ErrMissingConversation = errors.New("event has no conversation id")
	ErrUnknownKind         = errors.New("event kind is unknown")
)

// Validate checks the fields every consumer relies on.
func (e Event) Validate() error {
	if e.ConversationID == "" {
		return ErrMissingConversation
	}
	switch e.Kind {
	case KindText, KindChoice, KindCommand:
		return nil
	default:
		return ErrUnknownKind
	}
}

// FromText classifies a raw chat message: "/cmd args" becomes a command event,
// anything else a text event. A "@botname" suffix on the command is dropped.
func FromText(conversationID, text string) Event {
	ev := Event{ConversationID: conversationID, Kind: KindText, Payload: text}
	if !strings.HasPrefix(text, "/") {
		return ev
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	ev.Kind = KindCommand
	ev.Command = strings.ToLower(name)
	ev.Args = strings.TrimSpace(args)
	return ev
}
