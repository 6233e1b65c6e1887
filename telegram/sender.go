// Package telegram is the Telegram side of the chat transport: a long-polling
// Poller for inbound events and a Sender implementing communicator.Messenger.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/communicator"
)

// API is the subset of *tgbotapi.BotAPI the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sender renders outbound messages with Markdown and inline keyboards.
type Sender struct {
	api    API
	logger *zap.Logger
}

var _ communicator.Messenger = (*Sender)(nil)

func NewSender(api API, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{api: api, logger: logger.Named("telegram")}
}

func (s *Sender) SendText(_ context.Context, conversationID, text string, kb *communicator.Keyboard) (communicator.MessageRef, error) {
	chatID, err := chatID(conversationID)
	if err != nil {
		return communicator.MessageRef{}, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup := inlineKeyboard(kb); markup != nil {
		msg.ReplyMarkup = *markup
	}
	return s.send(conversationID, msg)
}

func (s *Sender) SendImage(_ context.Context, conversationID string, png []byte, caption string, kb *communicator.Keyboard) (communicator.MessageRef, error) {
	chatID, err := chatID(conversationID)
	if err != nil {
		return communicator.MessageRef{}, err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: png})
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	if markup := inlineKeyboard(kb); markup != nil {
		photo.ReplyMarkup = *markup
	}
	return s.send(conversationID, photo)
}

func (s *Sender) DeleteMessage(_ context.Context, ref communicator.MessageRef) error {
	chatID, err := chatID(ref.ConversationID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q", ref.MessageID)
	}
	if _, err := s.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("telegram: delete message: %w", err)
	}
	return nil
}

func (s *Sender) send(conversationID string, c tgbotapi.Chattable) (communicator.MessageRef, error) {
	sent, err := s.api.Send(c)
	if err != nil {
		return communicator.MessageRef{}, fmt.Errorf("telegram: send: %w", err)
	}
	s.logger.Debug("message sent", zap.String("conversation", conversationID), zap.Int("message_id", sent.MessageID))
	return communicator.MessageRef{
		ConversationID: conversationID,
		MessageID:      strconv.Itoa(sent.MessageID),
	}, nil
}

func chatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", conversationID)
	}
	return id, nil
}

func inlineKeyboard(kb *communicator.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb.Rows))
	for _, row := range kb.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
