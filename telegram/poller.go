package telegram

import (
	"context"
	"strconv"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/events"
)

// Updates is the long-polling side of *tgbotapi.BotAPI.
type Updates interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is satisfied by *tgbotapi.BotAPI.
type Bot interface {
	API
	Updates
}

// Submitter accepts inbound events without blocking the poll loop.
type Submitter interface {
	Submit(ctx context.Context, ev events.Event)
}

type Poller struct {
	bot     Bot
	timeout int
	logger  *zap.Logger
	ready   atomic.Bool
}

// NewPoller polls with the given long-poll timeout in seconds.
func NewPoller(bot Bot, timeout int, logger *zap.Logger) *Poller {
	if timeout <= 0 {
		timeout = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{bot: bot, timeout: timeout, logger: logger.Named("telegram")}
}

// Ready reports whether the poll loop is running.
func (p *Poller) Ready() bool { return p.ready.Load() }

// Run forwards updates to s until ctx is done.
func (p *Poller) Run(ctx context.Context, s Submitter) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = p.timeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := p.bot.GetUpdatesChan(u)
	p.ready.Store(true)
	defer p.ready.Store(false)
	defer p.bot.StopReceivingUpdates()

	p.logger.Info("polling for updates", zap.Int("timeout", p.timeout))
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				// Stops the client-side spinner on the pressed button.
				if _, err := p.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
					p.logger.Debug("callback answer failed", zap.Error(err))
				}
			}
			ev, ok := EventFromUpdate(update)
			if !ok {
				continue
			}
			s.Submit(ctx, ev)
		}
	}
}

// EventFromUpdate maps a text message or a callback query to a chat event.
// Other updates are not chat events.
func EventFromUpdate(update tgbotapi.Update) (events.Event, bool) {
	eventID := "tg-" + strconv.Itoa(update.UpdateID)

	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Data == "" {
			return events.Event{}, false
		}
		ts := int64(cb.Message.Date)
		return events.Event{
			EventID:        eventID,
			Kind:           events.KindChoice,
			ConversationID: strconv.FormatInt(cb.Message.Chat.ID, 10),
			Payload:        cb.Data,
			MessageID:      strconv.Itoa(cb.Message.MessageID),
			ChatType:       cb.Message.Chat.Type,
			Timestamp:      &ts,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return events.Event{}, false
	}
	ev := events.FromText(strconv.FormatInt(msg.Chat.ID, 10), msg.Text)
	ts := int64(msg.Date)
	ev.EventID = eventID
	ev.MessageID = strconv.Itoa(msg.MessageID)
	ev.ChatType = msg.Chat.Type
	ev.Timestamp = &ts
	return ev, true
}
