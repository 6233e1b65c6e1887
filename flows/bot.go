// Package flows declares the bot's conversational flows (deploy, launch) and its
// slash commands, and binds them to the wallet and chain collaborators.
package flows

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/chain"
	"github.com/yhwhpe/unrug-agent/communicator"
	"github.com/yhwhpe/unrug-agent/events"
	"github.com/yhwhpe/unrug-agent/form"
	"github.com/yhwhpe/unrug-agent/internal/dispatcher"
	"github.com/yhwhpe/unrug-agent/saga"
	"github.com/yhwhpe/unrug-agent/wallet"
)

const (
	StartMessage       = "Hello, You can use /unrug command to check if a token is unrugabble or not.\nOr deploy a new memecoin using /deploy command."
	PrivateOnlyMessage = "This command can only be used in a private chat."
	UnrugUsageMessage  = "Usage: /unrug [token_address]"
	LoadingMessage     = "Loading..."
	RuggableMessage    = "This token is Ruggable ❌"
	ApproveMessage     = "Please approve the transaction in your wallet."
)

// MemecoinReader is the read side of the chain.
type MemecoinReader interface {
	Memecoin(ctx context.Context, address string) (*chain.Memecoin, error)
	Unlaunched(ctx context.Context, address string) (*chain.Memecoin, error)
	EtherPrice(ctx context.Context) (*big.Rat, error)
}

// WalletConnector resolves a connected wallet for a conversation.
type WalletConnector interface {
	Connect(ctx context.Context, conversation, selector string) (wallet.Adapter, error)
}

type Config struct {
	Messenger communicator.Messenger
	Connector WalletConnector
	Reader    MemecoinReader
	// Wallets are the selectable wallet adapters, by selector.
	Wallets []string
	// Journal is optional.
	Journal saga.SagaLogger
	Logger  *zap.Logger
	// Now is used for liquidity lock timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Bot owns the flow definitions and the collaborators their handlers use.
type Bot struct {
	messenger communicator.Messenger
	connector WalletConnector
	reader    MemecoinReader
	journal   saga.SagaLogger
	logger    *zap.Logger
	now       func() time.Time

	deploy *form.Definition
	launch *form.Definition
}

func New(config Config) *Bot {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	b := &Bot{
		messenger: config.Messenger,
		connector: config.Connector,
		reader:    config.Reader,
		journal:   config.Journal,
		logger:    logger.Named("flows"),
		now:       now,
	}
	wallets := walletChoices(config.Wallets)
	b.deploy = b.deployDefinition(wallets)
	b.launch = b.launchDefinition(wallets)
	return b
}

func (b *Bot) Deploy() *form.Definition { return b.deploy }
func (b *Bot) Launch() *form.Definition { return b.launch }

// Register binds the bot's commands to d. Every command discards the
// conversation's current flow.
func (b *Bot) Register(d *dispatcher.Dispatcher) {
	d.HandleCommand("start", func(ctx context.Context, ev events.Event) error {
		d.Reset(ev.ConversationID)
		b.say(ctx, ev.ConversationID, StartMessage)
		return nil
	})
	d.HandleCommand("deploy", func(ctx context.Context, ev events.Event) error {
		d.Start(ctx, ev.ConversationID, b.deploy)
		return nil
	})
	d.HandleCommand("launch", func(ctx context.Context, ev events.Event) error {
		if ev.ChatType != events.ChatTypePrivate {
			d.Reset(ev.ConversationID)
			b.say(ctx, ev.ConversationID, PrivateOnlyMessage)
			return nil
		}
		d.Start(ctx, ev.ConversationID, b.launch)
		return nil
	})
	d.HandleCommand("unrug", func(ctx context.Context, ev events.Event) error {
		d.Reset(ev.ConversationID)
		b.unrug(ctx, ev.ConversationID, ev.Args)
		return nil
	})
}

func (b *Bot) unrug(ctx context.Context, conv, args string) {
	address := strings.TrimSpace(args)
	if address == "" {
		b.say(ctx, conv, UnrugUsageMessage)
		return
	}
	if !chain.IsL2Address(address) {
		b.say(ctx, conv, "The provided address is a not valid Starknet address: "+address)
		return
	}

	b.say(ctx, conv, LoadingMessage)
	m, err := b.reader.Memecoin(ctx, address)
	if err != nil {
		if !errors.Is(err, chain.ErrNotMemecoin) {
			b.logger.Warn("memecoin lookup failed",
				zap.String("conversation", conv),
				zap.String("address", address),
				zap.Error(err))
		}
		b.say(ctx, conv, RuggableMessage)
		return
	}
	b.say(ctx, conv, unrugReport(m))
}

func unrugReport(m *chain.Memecoin) string {
	var sb strings.Builder
	sb.WriteString("This token IS Unruggable ✅\n\n")
	sb.WriteString("Token name: " + m.Name + "\n")
	sb.WriteString("Token symbol: $" + m.Symbol + "\n")
	if !m.Launched {
		sb.WriteString("\nNot launched yet.")
		return sb.String()
	}
	sb.WriteString("Team alloc: " + formatNumber(math.Round(m.TeamAllocationPercent()*100)/100) + "%")
	return sb.String()
}

// connect runs the wallet handshake for a terminal task and journals the
// session. ok is false when the handshake failed; the connector has already
// told the user when that was worth telling.
func (b *Bot) connect(ctx context.Context, conv, flow, generation, selector string) (wallet.Adapter, string, bool) {
	adapter, err := b.connector.Connect(ctx, conv, selector)
	if err != nil {
		b.logger.Info("wallet connection failed",
			zap.String("conversation", conv),
			zap.String("flow", flow),
			zap.String("tag", wallet.Tag(err)),
			zap.Error(err))
		return nil, "", false
	}
	accounts := adapter.Accounts()
	if len(accounts) == 0 {
		b.say(ctx, conv, wallet.NoAccountsMessage)
		return nil, "", false
	}
	b.log(ctx, flow, conv, saga.WalletConnectedEvent{
		BaseEvent: saga.NewBaseEvent(saga.WalletConnected, generation),
		Adapter:   selector,
		Account:   accounts[0],
	})
	return adapter, accounts[0], true
}

func (b *Bot) chainAction(ctx context.Context, conv, flow, generation, hash string, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, chain.ErrActionNeeded):
		outcome = "action_needed"
	case err != nil:
		outcome = wallet.Tag(err)
		b.logger.Warn("chain action failed",
			zap.String("conversation", conv),
			zap.String("flow", flow),
			zap.Error(err))
	}
	b.log(ctx, flow, conv, saga.ChainActionEvent{
		BaseEvent: saga.NewBaseEvent(saga.ChainAction, generation),
		Flow:      flow,
		Action:    flow,
		Outcome:   outcome,
		TxHash:    hash,
	})
}

// deleteKeyboard removes the message carrying the buttons that were pressed.
func (b *Bot) deleteKeyboard(ctx context.Context, s *form.Scope) {
	ev := s.Event()
	if b.messenger == nil || ev.MessageID == "" {
		return
	}
	ref := communicator.MessageRef{ConversationID: ev.ConversationID, MessageID: ev.MessageID}
	if err := b.messenger.DeleteMessage(ctx, ref); err != nil {
		b.logger.Warn("delete failed", zap.String("conversation", ev.ConversationID), zap.Error(err))
	}
}

func (b *Bot) say(ctx context.Context, conv, text string) {
	if b.messenger == nil {
		return
	}
	if _, err := b.messenger.SendText(ctx, conv, text, nil); err != nil {
		b.logger.Warn("send failed", zap.String("conversation", conv), zap.Error(err))
	}
}

func (b *Bot) log(ctx context.Context, flow, conv string, event saga.EventUnion) {
	if b.journal == nil {
		return
	}
	if err := b.journal.LogEvent(ctx, flow, conv, event); err != nil {
		b.logger.Warn("journal write failed",
			zap.String("conversation", conv),
			zap.String("event_type", event.GetEventType()),
			zap.Error(err))
	}
}

const cancelKey = "cancel"

// walletChoices offers cancel first, then one button per adapter.
func walletChoices(selectors []string) []form.Choice {
	choices := []form.Choice{{Key: cancelKey, Title: "Cancel"}}
	for _, selector := range selectors {
		title := selector
		if title != "" {
			title = strings.ToUpper(title[:1]) + title[1:]
		}
		choices = append(choices, form.Choice{Key: selector, Title: title})
	}
	return choices
}

var yesNo = []form.Choice{{Key: "yes", Title: "Yes"}, {Key: "no", Title: "No"}}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
