package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yhwhpe/unrug-agent/communicator"
)

// Chat texts of the connect handshake.
const (
	ConnectCaption     = "Scan the QR code or click the button below to connect your wallet"
	ConnectButton      = "Click To Connect"
	NoAccountsMessage  = "No accounts connected to wallet"
	WrongChainMessage  = "Wrong chain selected. Please switch to Starknet Mainnet"
	ConnectFailMessage = "Failed to connect to wallet"
)

const qrSize = 256

type ConnectorConfig struct {
	Adapters  Adapters
	Store     *Store
	Messenger communicator.Messenger
	// Chain is the network every session must be approved for.
	Chain           string
	ApprovalTimeout time.Duration
	Logger          *zap.Logger
}

// Connector runs the wallet connect handshake for a conversation.
type Connector struct {
	adapters        Adapters
	store           *Store
	messenger       communicator.Messenger
	chain           string
	approvalTimeout time.Duration
	logger          *zap.Logger
	group           singleflight.Group
}

func NewConnector(config ConnectorConfig) *Connector {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := config.Store
	if store == nil {
		store = NewStore()
	}
	timeout := config.ApprovalTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Connector{
		adapters:        config.Adapters,
		store:           store,
		messenger:       config.Messenger,
		chain:           config.Chain,
		approvalTimeout: timeout,
		logger:          logger.Named("wallet"),
	}
}

func (c *Connector) Store() *Store { return c.store }
func (c *Connector) Chain() string { return c.chain }

// Connect returns the conversation's connected adapter, running the handshake
// with the adapter named by selector when there is none. Concurrent calls for
// one conversation and selector share a single handshake.
//
// Failures the user caused by walking away (ErrUserRejected, ErrTimeout) are
// returned without any chat message; every other failure has already been
// reported to the conversation when Connect returns.
func (c *Connector) Connect(ctx context.Context, conversation, selector string) (Adapter, error) {
	if a, ok := c.store.Get(conversation); ok && a.Connected() {
		return a, nil
	}
	v, err, _ := c.group.Do(conversation+"/"+selector, func() (any, error) {
		return c.connect(ctx, conversation, selector)
	})
	if err != nil {
		return nil, err
	}
	return v.(Adapter), nil
}

func (c *Connector) connect(ctx context.Context, conversation, selector string) (Adapter, error) {
	logger := c.logger.With(zap.String("conversation", conversation), zap.String("adapter", selector))

	a, err := c.adapters.New(selector, c.chain)
	if err != nil {
		logger.Error("unknown wallet adapter", zap.Error(err))
		c.say(ctx, conversation, ConnectFailMessage)
		return nil, err
	}
	if err := a.Init(ctx); err != nil {
		logger.Warn("wallet adapter init failed", zap.Error(err))
		c.say(ctx, conversation, ConnectFailMessage)
		return nil, fmt.Errorf("%w: init: %v", ErrUnknown, err)
	}

	a.OnDisconnect(func(topic string) {
		if c.store.RemoveIf(conversation, a) {
			logger.Info("wallet disconnected", zap.String("topic", topic))
		}
	})
	c.store.Add(conversation, a)

	pairing, err := a.Connect(ctx)
	if err != nil {
		c.store.RemoveIf(conversation, a)
		logger.Debug("pairing failed", zap.String("tag", Tag(err)), zap.Error(err))
		return nil, err
	}

	png, err := qrcode.Encode(pairing.QRURL, qrcode.Medium, qrSize)
	if err != nil {
		c.store.RemoveIf(conversation, a)
		logger.Error("qr rendering failed", zap.Error(err))
		c.say(ctx, conversation, ConnectFailMessage)
		return nil, fmt.Errorf("%w: render qr: %v", ErrUnknown, err)
	}
	var prompt communicator.MessageRef
	if c.messenger != nil {
		prompt, err = c.messenger.SendImage(ctx, conversation, png, ConnectCaption,
			communicator.LinkKeyboard(ConnectButton, pairing.ButtonURL))
		if err != nil {
			logger.Warn("sending connect prompt failed", zap.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.approvalTimeout)
	defer cancel()
	session, err := pairing.WaitForApproval(waitCtx)
	if err != nil && waitCtx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if err == nil {
		if err = c.validate(session); err != nil {
			if derr := a.Disconnect(ctx); derr != nil {
				logger.Debug("disconnect after rejected session failed", zap.Error(derr))
			}
		}
	}
	if err != nil {
		c.store.RemoveIf(conversation, a)
		logger.Info("wallet connection failed", zap.String("tag", Tag(err)), zap.Error(err))
		if msg := failureMessage(err); msg != "" {
			c.say(ctx, conversation, msg)
		}
		c.deletePrompt(ctx, prompt)
		return nil, err
	}

	logger.Info("wallet connected", zap.String("account", session.Accounts[0]))
	c.say(ctx, conversation, "Connected to wallet with account: "+session.Accounts[0])
	c.deletePrompt(ctx, prompt)
	return a, nil
}

func (c *Connector) validate(session Session) error {
	if len(session.Accounts) == 0 {
		return ErrNoAccounts
	}
	for _, chain := range session.Chains {
		if SameChain(chain, c.chain) {
			return nil
		}
	}
	return fmt.Errorf("%w: approved %v, want %s", ErrWrongChain, session.Chains, c.chain)
}

func failureMessage(err error) string {
	switch {
	case silent(err):
		return ""
	case errors.Is(err, ErrNoAccounts):
		return NoAccountsMessage
	case errors.Is(err, ErrWrongChain):
		return WrongChainMessage
	default:
		return ConnectFailMessage
	}
}

func (c *Connector) say(ctx context.Context, conversation, text string) {
	if c.messenger == nil {
		return
	}
	if _, err := c.messenger.SendText(ctx, conversation, text, nil); err != nil {
		c.logger.Warn("send failed", zap.String("conversation", conversation), zap.Error(err))
	}
}

func (c *Connector) deletePrompt(ctx context.Context, ref communicator.MessageRef) {
	if c.messenger == nil || ref.MessageID == "" {
		return
	}
	if err := c.messenger.DeleteMessage(ctx, ref); err != nil {
		c.logger.Debug("deleting connect prompt failed", zap.Error(err))
	}
}
