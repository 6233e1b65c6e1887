package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/yhwhpe/unrug-agent/wallet/bridge"
)

const ArgentSelector = "argent"

// Methods requested for every Starknet session.
var starknetMethods = []string{
	"starknet_requestAddInvokeTransaction",
	"starknet_signTypedData",
}

var starknetEvents = []string{"chainChanged", "accountsChanged"}

// BridgeClient is the part of the pairing bridge an adapter uses.
type BridgeClient interface {
	CreatePairing(ctx context.Context, request bridge.PairingRequest) (*bridge.Pairing, error)
	WaitForApproval(ctx context.Context, topic string) (*bridge.Approval, error)
	Request(ctx context.Context, topic string, request bridge.SessionRequest) ([]byte, error)
	DeleteSession(ctx context.Context, topic string) error
}

// ArgentAdapter connects Argent mobile wallets through the pairing bridge.
type ArgentAdapter struct {
	bridge BridgeClient
	chain  string

	mu           sync.Mutex
	session      *Session
	onDisconnect []func(topic string)
}

var _ Adapter = (*ArgentAdapter)(nil)

// Argent returns a factory of Argent adapters sharing one bridge client.
func Argent(b BridgeClient) Factory {
	return func(chain string) Adapter {
		return &ArgentAdapter{bridge: b, chain: chain}
	}
}

func (a *ArgentAdapter) Name() string { return ArgentSelector }

func (a *ArgentAdapter) Init(context.Context) error {
	if a.bridge == nil {
		return errors.New("argent: no pairing bridge configured")
	}
	return nil
}

func (a *ArgentAdapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *ArgentAdapter) Accounts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return append([]string(nil), a.session.Accounts...)
}

func (a *ArgentAdapter) Connect(ctx context.Context) (Pairing, error) {
	p, err := a.bridge.CreatePairing(ctx, bridge.PairingRequest{
		Chains:  []string{caipChain(a.chain)},
		Methods: starknetMethods,
		Events:  starknetEvents,
	})
	if err != nil {
		return Pairing{}, fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	qr := argentQRURL(p.URI)
	return Pairing{
		QRURL:     qr,
		ButtonURL: "https://unruggable.meme/wallet-redirect/" + encodeURIComponent(qr),
		WaitForApproval: func(ctx context.Context) (Session, error) {
			return a.waitForApproval(ctx, p.Topic)
		},
	}, nil
}

func (a *ArgentAdapter) waitForApproval(ctx context.Context, topic string) (Session, error) {
	approval, err := a.bridge.WaitForApproval(ctx, topic)
	if err != nil {
		if ctx.Err() != nil {
			return Session{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrUnknown, err)
	}

	switch approval.Status {
	case bridge.StatusApproved:
		if approval.Session == nil {
			return Session{}, fmt.Errorf("%w: approval without session", ErrUnknown)
		}
		s := Session{
			Topic:    approval.Session.Topic,
			Accounts: accountAddresses(approval.Session.Accounts),
			Chains:   approval.Session.Chains,
			Methods:  approval.Session.Methods,
		}
		a.mu.Lock()
		a.session = &s
		a.mu.Unlock()
		return s, nil
	case bridge.StatusRejected:
		if approval.Reason == "" {
			return Session{}, ErrUserRejected
		}
		return Session{}, FromTag(approval.Reason)
	case bridge.StatusExpired:
		return Session{}, ErrTimeout
	default:
		return Session{}, fmt.Errorf("%w: unexpected approval status %q", ErrUnknown, approval.Status)
	}
}

func (a *ArgentAdapter) Request(ctx context.Context, req Request) ([]byte, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil, ErrNotConnected
	}

	result, err := a.bridge.Request(ctx, session.Topic, bridge.SessionRequest{
		Chain:  caipChain(a.chain),
		Method: req.Method,
		Params: req.Params,
	})
	if err != nil {
		if errors.Is(err, bridge.ErrSessionNotFound) {
			a.disconnected(session.Topic)
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		var bridgeErr *bridge.Error
		if errors.As(err, &bridgeErr) && bridgeErr.Code == TagUserRejected {
			return nil, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	return result, nil
}

func (a *ArgentAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	err := a.bridge.DeleteSession(ctx, session.Topic)
	if err != nil && !errors.Is(err, bridge.ErrSessionNotFound) {
		return fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	a.disconnected(session.Topic)
	return nil
}

func (a *ArgentAdapter) OnDisconnect(fn func(topic string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDisconnect = append(a.onDisconnect, fn)
}

// disconnected drops the session and fires the callbacks once.
func (a *ArgentAdapter) disconnected(topic string) {
	a.mu.Lock()
	if a.session == nil || a.session.Topic != topic {
		a.mu.Unlock()
		return
	}
	a.session = nil
	callbacks := a.onDisconnect
	a.onDisconnect = nil
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(topic)
	}
}

func argentQRURL(uri string) string {
	return "argent://app/wc?uri=" + encodeURIComponent(uri) + "&device=mobile"
}

// caipChain turns "SN_MAIN" into "starknet:SNMAIN".
func caipChain(chain string) string {
	return "starknet:" + normalizeChain(chain)
}

// accountAddresses strips the "namespace:chain:" prefix of CAIP-10 accounts.
func accountAddresses(accounts []string) []string {
	out := make([]string, 0, len(accounts))
	for _, account := range accounts {
		if i := strings.LastIndexByte(account, ':'); i >= 0 {
			account = account[i+1:]
		}
		out = append(out, account)
	}
	return out
}

var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes s the way browsers do for URI components, which is
// what wallet deep links expect.
func encodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}
