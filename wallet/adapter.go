package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Session is an approved wallet session.
type Session struct {
	Topic    string
	Accounts []string
	Chains   []string
	Methods  []string
}

// Pairing is a pending connection: a URI rendered for the user and a wait for
// the wallet to approve it out of band.
type Pairing struct {
	QRURL           string
	ButtonURL       string
	WaitForApproval func(ctx context.Context) (Session, error)
}

// Request is a JSON-RPC call forwarded to the wallet.
type Request struct {
	Method string
	Params any
}

// Adapter is one wallet integration. Failures are returned as errors that Tag
// understands, never as panics.
type Adapter interface {
	Name() string
	Init(ctx context.Context) error
	Connected() bool
	Accounts() []string
	Connect(ctx context.Context) (Pairing, error)
	Disconnect(ctx context.Context) error
	Request(ctx context.Context, req Request) ([]byte, error)
	// OnDisconnect registers fn to be called once when the session ends.
	OnDisconnect(fn func(topic string))
}

// Factory builds a fresh adapter bound to chain.
type Factory func(chain string) Adapter

// Adapters maps selector names to factories.
type Adapters map[string]Factory

func (a Adapters) New(selector, chain string) (Adapter, error) {
	f, ok := a[selector]
	if !ok {
		return nil, fmt.Errorf("%w: no wallet adapter %q (have %s)", ErrUnknown, selector, strings.Join(a.Names(), ", "))
	}
	return f(chain), nil
}

func (a Adapters) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SameChain compares chain ids in their network-name ("SN_MAIN") and CAIP-2
// ("starknet:SNMAIN") spellings.
func SameChain(a, b string) bool {
	return normalizeChain(a) == normalizeChain(b)
}

func normalizeChain(id string) string {
	id = strings.TrimPrefix(strings.ToUpper(id), "STARKNET:")
	return strings.ReplaceAll(id, "_", "")
}
