package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotMemecoin     = errors.New("chain: not an unruggable memecoin")
	ErrAlreadyLaunched = errors.New("chain: memecoin already launched")
)

// Caller runs view entry points. RPCClient implements it.
type Caller interface {
	Call(ctx context.Context, contract, entrypoint string, calldata []string) ([]string, error)
}

// Memecoin is the on-chain state of a factory token. Amounts are in wei.
type Memecoin struct {
	Address        string
	Name           string
	Symbol         string
	Owner          string
	Launched       bool
	TotalSupply    *big.Int
	TeamAllocation *big.Int
}

// TeamAllocationPercent is the team allocation as a share of the supply.
func (m *Memecoin) TeamAllocationPercent() float64 {
	if m.TotalSupply == nil || m.TotalSupply.Sign() == 0 || m.TeamAllocation == nil {
		return 0
	}
	pct, _ := new(big.Rat).SetFrac(new(big.Int).Mul(m.TeamAllocation, big.NewInt(100)), m.TotalSupply).Float64()
	return pct
}

// Reader fetches memecoin and market data.
type Reader struct {
	caller  Caller
	factory string
}

func NewReader(caller Caller, factory string) *Reader {
	if factory == "" {
		factory = FactoryAddress
	}
	return &Reader{caller: caller, factory: factory}
}

// Memecoin loads a token deployed by the factory. Addresses the factory does
// not know yield ErrNotMemecoin.
func (r *Reader) Memecoin(ctx context.Context, address string) (*Memecoin, error) {
	res, err := r.caller.Call(ctx, r.factory, EntryIsMemecoin, []string{address})
	if err != nil {
		return nil, err
	}
	ok, err := felt(res, 0)
	if err != nil {
		return nil, fmt.Errorf("chain: is_memecoin: %w", err)
	}
	if ok.Sign() == 0 {
		return nil, ErrNotMemecoin
	}

	m := &Memecoin{Address: address}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		m.Name, err = r.shortString(gctx, address, EntryName)
		return err
	})
	g.Go(func() (err error) {
		m.Symbol, err = r.shortString(gctx, address, EntrySymbol)
		return err
	})
	g.Go(func() error {
		res, err := r.caller.Call(gctx, address, EntryOwner, nil)
		if err != nil {
			return err
		}
		owner, err := felt(res, 0)
		if err != nil {
			return fmt.Errorf("chain: owner: %w", err)
		}
		m.Owner = Hex(owner)
		return nil
	})
	g.Go(func() error {
		res, err := r.caller.Call(gctx, address, EntryIsLaunched, nil)
		if err != nil {
			return err
		}
		launched, err := felt(res, 0)
		if err != nil {
			return fmt.Errorf("chain: is_launched: %w", err)
		}
		m.Launched = launched.Sign() != 0
		return nil
	})
	g.Go(func() (err error) {
		m.TotalSupply, err = r.u256(gctx, address, EntryTotalSupply)
		return err
	})
	g.Go(func() (err error) {
		m.TeamAllocation, err = r.u256(gctx, address, EntryTeamAllocation)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

// Unlaunched loads a memecoin that can still be launched.
func (r *Reader) Unlaunched(ctx context.Context, address string) (*Memecoin, error) {
	m, err := r.Memecoin(ctx, address)
	if err != nil {
		return nil, err
	}
	if m.Launched {
		return nil, ErrAlreadyLaunched
	}
	return m, nil
}

// EtherPrice returns the USD price of one ETH from the Jediswap ETH/USDC pool.
func (r *Reader) EtherPrice(ctx context.Context) (*big.Rat, error) {
	res, err := r.caller.Call(ctx, JediswapEthUsdc, EntryGetReserves, nil)
	if err != nil {
		return nil, err
	}
	if len(res) < 4 {
		return nil, fmt.Errorf("chain: get_reserves returned %d felts", len(res))
	}
	eth, err := ParseU256(res[0], res[1])
	if err != nil {
		return nil, err
	}
	usdc, err := ParseU256(res[2], res[3])
	if err != nil {
		return nil, err
	}
	if eth.Sign() == 0 {
		return nil, fmt.Errorf("chain: empty ETH reserve")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals-UsdcDecimals), nil)
	return new(big.Rat).SetFrac(new(big.Int).Mul(usdc, scale), eth), nil
}

func (r *Reader) shortString(ctx context.Context, contract, entrypoint string) (string, error) {
	res, err := r.caller.Call(ctx, contract, entrypoint, nil)
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", fmt.Errorf("chain: %s returned no data", entrypoint)
	}
	return DecodeShortString(res[0])
}

func (r *Reader) u256(ctx context.Context, contract, entrypoint string) (*big.Int, error) {
	res, err := r.caller.Call(ctx, contract, entrypoint, nil)
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("chain: %s returned %d felts", entrypoint, len(res))
	}
	return ParseU256(res[0], res[1])
}

func felt(res []string, i int) (*big.Int, error) {
	if len(res) <= i {
		return nil, fmt.Errorf("result has %d felts", len(res))
	}
	return ParseFelt(res[i])
}
