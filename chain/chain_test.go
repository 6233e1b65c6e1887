package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhwhpe/unrug-agent/wallet"
)

const coinAddress = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestSelector(t *testing.T) {
	assert.Equal(t, "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e", Selector("transfer"))
}

func TestShortString(t *testing.T) {
	felt, err := ShortString("ETH")
	require.NoError(t, err)
	assert.Equal(t, "0x455448", felt)

	s, err := DecodeShortString(felt)
	require.NoError(t, err)
	assert.Equal(t, "ETH", s)

	_, err = ShortString("this name is far too long for a single felt")
	assert.Error(t, err)
	_, err = ShortString("émoji")
	assert.Error(t, err)
}

func TestU256(t *testing.T) {
	v := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(5))
	low, high := U256(v)
	assert.Equal(t, "0x5", low)
	assert.Equal(t, "0x1", high)

	back, err := ParseU256(low, high)
	require.NoError(t, err)
	assert.Zero(t, v.Cmp(back))
}

func TestIsL2Address(t *testing.T) {
	assert.True(t, IsL2Address(coinAddress))
	assert.True(t, IsL2Address(EthAddress))
	assert.False(t, IsL2Address("0x71C7656EC7ab88b098defB751B7401B5f6d8976F"))
	assert.False(t, IsL2Address("hello"))
}

func TestStartingTick(t *testing.T) {
	assert.Equal(t, int64(88719042), EkuboBound)
	assert.Equal(t, int64(0), StartingTick(1))
	assert.Equal(t, int64(-693912), StartingTick(0.5))
}

func TestDeployCall(t *testing.T) {
	call, err := DeployCall(DeployParams{
		Owner:         coinAddress,
		Name:          "Doge",
		Symbol:        "DOGE",
		InitialSupply: big.NewInt(1000),
		Salt:          "0x42",
	})
	require.NoError(t, err)
	assert.Equal(t, FactoryAddress, call.ContractAddress)
	assert.Equal(t, EntryCreateMemecoin, call.Entrypoint)
	assert.Equal(t, []string{coinAddress, "0x446f6765", "0x444f4745", "0x3635c9adc5dea00000", "0x0", "0x42"}, call.Calldata)

	_, err = DeployCall(DeployParams{Owner: "0x1", Name: "a", Symbol: "b", InitialSupply: big.NewInt(1)})
	assert.Error(t, err)
}

func launchFixture() LaunchParams {
	return LaunchParams{
		Memecoin: &Memecoin{
			Address:     coinAddress,
			TotalSupply: ToWei(big.NewInt(1_000_000)),
		},
		TeamAllocations:   []TeamAllocation{{Holder: coinAddress, Amount: big.NewInt(10_000)}},
		HoldLimit:         1,
		AntiBotPeriod:     24 * time.Hour,
		StartingMarketCap: 10_000,
		EtherPrice:        big.NewRat(2000, 1),
		Now:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func u256Args(v *big.Int) []string {
	low, high := U256(v)
	return []string{low, high}
}

func TestLaunchCallsEkubo(t *testing.T) {
	p := launchFixture()
	p.AMM, _ = FindAMM("ekubo")
	p.EkuboFees = 50

	calls, err := LaunchCalls(p)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	// 10k USD at 2k USD/ETH is 5 ETH; the team holds 1% plus 50% fees.
	assert.Equal(t, EthAddress, calls[0].ContractAddress)
	assert.Equal(t, EntryTransfer, calls[0].Entrypoint)
	assert.Equal(t, append([]string{FactoryAddress}, u256Args(big.NewInt(75_000_000_000_000_000))...), calls[0].Calldata)

	want := []string{coinAddress, "86400", "100", EthAddress, "1", coinAddress, "1"}
	want = append(want, u256Args(ToWei(big.NewInt(10_000)))...)
	want = append(want, "0x80000000000000000000000000000000", "5982", "12209262", "1", "88719042")
	assert.Equal(t, FactoryAddress, calls[1].ContractAddress)
	assert.Equal(t, EntryLaunchOnEkubo, calls[1].Entrypoint)
	assert.Equal(t, want, calls[1].Calldata)
}

func TestLaunchCallsStandard(t *testing.T) {
	p := launchFixture()
	p.AMM, _ = FindAMM("jediswap")
	p.LockMonths = 6

	calls, err := LaunchCalls(p)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	quote := u256Args(big.NewInt(4_950_000_000_000_000_000))
	assert.Equal(t, EntryApprove, calls[0].Entrypoint)
	assert.Equal(t, append([]string{FactoryAddress}, quote...), calls[0].Calldata)

	lockUntil := p.Now.AddDate(0, 6, 0).Unix() + MaxBlockTime
	data := calls[1].Calldata
	assert.Equal(t, EntryLaunchOnJediswap, calls[1].Entrypoint)
	assert.Equal(t, quote, data[len(data)-3:len(data)-1])
	assert.Equal(t, big.NewInt(lockUntil).String(), data[len(data)-1])

	p.LockForever = true
	calls, err = LaunchCalls(p)
	require.NoError(t, err)
	data = calls[1].Calldata
	assert.Equal(t, "9999999999", data[len(data)-1])
}

func TestLaunchCallsRejectsBadParams(t *testing.T) {
	p := launchFixture()
	_, err := LaunchCalls(p)
	assert.Error(t, err, "no AMM")

	p.AMM, _ = FindAMM("starkdefi")
	p.EtherPrice = nil
	_, err = LaunchCalls(p)
	assert.Error(t, err)

	p = launchFixture()
	p.AMM, _ = FindAMM("starkdefi")
	for i := 0; i < MaxTeamAllocations; i++ {
		p.TeamAllocations = append(p.TeamAllocations, TeamAllocation{Holder: coinAddress, Amount: big.NewInt(1)})
	}
	_, err = LaunchCalls(p)
	assert.Error(t, err)
}

type fakeCaller map[string][]string

func (f fakeCaller) Call(_ context.Context, contract, entrypoint string, _ []string) ([]string, error) {
	res, ok := f[entrypoint]
	if !ok {
		return nil, &RPCError{Code: CodeContractError, Message: "no entry point " + entrypoint + " on " + contract}
	}
	return res, nil
}

func TestReaderMemecoin(t *testing.T) {
	name, _ := ShortString("Doge")
	symbol, _ := ShortString("DOGE")
	supply := u256Args(ToWei(big.NewInt(1_000_000)))
	team := u256Args(ToWei(big.NewInt(50_000)))
	r := NewReader(fakeCaller{
		EntryIsMemecoin:     {"0x1"},
		EntryName:           {name},
		EntrySymbol:         {symbol},
		EntryOwner:          {coinAddress},
		EntryIsLaunched:     {"0x1"},
		EntryTotalSupply:    supply,
		EntryTeamAllocation: team,
	}, "")

	m, err := r.Memecoin(context.Background(), coinAddress)
	require.NoError(t, err)
	assert.Equal(t, "Doge", m.Name)
	assert.Equal(t, "DOGE", m.Symbol)
	assert.Equal(t, "0x123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", m.Owner)
	assert.True(t, m.Launched)
	assert.InDelta(t, 5.0, m.TeamAllocationPercent(), 1e-9)
}

func TestReaderNotMemecoin(t *testing.T) {
	r := NewReader(fakeCaller{EntryIsMemecoin: {"0x0"}}, "")
	_, err := r.Memecoin(context.Background(), coinAddress)
	assert.ErrorIs(t, err, ErrNotMemecoin)
}

func TestReaderEtherPrice(t *testing.T) {
	eth := u256Args(ToWei(big.NewInt(10)))
	usdc := u256Args(big.NewInt(20_000_000_000))
	r := NewReader(fakeCaller{EntryGetReserves: append(append(eth, usdc...), "0x65")}, "")

	price, err := r.EtherPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2000", price.RatString())
}

func TestRPCClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Request functionCall `json:"request"`
				BlockID string       `json:"block_id"`
			} `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "starknet_call", req.Method)
		assert.Equal(t, "latest", req.Params.BlockID)
		if req.Params.Request.EntryPointSelector != Selector(EntryName) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":40,"message":"Contract error"}}`))
			return
		}
		assert.Equal(t, coinAddress, req.Params.Request.ContractAddress)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":["0x446f6765"]}`))
	}))
	defer srv.Close()

	c, err := NewRPCClient(srv.URL, nil)
	require.NoError(t, err)

	res, err := c.Call(context.Background(), coinAddress, EntryName, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x446f6765"}, res)

	_, err = c.Call(context.Background(), coinAddress, EntrySymbol, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeContractError, rpcErr.Code)
}

type fakeRequester struct {
	result []byte
	err    error
	got    wallet.Request
}

func (f *fakeRequester) Request(_ context.Context, req wallet.Request) ([]byte, error) {
	f.got = req
	return f.result, f.err
}

func TestInvoke(t *testing.T) {
	calls := []Call{{ContractAddress: FactoryAddress, Entrypoint: EntryCreateMemecoin, Calldata: []string{"0x1"}}}

	w := &fakeRequester{result: []byte(`{"transaction_hash":"0xabc"}`)}
	hash, err := Invoke(context.Background(), w, coinAddress, calls)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash)
	assert.Equal(t, MethodAddInvokeTransaction, w.got.Method)
	params := w.got.Params.(invokeParams)
	assert.Equal(t, coinAddress, params.AccountAddress)
	assert.Equal(t, calls, params.ExecutionRequest.Calls)

	_, err = Invoke(context.Background(), &fakeRequester{result: []byte(`{"error":"action_needed"}`)}, coinAddress, calls)
	assert.ErrorIs(t, err, ErrActionNeeded)

	_, err = Invoke(context.Background(), &fakeRequester{result: []byte("null")}, coinAddress, calls)
	assert.ErrorIs(t, err, ErrActionNeeded)

	_, err = Invoke(context.Background(), &fakeRequester{err: wallet.ErrUserRejected}, coinAddress, calls)
	assert.True(t, errors.Is(err, wallet.ErrUserRejected))
}

func TestReaderUnlaunched(t *testing.T) {
	supply := u256Args(ToWei(big.NewInt(1)))
	caller := fakeCaller{
		EntryIsMemecoin:     {"0x1"},
		EntryName:           {"0x41"},
		EntrySymbol:         {"0x41"},
		EntryOwner:          {"0x1"},
		EntryIsLaunched:     {"0x1"},
		EntryTotalSupply:    supply,
		EntryTeamAllocation: []string{"0x0", "0x0"},
	}
	_, err := NewReader(caller, "").Unlaunched(context.Background(), coinAddress)
	assert.ErrorIs(t, err, ErrAlreadyLaunched)

	caller[EntryIsLaunched] = []string{"0x0"}
	m, err := NewReader(caller, "").Unlaunched(context.Background(), coinAddress)
	require.NoError(t, err)
	assert.Equal(t, "A", m.Name)
	assert.Zero(t, m.TeamAllocationPercent())
}
