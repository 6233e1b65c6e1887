package chain

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

// MaxTeamAllocations is the number of team holders a launch accepts.
const MaxTeamAllocations = 10

// Call is one entry of a multicall, in the shape wallets expect.
type Call struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

type DeployParams struct {
	Owner  string
	Name   string
	Symbol string
	// InitialSupply is in whole tokens.
	InitialSupply *big.Int
	Salt          string
}

// DeployCall builds the factory call creating a memecoin.
func DeployCall(p DeployParams) (Call, error) {
	if !IsL2Address(p.Owner) {
		return Call{}, fmt.Errorf("chain: invalid owner address %q", p.Owner)
	}
	if p.InitialSupply == nil || p.InitialSupply.Sign() <= 0 {
		return Call{}, errors.New("chain: initial supply must be positive")
	}
	name, err := ShortString(p.Name)
	if err != nil {
		return Call{}, err
	}
	symbol, err := ShortString(p.Symbol)
	if err != nil {
		return Call{}, err
	}
	salt := p.Salt
	if salt == "" {
		if salt, err = RandomSalt(); err != nil {
			return Call{}, err
		}
	}
	low, high := U256(ToWei(p.InitialSupply))
	return Call{
		ContractAddress: FactoryAddress,
		Entrypoint:      EntryCreateMemecoin,
		Calldata:        []string{p.Owner, name, symbol, low, high, salt},
	}, nil
}

type TeamAllocation struct {
	Holder string
	// Amount is in whole tokens.
	Amount *big.Int
}

// LaunchParams carries everything the launch form collects plus the market
// data read at confirmation time.
type LaunchParams struct {
	Memecoin        *Memecoin
	AMM             AMM
	TeamAllocations []TeamAllocation
	// HoldLimit is a percentage of the supply.
	HoldLimit     float64
	AntiBotPeriod time.Duration
	// StartingMarketCap is in USD.
	StartingMarketCap float64
	// EkuboFees is a percentage, only used by Ekubo.
	EkuboFees   float64
	LockForever bool
	LockMonths  int
	EtherPrice  *big.Rat
	Now         time.Time
}

// TeamAllocationTotal sums the allocations in whole tokens.
func (p LaunchParams) TeamAllocationTotal() *big.Int {
	total := new(big.Int)
	for _, a := range p.TeamAllocations {
		total.Add(total, a.Amount)
	}
	return total
}

// LaunchCalls builds the multicall launching a memecoin on p.AMM: a quote
// token transfer (Ekubo) or approval (other AMMs) followed by the launch.
func LaunchCalls(p LaunchParams) ([]Call, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.AMM.Key == "ekubo" {
		return ekuboCalls(p)
	}
	return standardCalls(p), nil
}

func (p LaunchParams) validate() error {
	switch {
	case p.Memecoin == nil || p.Memecoin.TotalSupply == nil || p.Memecoin.TotalSupply.Sign() <= 0:
		return errors.New("chain: launch needs a memecoin with a supply")
	case p.EtherPrice == nil || p.EtherPrice.Sign() <= 0:
		return errors.New("chain: launch needs a positive ether price")
	case !(p.StartingMarketCap > 0) || math.IsInf(p.StartingMarketCap, 1):
		return errors.New("chain: starting market cap must be positive")
	case len(p.TeamAllocations) > MaxTeamAllocations:
		return fmt.Errorf("chain: at most %d team allocations", MaxTeamAllocations)
	case p.AMM.Entrypoint == "":
		return errors.New("chain: unknown AMM")
	}
	for _, a := range p.TeamAllocations {
		if !IsL2Address(a.Holder) || a.Amount == nil || a.Amount.Sign() <= 0 {
			return fmt.Errorf("chain: invalid team allocation for %q", a.Holder)
		}
	}
	return nil
}

// quoteValue is the market cap expressed in ETH.
func (p LaunchParams) quoteValue() *big.Rat {
	mcap := new(big.Rat).SetFloat64(p.StartingMarketCap)
	return mcap.Quo(mcap, p.EtherPrice)
}

// teamShare is the team allocation as a fraction of the supply.
func (p LaunchParams) teamShare() *big.Rat {
	return new(big.Rat).SetFrac(ToWei(p.TeamAllocationTotal()), p.Memecoin.TotalSupply)
}

// launchPrefix is the calldata shared by every launch entry point.
func (p LaunchParams) launchPrefix() []string {
	calldata := []string{
		p.Memecoin.Address,
		strconv.FormatInt(int64(p.AntiBotPeriod/time.Second), 10),
		strconv.FormatInt(int64(math.Round(p.HoldLimit*100)), 10),
		EthAddress,
		strconv.Itoa(len(p.TeamAllocations)),
	}
	for _, a := range p.TeamAllocations {
		calldata = append(calldata, a.Holder)
	}
	calldata = append(calldata, strconv.Itoa(len(p.TeamAllocations)))
	for _, a := range p.TeamAllocations {
		low, high := U256(ToWei(a.Amount))
		calldata = append(calldata, low, high)
	}
	return calldata
}

func ekuboCalls(p LaunchParams) ([]Call, error) {
	feeRate := new(big.Rat).SetFloat64(p.EkuboFees / 100)
	if feeRate == nil {
		return nil, fmt.Errorf("chain: invalid ekubo fees %v", p.EkuboFees)
	}

	// The team allocation is bought back from the pool at launch, fees included.
	teamQuote := p.quoteValue()
	teamQuote.Mul(teamQuote, p.teamShare())
	teamQuote.Mul(teamQuote, new(big.Rat).Add(big.NewRat(1, 1), feeRate))
	teamLow, teamHigh := U256(floorWei(teamQuote))

	price := p.quoteValue()
	price.Mul(price, new(big.Rat).SetInt(decimals))
	price.Quo(price, new(big.Rat).SetInt(p.Memecoin.TotalSupply))
	priceFloat, _ := price.Float64()
	tick := StartingTick(priceFloat)
	sign := "0"
	if tick < 0 {
		sign = "1"
	}

	fees := new(big.Rat).Mul(feeRate, new(big.Rat).SetInt(new(big.Int).Lsh(big.NewInt(1), 128)))
	calldata := append(p.launchPrefix(),
		Hex(floorInt(fees)),
		strconv.Itoa(EkuboTickSpacing),
		strconv.FormatInt(abs(tick), 10),
		sign,
		strconv.FormatInt(EkuboBound, 10),
	)

	return []Call{
		{
			ContractAddress: EthAddress,
			Entrypoint:      EntryTransfer,
			Calldata:        []string{FactoryAddress, teamLow, teamHigh},
		},
		{
			ContractAddress: FactoryAddress,
			Entrypoint:      p.AMM.Entrypoint,
			Calldata:        calldata,
		},
	}, nil
}

func standardCalls(p LaunchParams) []Call {
	// Liquidity is provided for the share of the supply not held by the team.
	quote := p.quoteValue()
	quote.Mul(quote, new(big.Rat).Sub(big.NewRat(1, 1), p.teamShare()))
	low, high := U256(floorWei(quote))

	lockUntil := int64(LiquidityLockForever)
	if !p.LockForever {
		now := p.Now
		if now.IsZero() {
			now = time.Now()
		}
		lockUntil = now.AddDate(0, p.LockMonths, 0).Unix() + MaxBlockTime
	}

	calldata := append(p.launchPrefix(), low, high, strconv.FormatInt(lockUntil, 10))
	return []Call{
		{
			ContractAddress: EthAddress,
			Entrypoint:      EntryApprove,
			Calldata:        []string{FactoryAddress, low, high},
		},
		{
			ContractAddress: FactoryAddress,
			Entrypoint:      p.AMM.Entrypoint,
			Calldata:        calldata,
		},
	}
}

func floorWei(v *big.Rat) *big.Int {
	return floorInt(new(big.Rat).Mul(v, new(big.Rat).SetInt(decimals)))
}

func floorInt(v *big.Rat) *big.Int {
	if v.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(v.Num(), v.Denom())
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
