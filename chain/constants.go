package chain

import "math"

// Mainnet deployment.
const (
	FactoryAddress  = "0x01a46467a9246f45c8c340f1f155266a26a71c07bd55d36e8d1c7d0d438a2dbc"
	TokenClassHash  = "0x063ee878d3559583ceae80372c6088140e1180d9893aa65fbefc81f45ddaaa17"
	EthAddress      = "0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
	JediswapEthUsdc = "0x04d0390b777b424e43839cd1e744799f3de6c176c7e32c1812a41dbd9c19db6a"
)

// Entry points.
const (
	EntryCreateMemecoin    = "create_memecoin"
	EntryIsMemecoin        = "is_memecoin"
	EntryName              = "name"
	EntrySymbol            = "symbol"
	EntryIsLaunched        = "is_launched"
	EntryTeamAllocation    = "get_team_allocation"
	EntryTotalSupply       = "total_supply"
	EntryOwner             = "owner"
	EntryLaunchOnJediswap  = "launch_on_jediswap"
	EntryLaunchOnEkubo     = "launch_on_ekubo"
	EntryLaunchOnStarkDeFi = "launch_on_starkdefi"
	EntryApprove           = "approve"
	EntryTransfer          = "transfer"
	EntryGetReserves       = "get_reserves"
)

const (
	Decimals     = 18
	UsdcDecimals = 6

	// LiquidityLockForever is the unlock timestamp of a permanent lock (year 2286).
	LiquidityLockForever = 9999999999
	// MaxBlockTime pads lock timestamps against block time drift, in seconds.
	MaxBlockTime = 2 * 3600

	EkuboTickSize = 1.000001
	// EkuboTickSpacing is log(1 + 0.6%) / log(EkuboTickSize).
	EkuboTickSpacing = 5982
)

// EkuboBound is the tick of the maximum Ekubo price, 2^128.
var EkuboBound = StartingTick(math.Pow(2, 128))

// AMM describes a launch venue.
type AMM struct {
	Key         string
	Name        string
	Description string
	Entrypoint  string
}

// AMMs in the order they are offered.
var AMMs = []AMM{
	{
		Key:         "ekubo",
		Name:        "Ekubo",
		Description: "Most efficient AMM ever, you can launch your token without having to provide liquidity and can collect fees.",
		Entrypoint:  EntryLaunchOnEkubo,
	},
	{
		Key:         "jediswap",
		Name:        "Jediswap",
		Description: "Widely supported AMM, team allocation will be free but you have to provide liquidity and can't collect fees.",
		Entrypoint:  EntryLaunchOnJediswap,
	},
	{
		Key:         "starkdefi",
		Name:        "StarkDeFi",
		Description: "Team allocation will be free but you have to provide liquidity and can't collect fees.",
		Entrypoint:  EntryLaunchOnStarkDeFi,
	},
}

// FindAMM looks an AMM up by key.
func FindAMM(key string) (AMM, bool) {
	for _, amm := range AMMs {
		if amm.Key == key {
			return amm, true
		}
	}
	return AMM{}, false
}

// StartingTick converts a price into the closest lower Ekubo tick aligned on
// the tick spacing.
func StartingTick(price float64) int64 {
	return int64(math.Floor(math.Log(price)/math.Log(EkuboTickSize)/EkuboTickSpacing)) * EkuboTickSpacing
}
