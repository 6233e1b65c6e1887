package flows

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/yhwhpe/unrug-agent/chain"
	"github.com/yhwhpe/unrug-agent/form"
)

const LaunchFlow = "launch"

const (
	LaunchCancelledMessage = "Launch cancelled and all data has been discarded."
	LaunchErrorMessage     = "There was an error launching the meme coin. Please try again."
	LaunchPendingMessage   = "The launch has been initiated. Please sign the transaction in your wallet."
	InvalidTokenMessage    = "Invalid token address. Please provide a valid unruggable memecoin address."
	AlreadyLaunchedMessage = "This token has already been launched."
	MaxAllocationsMessage  = "Maximum of 10 team allocations reached. Moving on to the next step."
)

var (
	addressKey         = form.NewKey[string]("address")
	ammKey             = form.NewKey[string]("amm")
	teamAllocationsKey = form.NewKey[[]chain.TeamAllocation]("teamAllocations")
	addTeamKey         = form.NewKey[string]("addTeamAllocation")
	addNewTeamKey      = form.NewKey[string]("addNewTeamAllocation")
	teamAmountKey      = form.NewKey[*big.Int]("teamAllocationAmount")
	teamAddressKey     = form.NewKey[string]("teamAllocationAddress")
	holdLimitKey       = form.NewKey[float64]("holdLimit")
	antiBotKey         = form.NewKey[time.Duration]("antiBotPeriod")
	marketCapKey       = form.NewKey[float64]("startingMarketCap")
	ekuboFeesKey       = form.NewKey[float64]("ekuboFees")
	lockKey            = form.NewKey[LiquidityLock]("lockLiquidity")
	launchConfirmKey   = form.NewKey[string]("launch")
	launchWalletKey    = form.NewKey[string]("wallet")
)

func (b *Bot) launchDefinition(wallets []form.Choice) *form.Definition {
	amms := make([]form.Choice, 0, len(chain.AMMs))
	for _, amm := range chain.AMMs {
		amms = append(amms, form.Choice{Key: amm.Key, Title: amm.Name})
	}

	return form.MustDefinition(LaunchFlow, addressKey.Name(),
		form.Text(addressKey, form.TextSpec[string]{
			Prompt:   form.Static("Please enter the *address* of the token you want to launch."),
			Validate: l2Address(InvalidTokenMessage),
			Handle:   b.checkToken,
		}),
		form.Select(ammKey, form.ChoiceSpec{
			Prompt:  form.Static(ammPrompt()),
			Choices: amms,
			Handle:  form.GoTo[string](addTeamKey.Name()),
		}),
		form.Slot(teamAllocationsKey, []chain.TeamAllocation{}),
		form.Select(addTeamKey, form.ChoiceSpec{
			Prompt:  form.Static("Would you like to add team allocation? You can add up to 10 team allocations."),
			Choices: yesNo,
			Handle:  addAllocation,
		}),
		form.Select(addNewTeamKey, form.ChoiceSpec{
			Prompt:  form.Static("Would you like to add another team allocation?"),
			Choices: yesNo,
			Handle:  addAllocation,
		}),
		form.Text(teamAmountKey, form.TextSpec[*big.Int]{
			Prompt:   form.Static("Please provide the amount of tokens to allocate to the holder."),
			Validate: wholeAmount("The *Amount* is invalid. Please provide a valid number."),
			Handle:   b.checkAllocation,
		}),
		form.Text(teamAddressKey, form.TextSpec[string]{
			Prompt:   form.Static("Please provide the address of the holder."),
			Validate: l2Address("The *Address* is invalid. Please provide a valid Starknet address."),
			Handle:   storeAllocation,
		}),
		form.Text(holdLimitKey, form.TextSpec[float64]{
			Prompt:   form.Static("Please provide the hold limit between 0.5% and 100%. (1% recommended)"),
			Validate: form.NumberBetween(0.5, 100, "The *Hold Limit* must be between 0.5% and 100%."),
			Handle:   form.GoTo[float64](antiBotKey.Name()),
		}),
		form.Text(antiBotKey, form.TextSpec[time.Duration]{
			Prompt:   form.Static("When should the anti bot features be disabled? Between 00:30 - 24:00. 24:00 Recommended. (hh:mm format)"),
			Validate: clock(30*time.Minute, 24*time.Hour, "The *Anti Bot Period* must be between 00:30 and 24:00. (hh:mm format)"),
			Handle:   form.GoTo[time.Duration](marketCapKey.Name()),
		}),
		form.Text(marketCapKey, form.TextSpec[float64]{
			Prompt:   form.Static("Please provide the starting market cap (in USD) of the token. (10.000$ Recommended)"),
			Validate: marketCap("The *Starting Market Cap* is invalid. Please provide a positive number."),
			Handle: form.Branch[float64](func(v form.Values) string {
				if form.Value(v, ammKey) == "ekubo" {
					return ekuboFeesKey.Name()
				}
				return lockKey.Name()
			}),
		}),
		form.Text(ekuboFeesKey, form.TextSpec[float64]{
			Prompt:   form.Static("Please provide the Ekubo fees. (0.3% Recommended)"),
			Validate: form.NumberBetween(0.01, 2, "The *Ekubo Fees* must be between 0.01% and 2%."),
			Handle:   form.GoTo[float64](launchConfirmKey.Name()),
		}),
		form.Text(lockKey, form.TextSpec[LiquidityLock]{
			Prompt:   form.Static("How long would you like to lock the liquidity? (in months between 6 - 24) or type *forever* for permanent lock."),
			Validate: liquidityLock(6, 24, "The *Liquidity Lock* must be between 6 and 24 months, or *forever*."),
			Handle:   form.GoTo[LiquidityLock](launchConfirmKey.Name()),
		}),
		form.Select(launchConfirmKey, form.ChoiceSpec{
			Prompt:  launchInfo,
			Choices: []form.Choice{{Key: cancelKey, Title: "Cancel"}, {Key: "confirm", Title: "Launch"}},
			Handle: func(ctx context.Context, s *form.Scope, key string) (form.Outcome, error) {
				b.deleteKeyboard(ctx, s)
				if key == cancelKey {
					return form.End(LaunchCancelledMessage), nil
				}
				return form.Next(launchWalletKey.Name()), nil
			},
		}),
		form.Select(launchWalletKey, form.ChoiceSpec{
			Prompt:  form.Static("Please choose your wallet."),
			Choices: wallets,
			Handle: func(ctx context.Context, s *form.Scope, key string) (form.Outcome, error) {
				b.deleteKeyboard(ctx, s)
				if key == cancelKey {
					return form.End(LaunchCancelledMessage), nil
				}
				return form.End("").Then(b.launchTask(s.Conversation(), s.Instance().Generation(), key)), nil
			},
		}),
	)
}

func ammPrompt() string {
	var sb strings.Builder
	sb.WriteString("Please choose an AMM to launch your token.")
	for _, amm := range chain.AMMs {
		sb.WriteString("\n\n*" + amm.Name + "*: " + amm.Description)
	}
	return sb.String()
}

// checkToken only accepts factory memecoins that are not launched yet.
func (b *Bot) checkToken(ctx context.Context, _ *form.Scope, address string) (form.Outcome, error) {
	_, err := b.reader.Unlaunched(ctx, address)
	switch {
	case errors.Is(err, chain.ErrNotMemecoin):
		return form.Reject(InvalidTokenMessage), nil
	case errors.Is(err, chain.ErrAlreadyLaunched):
		return form.Reject(AlreadyLaunchedMessage), nil
	case err != nil:
		return form.Outcome{}, err
	}
	return form.Next(ammKey.Name()), nil
}

func addAllocation(_ context.Context, _ *form.Scope, key string) (form.Outcome, error) {
	if key == "yes" {
		return form.Next(teamAmountKey.Name()), nil
	}
	return form.Next(holdLimitKey.Name()), nil
}

// checkAllocation caps the team at 10% of the supply, counting the new amount.
func (b *Bot) checkAllocation(ctx context.Context, s *form.Scope, amount *big.Int) (form.Outcome, error) {
	values := s.Values()
	m, err := b.reader.Memecoin(ctx, form.Value(values, addressKey))
	if err != nil {
		return form.Outcome{}, err
	}

	total := new(big.Int).Set(amount)
	for _, a := range form.Value(values, teamAllocationsKey) {
		total.Add(total, a.Amount)
	}
	limit := new(big.Int).Quo(m.TotalSupply, big.NewInt(10))
	if chain.ToWei(total).Cmp(limit) > 0 {
		return form.Reject(fmt.Sprintf(
			"Total team allocation exceeds 10%% of total supply of the token.\n*Total Supply*: %s\n*Total Team Allocation*: %s",
			chain.FromWei(m.TotalSupply), total)), nil
	}
	return form.Next(teamAddressKey.Name()), nil
}

func storeAllocation(_ context.Context, s *form.Scope, holder string) (form.Outcome, error) {
	values := s.Values()
	current := form.Value(values, teamAllocationsKey)
	allocations := make([]chain.TeamAllocation, 0, len(current)+1)
	allocations = append(allocations, current...)
	allocations = append(allocations, chain.TeamAllocation{Holder: holder, Amount: form.Value(values, teamAmountKey)})

	form.Stage(s, teamAllocationsKey, allocations)
	s.Unset(teamAmountKey.Name())
	s.Unset(teamAddressKey.Name())

	if len(allocations) >= chain.MaxTeamAllocations {
		return form.Next(holdLimitKey.Name()).WithMessage(MaxAllocationsMessage), nil
	}
	return form.Next(addNewTeamKey.Name()), nil
}

func launchInfo(v form.Values) string {
	amm, _ := chain.FindAMM(form.Value(v, ammKey))
	allocations := form.Value(v, teamAllocationsKey)
	antiBot := form.Value(v, antiBotKey)

	var sb strings.Builder
	sb.WriteString("*AMM*: " + amm.Name + "\n")
	fmt.Fprintf(&sb, "*Team Allocations*: %d\n", len(allocations))
	for _, a := range allocations {
		sb.WriteString("*  Amount*: " + a.Amount.String() + "\n")
		sb.WriteString("*  Address*: " + a.Holder + "\n\n")
	}
	sb.WriteString("*Hold Limit*: " + formatNumber(form.Value(v, holdLimitKey)) + "%\n")
	fmt.Fprintf(&sb, "*Disable Antibot After*: %d:%02d\n", int(antiBot.Hours()), int(antiBot.Minutes())%60)
	sb.WriteString("*Starting Market Cap*: $" + formatNumber(form.Value(v, marketCapKey)) + "\n")
	if amm.Key == "ekubo" {
		sb.WriteString("*Ekubo Fees*: " + formatNumber(form.Value(v, ekuboFeesKey)) + "%")
	} else {
		sb.WriteString("*Liquidity Lock*: " + form.Value(v, lockKey).String())
	}
	return sb.String()
}

// launchTask connects the chosen wallet, reads fresh supply and price data and
// submits the launch multicall.
func (b *Bot) launchTask(conv, generation, selector string) form.Task {
	return func(ctx context.Context, values form.Values) {
		adapter, account, ok := b.connect(ctx, conv, LaunchFlow, generation, selector)
		if !ok {
			return
		}
		b.say(ctx, conv, ApproveMessage)

		hash, err := b.submitLaunch(ctx, adapter, account, values)
		b.chainAction(ctx, conv, LaunchFlow, generation, hash, err)

		switch {
		case errors.Is(err, chain.ErrActionNeeded):
			b.say(ctx, conv, LaunchPendingMessage+"\n"+launchInfo(values))
		case err != nil:
			b.say(ctx, conv, LaunchErrorMessage)
		default:
			b.say(ctx, conv, "Memecoin launched.\n*Transaction*: `"+hash+"`\n"+launchInfo(values))
		}
	}
}

func (b *Bot) submitLaunch(ctx context.Context, w chain.Requester, account string, values form.Values) (string, error) {
	m, err := b.reader.Unlaunched(ctx, form.Value(values, addressKey))
	if err != nil {
		return "", err
	}
	price, err := b.reader.EtherPrice(ctx)
	if err != nil {
		return "", err
	}
	amm, _ := chain.FindAMM(form.Value(values, ammKey))
	lock := form.Value(values, lockKey)

	calls, err := chain.LaunchCalls(chain.LaunchParams{
		Memecoin:          m,
		AMM:               amm,
		TeamAllocations:   form.Value(values, teamAllocationsKey),
		HoldLimit:         form.Value(values, holdLimitKey),
		AntiBotPeriod:     form.Value(values, antiBotKey),
		StartingMarketCap: form.Value(values, marketCapKey),
		EkuboFees:         form.Value(values, ekuboFeesKey),
		LockForever:       lock.Forever,
		LockMonths:        lock.Months,
		EtherPrice:        price,
		Now:               b.now(),
	})
	if err != nil {
		return "", err
	}
	return chain.Invoke(ctx, w, account, calls)
}
