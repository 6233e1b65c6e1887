package flows

import (
	"context"
	"errors"
	"math/big"

	"github.com/yhwhpe/unrug-agent/chain"
	"github.com/yhwhpe/unrug-agent/form"
)

const DeployFlow = "deploy"

const (
	DeployCancelledMessage = "Deployment cancelled."
	DeployErrorMessage     = "There was an error deploying the meme coin. Please try again."
	DeployPendingMessage   = "The deployment has been initiated. Please sign the transaction in your wallet."
)

var (
	nameKey          = form.NewKey[string]("name")
	symbolKey        = form.NewKey[string]("symbol")
	ownerKey         = form.NewKey[string]("ownerAddress")
	supplyKey        = form.NewKey[*big.Int]("initialSupply")
	deployConfirmKey = form.NewKey[string]("deploy")
	walletKey        = form.NewKey[string]("wallet")
)

func (b *Bot) deployDefinition(wallets []form.Choice) *form.Definition {
	return form.MustDefinition(DeployFlow, nameKey.Name(),
		form.Text(nameKey, form.TextSpec[string]{
			Prompt:   form.Static("Please provide the *Name* of the coin you want to deploy."),
			Validate: form.Length(2, 256, "Name"),
			Handle:   form.GoTo[string](symbolKey.Name()),
		}),
		form.Text(symbolKey, form.TextSpec[string]{
			Prompt:   form.Static("Please provide the *Symbol* of the coin you want to deploy."),
			Validate: form.Length(2, 256, "Symbol"),
			Handle:   form.GoTo[string](ownerKey.Name()),
		}),
		form.Text(ownerKey, form.TextSpec[string]{
			Prompt:   form.Static("Please provide the *Owner Address* of the coin."),
			Validate: l2Address("The *Owner Address* is invalid. Please provide a valid Starknet address."),
			Handle:   form.GoTo[string](supplyKey.Name()),
		}),
		form.Text(supplyKey, form.TextSpec[*big.Int]{
			Prompt:   form.Static("Please provide the *Initial Supply* of the coin."),
			Validate: wholeAmount("The *Initial Supply* is invalid. Please provide a valid number."),
			Handle:   form.GoTo[*big.Int](deployConfirmKey.Name()),
		}),
		form.Select(deployConfirmKey, form.ChoiceSpec{
			Prompt: func(v form.Values) string {
				return "Here's a summary of the data you've provided.\n" + deploySummary(v)
			},
			Choices: []form.Choice{{Key: cancelKey, Title: "Cancel"}, {Key: "deploy", Title: "Deploy"}},
			Handle: func(ctx context.Context, s *form.Scope, key string) (form.Outcome, error) {
				b.deleteKeyboard(ctx, s)
				if key == cancelKey {
					return form.End(DeployCancelledMessage), nil
				}
				return form.Next(walletKey.Name()), nil
			},
		}),
		form.Select(walletKey, form.ChoiceSpec{
			Prompt:  form.Static("Please choose your wallet."),
			Choices: wallets,
			Handle: func(ctx context.Context, s *form.Scope, key string) (form.Outcome, error) {
				b.deleteKeyboard(ctx, s)
				if key == cancelKey {
					return form.End(DeployCancelledMessage), nil
				}
				return form.End("").Then(b.deployTask(s.Conversation(), s.Instance().Generation(), key)), nil
			},
		}),
	)
}

func deploySummary(v form.Values) string {
	supply := ""
	if s := form.Value(v, supplyKey); s != nil {
		supply = s.String()
	}
	return "*Name*: " + form.Value(v, nameKey) + "\n" +
		"*Symbol*: " + form.Value(v, symbolKey) + "\n" +
		"*Owner Address*: " + form.Value(v, ownerKey) + "\n" +
		"*Initial Supply*: " + supply
}

// deployTask connects the chosen wallet and submits the factory call.
func (b *Bot) deployTask(conv, generation, selector string) form.Task {
	return func(ctx context.Context, values form.Values) {
		adapter, account, ok := b.connect(ctx, conv, DeployFlow, generation, selector)
		if !ok {
			return
		}
		b.say(ctx, conv, ApproveMessage)

		var hash string
		call, err := chain.DeployCall(chain.DeployParams{
			Owner:         form.Value(values, ownerKey),
			Name:          form.Value(values, nameKey),
			Symbol:        form.Value(values, symbolKey),
			InitialSupply: form.Value(values, supplyKey),
		})
		if err == nil {
			hash, err = chain.Invoke(ctx, adapter, account, []chain.Call{call})
		}
		b.chainAction(ctx, conv, DeployFlow, generation, hash, err)

		switch {
		case errors.Is(err, chain.ErrActionNeeded):
			b.say(ctx, conv, DeployPendingMessage+"\n"+deploySummary(values))
		case err != nil:
			b.say(ctx, conv, DeployErrorMessage)
		default:
			b.say(ctx, conv, "Memecoin deployed.\n*Transaction*: `"+hash+"`\n"+deploySummary(values))
		}
	}
}
