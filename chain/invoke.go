package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/yhwhpe/unrug-agent/wallet"
)

const MethodAddInvokeTransaction = "starknet_requestAddInvokeTransaction"

// ErrActionNeeded means the wallet queued the transaction and the user still
// has to sign it on the device.
var ErrActionNeeded = errors.New("chain: wallet action needed")

// Requester forwards wallet RPC requests. wallet.Adapter implements it.
type Requester interface {
	Request(ctx context.Context, req wallet.Request) ([]byte, error)
}

type invokeParams struct {
	AccountAddress   string           `json:"accountAddress"`
	ExecutionRequest executionRequest `json:"executionRequest"`
}

type executionRequest struct {
	Calls []Call `json:"calls"`
}

type invokeResult struct {
	TransactionHash string `json:"transaction_hash"`
	Error           string `json:"error,omitempty"`
}

// Invoke asks the wallet to sign and submit calls from account and returns
// the transaction hash.
func Invoke(ctx context.Context, w Requester, account string, calls []Call) (string, error) {
	raw, err := w.Request(ctx, wallet.Request{
		Method: MethodAddInvokeTransaction,
		Params: invokeParams{
			AccountAddress:   account,
			ExecutionRequest: executionRequest{Calls: calls},
		},
	})
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrActionNeeded
	}
	var result invokeResult
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("chain: failed to parse invoke result: %w", err)
	}
	if result.Error == "action_needed" || (result.Error == "" && result.TransactionHash == "") {
		return "", ErrActionNeeded
	}
	if result.Error != "" {
		return "", fmt.Errorf("chain: invoke failed: %s", result.Error)
	}
	return result.TransactionHash, nil
}
