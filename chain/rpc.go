package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/bytedance/sonic"
)

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Node error codes we branch on.
const (
	CodeContractNotFound = 20
	CodeContractError    = 40
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

type callParams struct {
	Request functionCall `json:"request"`
	BlockID string       `json:"block_id"`
}

// RPCClient reads contract state from a Starknet JSON-RPC node.
type RPCClient struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

func NewRPCClient(url string, httpClient *http.Client) (*RPCClient, error) {
	if url == "" {
		return nil, fmt.Errorf("chain: rpc url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RPCClient{url: url, httpClient: httpClient}, nil
}

// Call runs a view entry point against the latest block and returns the raw
// result felts.
func (c *RPCClient) Call(ctx context.Context, contract, entrypoint string, calldata []string) ([]string, error) {
	if calldata == nil {
		calldata = []string{}
	}
	raw, err := c.do(ctx, "starknet_call", callParams{
		Request: functionCall{
			ContractAddress:    contract,
			EntryPointSelector: Selector(entrypoint),
			Calldata:           calldata,
		},
		BlockID: "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", entrypoint, contract, err)
	}
	var result []string
	if err := sonic.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("chain: failed to parse %s result: %w", entrypoint, err)
	}
	return result, nil
}

func (c *RPCClient) do(ctx context.Context, method string, params any) (json.RawMessage, error) {
	encoded, err := sonic.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected %d response: %s", response.StatusCode, string(body))
	}

	var decoded rpcResponse
	if err := sonic.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	return decoded.Result, nil
}
