// Package bridge is a client for the wallet pairing bridge, a sidecar that
// speaks the wallet-connect relay protocol on our behalf and exposes pairings
// and sessions over plain HTTP.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Approval statuses reported by the bridge.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ErrSessionNotFound is returned when the bridge no longer knows a session,
// which means the wallet side disconnected.
var ErrSessionNotFound = errors.New("bridge: session not found")

// Error is a non-2xx bridge response.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

type PairingRequest struct {
	Chains  []string `json:"chains"`
	Methods []string `json:"methods"`
	Events  []string `json:"events,omitempty"`
}

type Pairing struct {
	Topic string `json:"topic"`
	URI   string `json:"uri"`
}

type Peer struct {
	PublicKey string `json:"publicKey"`
}

type Session struct {
	Topic    string   `json:"topic"`
	Accounts []string `json:"accounts"`
	Chains   []string `json:"chains"`
	Methods  []string `json:"methods"`
	Self     Peer     `json:"self"`
	Peer     Peer     `json:"peer"`
}

// Approval is the state of a pairing. Session is set once approved; Reason
// carries the wallet's error tag when rejected.
type Approval struct {
	Status  string   `json:"status"`
	Session *Session `json:"session,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

type SessionRequest struct {
	Chain  string `json:"chainId"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type sessionResponse struct {
	Result json.RawMessage `json:"result"`
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// PollInterval is the pause between approval polls when the bridge answers
	// "pending" immediately. Defaults to one second.
	PollInterval time.Duration
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("bridge: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("bridge: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	poll := config.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		httpClient:   httpClient,
		pollInterval: poll,
	}, nil
}

// CreatePairing asks the bridge for a new pairing URI.
func (c *Client) CreatePairing(ctx context.Context, request PairingRequest) (*Pairing, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/pairings", request)
	if err != nil {
		return nil, fmt.Errorf("bridge: create pairing failed: %w", err)
	}
	var pairing Pairing
	if err := sonic.Unmarshal(body, &pairing); err != nil {
		return nil, fmt.Errorf("bridge: failed to parse pairing: %w", err)
	}
	if pairing.URI == "" || pairing.Topic == "" {
		return nil, fmt.Errorf("bridge: pairing response is missing uri or topic")
	}
	return &pairing, nil
}

// WaitForApproval long-polls the pairing until the wallet approves or rejects
// it, the pairing expires, or ctx is done.
func (c *Client) WaitForApproval(ctx context.Context, topic string) (*Approval, error) {
	path := "/v1/pairings/" + url.PathEscape(topic) + "/approval"
	for {
		body, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("bridge: approval poll failed: %w", err)
		}
		var approval Approval
		if err := sonic.Unmarshal(body, &approval); err != nil {
			return nil, fmt.Errorf("bridge: failed to parse approval: %w", err)
		}
		if approval.Status != StatusPending {
			return &approval, nil
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Request forwards a JSON-RPC request to the wallet over an approved session
// and returns the raw result.
func (c *Client) Request(ctx context.Context, topic string, request SessionRequest) ([]byte, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(topic)+"/request", request)
	if err != nil {
		return nil, fmt.Errorf("bridge: session request %s failed: %w", request.Method, err)
	}
	var response sessionResponse
	if err := sonic.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("bridge: failed to parse session response: %w", err)
	}
	return []byte(response.Result), nil
}

// DeleteSession disconnects an approved session.
func (c *Client) DeleteSession(ctx context.Context, topic string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(topic), nil); err != nil {
		return fmt.Errorf("bridge: delete session failed: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := sonic.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	if response.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v1/sessions/") {
		return nil, ErrSessionNotFound
	}

	var bridgeErr Error
	if jsonErr := sonic.Unmarshal(responseBody, &bridgeErr); jsonErr != nil {
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	bridgeErr.StatusCode = response.StatusCode
	return nil, &bridgeErr
}
