package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yhwhpe/unrug-agent/wallet/bridge"
)

type fakeBridge struct {
	polls   atomic.Int32
	reason  string
	deleted atomic.Bool
	gone    atomic.Bool
}

func (b *fakeBridge) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/pairings", func(w http.ResponseWriter, r *http.Request) {
		var req bridge.PairingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"starknet:SNMAIN"}, req.Chains)
		_ = json.NewEncoder(w).Encode(bridge.Pairing{Topic: "p1", URI: "wc:abc@2?relay-protocol=irn&symKey=k"})
	})
	mux.HandleFunc("GET /v1/pairings/p1/approval", func(w http.ResponseWriter, _ *http.Request) {
		if b.polls.Add(1) < 2 {
			_ = json.NewEncoder(w).Encode(bridge.Approval{Status: bridge.StatusPending})
			return
		}
		if b.reason != "" {
			_ = json.NewEncoder(w).Encode(bridge.Approval{Status: bridge.StatusRejected, Reason: b.reason})
			return
		}
		_ = json.NewEncoder(w).Encode(bridge.Approval{
			Status: bridge.StatusApproved,
			Session: &bridge.Session{
				Topic:    "s1",
				Accounts: []string{"starknet:SNMAIN:0x0123"},
				Chains:   []string{"starknet:SNMAIN"},
			},
		})
	})
	mux.HandleFunc("POST /v1/sessions/s1/request", func(w http.ResponseWriter, r *http.Request) {
		if b.gone.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req bridge.SessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "starknet_requestAddInvokeTransaction", req.Method)
		_, _ = w.Write([]byte(`{"result":{"transaction_hash":"0xfeed"}}`))
	})
	mux.HandleFunc("DELETE /v1/sessions/s1", func(w http.ResponseWriter, _ *http.Request) {
		b.deleted.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newArgent(t *testing.T, fb *fakeBridge) Adapter {
	t.Helper()
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)
	client, err := bridge.NewClient(bridge.Config{BaseURL: srv.URL, PollInterval: time.Millisecond})
	require.NoError(t, err)
	return Argent(client)("SN_MAIN")
}

func TestArgentHandshake(t *testing.T) {
	fb := &fakeBridge{}
	a := newArgent(t, fb)
	ctx := context.Background()
	require.NoError(t, a.Init(ctx))

	pairing, err := a.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "argent://app/wc?uri=wc%3Aabc%402%3Frelay-protocol%3Dirn%26symKey%3Dk&device=mobile", pairing.QRURL)
	assert.Equal(t, "https://unruggable.meme/wallet-redirect/"+encodeURIComponent(pairing.QRURL), pairing.ButtonURL)

	session, err := pairing.WaitForApproval(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x0123"}, session.Accounts)
	assert.True(t, a.Connected())
	assert.Equal(t, []string{"0x0123"}, a.Accounts())
	assert.GreaterOrEqual(t, fb.polls.Load(), int32(2))

	result, err := a.Request(ctx, Request{Method: "starknet_requestAddInvokeTransaction", Params: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"transaction_hash":"0xfeed"}`, string(result))

	var topics []string
	a.OnDisconnect(func(topic string) { topics = append(topics, topic) })
	require.NoError(t, a.Disconnect(ctx))
	assert.True(t, fb.deleted.Load())
	assert.False(t, a.Connected())
	assert.Equal(t, []string{"s1"}, topics)
}

func TestArgentRejectionCarriesTag(t *testing.T) {
	a := newArgent(t, &fakeBridge{reason: TagWrongChain})
	pairing, err := a.Connect(context.Background())
	require.NoError(t, err)

	_, err = pairing.WaitForApproval(context.Background())
	assert.ErrorIs(t, err, ErrWrongChain)
	assert.False(t, a.Connected())
}

func TestArgentLostSessionDisconnects(t *testing.T) {
	fb := &fakeBridge{}
	a := newArgent(t, fb)
	ctx := context.Background()
	pairing, err := a.Connect(ctx)
	require.NoError(t, err)
	_, err = pairing.WaitForApproval(ctx)
	require.NoError(t, err)

	fired := make(chan string, 1)
	a.OnDisconnect(func(topic string) { fired <- topic })
	fb.gone.Store(true)

	_, err = a.Request(ctx, Request{Method: "starknet_requestAddInvokeTransaction"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "s1", <-fired)
	assert.False(t, a.Connected())
}

func TestArgentRequestWithoutSession(t *testing.T) {
	a := newArgent(t, &fakeBridge{})
	_, err := a.Request(context.Background(), Request{Method: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEncodeURIComponent(t *testing.T) {
	assert.Equal(t, "a%20b!'()*~-_.", encodeURIComponent("a b!'()*~-_."))
	assert.Equal(t, "wc%3Ax%40y%3Fz%3D1%26w%2F", encodeURIComponent("wc:x@y?z=1&w/"))
}
