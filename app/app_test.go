package app

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/chain"
	"github.com/yhwhpe/unrug-agent/communicator"
	"github.com/yhwhpe/unrug-agent/config"
	"github.com/yhwhpe/unrug-agent/events"
	"github.com/yhwhpe/unrug-agent/flows"
	"github.com/yhwhpe/unrug-agent/saga"
	"github.com/yhwhpe/unrug-agent/telegram"
	"github.com/yhwhpe/unrug-agent/wallet"
)

type scriptedTransport struct {
	events []events.Event
	err    error
}

func (t *scriptedTransport) Run(ctx context.Context, s telegram.Submitter) error {
	for _, ev := range t.events {
		s.Submit(ctx, ev)
	}
	if t.err != nil {
		return t.err
	}
	<-ctx.Done()
	return nil
}

func (t *scriptedTransport) Ready(context.Context) error { return nil }

type noChain struct{}

func (noChain) Memecoin(context.Context, string) (*chain.Memecoin, error) {
	return nil, chain.ErrNotMemecoin
}

func (noChain) Unlaunched(context.Context, string) (*chain.Memecoin, error) {
	return nil, chain.ErrNotMemecoin
}

func (noChain) EtherPrice(context.Context) (*big.Rat, error) { return big.NewRat(2000, 1), nil }

type noWallet struct{}

func (noWallet) Connect(context.Context, string, string) (wallet.Adapter, error) {
	return nil, wallet.ErrUserRejected
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Port = "0"
	return cfg
}

func newTestApp(t *testing.T, transport *scriptedTransport, rec *communicator.Recorder) *App {
	t.Helper()
	a, err := New(testConfig(), Deps{
		Transport: transport,
		Messenger: rec,
		Journal:   saga.NewMemoryLogger(zap.NewNop()),
		Reader:    noChain{},
		Connector: noWallet{},
	})
	require.NoError(t, err)
	return a
}

func TestRunServesCommandsAndDrains(t *testing.T) {
	rec := communicator.NewRecorder()
	transport := &scriptedTransport{events: []events.Event{
		events.FromText("42", "/start"),
		events.FromText("7", "/unrug 0x1234"),
	}}
	a := newTestApp(t, transport, rec)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rec.Texts("42")) == 1 && len(rec.Texts("7")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{flows.StartMessage}, rec.Texts("42"))
	assert.Contains(t, rec.Texts("7")[0], "not valid Starknet address")

	resp := httptest.NewRecorder()
	a.Router().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsTransportError(t *testing.T) {
	a := newTestApp(t, &scriptedTransport{err: errors.New("broker gone")}, communicator.NewRecorder())
	err := a.Run(t.Context())
	assert.EqualError(t, err, "broker gone")
}

func TestRouter(t *testing.T) {
	a := newTestApp(t, &scriptedTransport{}, communicator.NewRecorder())
	router := a.Router()

	tests := []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
	}
	for _, test := range tests {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, test.path, nil))
		assert.Equal(t, test.code, resp.Code, test.path)
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.EqualError(t, err, "config is nil")
}
