// Package app wires the bot: chat transport, messenger, flow journal, wallet
// connector, chain reader, dispatcher and flows.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yhwhpe/unrug-agent/chain"
	"github.com/yhwhpe/unrug-agent/communicator"
	"github.com/yhwhpe/unrug-agent/config"
	"github.com/yhwhpe/unrug-agent/events"
	"github.com/yhwhpe/unrug-agent/flows"
	"github.com/yhwhpe/unrug-agent/form"
	"github.com/yhwhpe/unrug-agent/internal/dispatcher"
	"github.com/yhwhpe/unrug-agent/internal/metrics"
	"github.com/yhwhpe/unrug-agent/rabbitmq"
	"github.com/yhwhpe/unrug-agent/saga"
	"github.com/yhwhpe/unrug-agent/telegram"
	"github.com/yhwhpe/unrug-agent/wallet"
	"github.com/yhwhpe/unrug-agent/wallet/bridge"
)

// ShutdownTimeout bounds how long Run waits for lanes and wallet tasks to drain.
const ShutdownTimeout = 30 * time.Second

// Transport delivers inbound chat events.
type Transport interface {
	Run(ctx context.Context, s telegram.Submitter) error
	Ready(ctx context.Context) error
}

// Deps overrides collaborators New would otherwise build from the config.
// Every field is optional.
type Deps struct {
	Logger    *zap.Logger
	Transport Transport
	Messenger communicator.Messenger
	Journal   saga.SagaLogger
	Reader    flows.MemecoinReader
	Connector flows.WalletConnector
	Metrics   *metrics.Metrics
	// HTTPClient is used for the Starknet node and the wallet bridge.
	HTTPClient *http.Client
}

type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	transport  Transport
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	closers    []func()
	ready      atomic.Bool
}

// New builds the application from cfg.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger.Named("framework")}

	a.metrics = deps.Metrics
	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	messenger := deps.Messenger
	a.transport = deps.Transport
	if a.transport == nil || messenger == nil {
		transport, m, err := a.buildTransport()
		if err != nil {
			a.Close()
			return nil, err
		}
		if a.transport == nil {
			a.transport = transport
		}
		if messenger == nil {
			messenger = m
		}
	}

	journal := deps.Journal
	if journal == nil {
		j, err := a.buildJournal()
		if err != nil {
			a.Close()
			return nil, err
		}
		journal = j
	}

	reader := deps.Reader
	if reader == nil {
		rpc, err := chain.NewRPCClient(cfg.Starknet.NodeURL, deps.HTTPClient)
		if err != nil {
			a.Close()
			return nil, err
		}
		reader = chain.NewReader(rpc, cfg.Starknet.FactoryAddress)
	}

	wallets := []string{wallet.ArgentSelector}
	connector := deps.Connector
	if connector == nil {
		bridgeClient, err := bridge.NewClient(bridge.Config{
			BaseURL:      cfg.Wallet.BridgeURL,
			HTTPClient:   deps.HTTPClient,
			PollInterval: cfg.Wallet.PollInterval,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		adapters := wallet.Adapters{wallet.ArgentSelector: wallet.Argent(bridgeClient)}
		wallets = adapters.Names()
		connector = wallet.NewConnector(wallet.ConnectorConfig{
			Adapters:        adapters,
			Messenger:       messenger,
			Chain:           cfg.Starknet.ChainID,
			ApprovalTimeout: cfg.Wallet.ApprovalTimeout,
			Logger:          logger,
		})
	}

	a.dispatcher = dispatcher.New(form.NewRegistry(), dispatcher.Options{
		Messenger:      messenger,
		Journal:        journal,
		Metrics:        a.metrics,
		Logger:         logger,
		HandlerTimeout: cfg.Dispatcher.HandlerTimeout,
		TaskTimeout:    cfg.Dispatcher.TaskTimeout,
	})

	flows.New(flows.Config{
		Messenger: messenger,
		Connector: connector,
		Reader:    reader,
		Wallets:   wallets,
		Journal:   journal,
		Logger:    logger,
	}).Register(a.dispatcher)

	a.logger.Info("application wired",
		zap.String("transport", cfg.Transport),
		zap.String("chain", cfg.Starknet.ChainID))
	return a, nil
}

func (a *App) buildTransport() (Transport, communicator.Messenger, error) {
	switch a.cfg.Transport {
	case config.TransportTelegram:
		bot, err := tgbotapi.NewBotAPI(a.cfg.Telegram.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram: %w", err)
		}
		a.logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
		return &pollerTransport{telegram.NewPoller(bot, a.cfg.Telegram.PollTimeout, a.logger)},
			telegram.NewSender(bot, a.logger), nil
	case config.TransportAMQP:
		rc := rabbitmq.Config{
			URL:        a.cfg.RabbitMQ.URL,
			Exchange:   a.cfg.RabbitMQ.Exchange,
			Queue:      a.cfg.RabbitMQ.Queue,
			Bindings:   a.cfg.RabbitMQ.Bindings,
			Prefetch:   a.cfg.RabbitMQ.Prefetch,
			MaxRetries: a.cfg.RabbitMQ.MaxRetries,
		}
		consumer := rabbitmq.New(rc, a.logger)
		publisher := rabbitmq.NewPublisher(rc, a.logger)
		a.closers = append(a.closers, consumer.Close, publisher.Close)
		client := communicator.New(publisher, a.cfg.RabbitMQ.RoutingKey, a.cfg.RabbitMQ.Source, a.logger)
		return &consumerTransport{consumer}, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", a.cfg.Transport)
	}
}

// buildJournal keeps the journal in memory when MinIO is not configured.
func (a *App) buildJournal() (saga.SagaLogger, error) {
	if !a.cfg.MinIO.Enabled() {
		a.logger.Warn("MinIO not configured, flow journal kept in memory")
		return saga.NewMemoryLogger(a.logger), nil
	}
	client, err := minio.New(a.cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(a.cfg.MinIO.AccessKey, a.cfg.MinIO.SecretKey, ""),
		Secure: a.cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	a.logger.Info("MinIO journal enabled", zap.String("bucket", a.cfg.MinIO.Bucket))
	return saga.NewMinIOSagaLogger(client, a.cfg.MinIO.Bucket, a.logger), nil
}

func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Run serves the transport and the health/metrics endpoints until ctx is done,
// then drains in-flight events and wallet tasks.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.ready.Store(true)
		defer a.ready.Store(false)
		a.logger.Info("starting transport", zap.String("transport", a.cfg.Transport))
		if err := a.transport.Run(gctx, a.dispatcher); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("transport stopped unexpectedly")
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if derr := a.dispatcher.Wait(drainCtx); derr != nil {
		a.logger.Warn("shutdown cancelled running tasks", zap.Error(derr))
	}
	a.logger.Info("stopped")
	return err
}

// Close releases broker connections. Safe to call more than once.
func (a *App) Close() {
	closers := a.closers
	a.closers = nil
	for _, c := range closers {
		c()
	}
}

// Router serves health checks and metrics.
func (a *App) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", a.readyz)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func (a *App) readyz(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	rctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.transport.Ready(rctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(a.cfg.Transport + " not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type pollerTransport struct {
	poller *telegram.Poller
}

func (t *pollerTransport) Run(ctx context.Context, s telegram.Submitter) error {
	return t.poller.Run(ctx, s)
}

func (t *pollerTransport) Ready(context.Context) error {
	if !t.poller.Ready() {
		return errors.New("telegram poller is not running")
	}
	return nil
}

type consumerTransport struct {
	consumer *rabbitmq.Consumer
}

func (t *consumerTransport) Run(ctx context.Context, s telegram.Submitter) error {
	return t.consumer.Consume(ctx, func(ctx context.Context, ev events.Event) error {
		s.Submit(ctx, ev)
		return nil
	})
}

func (t *consumerTransport) Ready(ctx context.Context) error {
	return t.consumer.Ping(ctx)
}
