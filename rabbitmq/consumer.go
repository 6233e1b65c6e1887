package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/events"
)

type Handler func(context.Context, events.Event) error

// Config describes the inbound chat queue.
type Config struct {
	URL        string
	Exchange   string
	Queue      string
	Bindings   []string
	Prefetch   int
	MaxRetries int
	// ConnectionName shows up in the broker's connection list.
	ConnectionName string
}

type Consumer struct {
	url            string
	exchange       string
	queue          string
	bindings       []string
	connectionName string

	prefetch   int
	maxRetries int
	logger     *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func New(config Config, logger *zap.Logger) *Consumer {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.ConnectionName == "" {
		config.ConnectionName = "unrug-agent"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		url:            config.URL,
		exchange:       config.Exchange,
		queue:          config.Queue,
		bindings:       config.Bindings,
		connectionName: config.ConnectionName,
		prefetch:       config.Prefetch,
		maxRetries:     config.MaxRetries,
		logger:         logger.Named("rabbitmq"),
	}
}

func (c *Consumer) Ping(ctx context.Context) error {
	_ = ctx
	return c.ensureConnection()
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Consumer) ensureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}

	conn, ch, err := dial(c.url, c.connectionName, c.exchange)
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		c.queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}

	for _, rk := range c.bindings {
		if rk == "" {
			continue
		}
		if err := ch.QueueBind(q.Name, rk, c.exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("queue bind %s: %w", rk, err)
		}
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("qos: %w", err)
	}

	c.conn = conn
	c.channel = ch
	return nil
}

// dial opens a connection and a channel and declares the topic exchange.
func dial(url, name, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Properties: amqp.Table{
		"connection_name": name,
	}})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("exchange declare: %w", err)
	}
	return conn, ch, nil
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	if v, ok := headers["x-retry-count"]; ok {
		switch t := v.(type) {
		case int32:
			return int(t)
		case int64:
			return int(t)
		case int:
			return t
		}
	}
	return 0
}

func setRetryCount(headers amqp.Table, n int) amqp.Table {
	out := amqp.Table{}
	for k, v := range headers {
		out[k] = v
	}
	out["x-retry-count"] = int32(n)
	return out
}

// decodeEvent parses and validates one delivery body.
func decodeEvent(body []byte) (events.Event, error) {
	var ev events.Event
	if err := sonic.Unmarshal(body, &ev); err != nil {
		return events.Event{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return events.Event{}, err
	}
	if ev.Kind != events.KindChoice && ev.Command == "" {
		// Relayed raw chat text may still carry a "/command".
		ev = classify(ev)
	}
	return ev, nil
}

func classify(ev events.Event) events.Event {
	parsed := events.FromText(ev.ConversationID, ev.Payload)
	parsed.EventID = ev.EventID
	parsed.MessageID = ev.MessageID
	parsed.ChatType = ev.ChatType
	parsed.Timestamp = ev.Timestamp
	return parsed
}

func (c *Consumer) republish(ctx context.Context, d amqp.Delivery, retry int) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return errors.New("channel is closed")
	}

	return ch.PublishWithContext(
		ctx,
		d.Exchange,
		d.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			Body:         d.Body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      setRetryCount(d.Headers, retry),
		},
	)
}

// Consume delivers chat events to handler until ctx is done, reconnecting
// with jittered backoff. Handler errors are retried by republishing up to
// MaxRetries times.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	if c.url == "" {
		return errors.New("RABBITMQ_URL is required")
	}
	if c.exchange == "" {
		return errors.New("RABBITMQ_EXCHANGE is required")
	}
	if c.queue == "" {
		return errors.New("RABBITMQ_QUEUE is required")
	}
	if len(c.bindings) == 0 {
		return errors.New("RABBITMQ_BINDINGS is required")
	}

	c.logger.Info("starting consumer",
		zap.String("exchange", c.exchange),
		zap.String("queue", c.queue),
		zap.Strings("bindings", c.bindings),
		zap.Int("prefetch", c.prefetch),
		zap.Int("max_retries", c.maxRetries))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.ensureConnection(); err != nil {
			c.logger.Warn("connection failed", zap.Duration("retry_in", backoff), zap.Error(err))
			j := time.Duration(rand.Int63n(int64(backoff / 2)))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff + j):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.mu.Lock()
		ch := c.channel
		c.mu.Unlock()

		msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
		if err != nil {
			c.logger.Warn("consumer registration failed", zap.Error(err))
			_ = ch.Close()
			continue
		}
		c.logger.Info("consumer registered", zap.String("queue", c.queue))

		if done := c.drain(ctx, ch, msgs, handler); done {
			return nil
		}
	}
}

// drain processes deliveries until ctx is done (true) or the channel closes
// (false).
func (c *Consumer) drain(ctx context.Context, ch *amqp.Channel, msgs <-chan amqp.Delivery, handler Handler) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("delivery channel closed, reconnecting")
				_ = ch.Close()
				return false
			}
			c.deliver(ctx, d, handler)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	logger := c.logger.With(zap.String("routing_key", d.RoutingKey), zap.Uint64("delivery_tag", d.DeliveryTag))

	ev, err := decodeEvent(d.Body)
	if err != nil {
		logger.Warn("dropping invalid event", zap.Int("bytes", len(d.Body)), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	logger = logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("conversation", ev.ConversationID),
		zap.String("kind", string(ev.Kind)))
	logger.Debug("received event")

	if err := handler(ctx, ev); err != nil {
		rc := retryCount(d.Headers)
		if rc >= c.maxRetries {
			logger.Warn("max retries exceeded, dropping event", zap.Int("retry_count", rc), zap.Error(err))
			_ = d.Ack(false)
			return
		}

		repCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		repErr := c.republish(repCtx, d, rc+1)
		cancel()
		if repErr != nil {
			logger.Warn("republish failed, requeueing", zap.Error(repErr))
			_ = d.Nack(false, true)
			return
		}
		logger.Info("event republished for retry", zap.Int("retry_count", rc+1), zap.Error(err))
		_ = d.Ack(false)
		return
	}
	_ = d.Ack(false)
}
