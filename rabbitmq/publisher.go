package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends outbound chat actions to the topic exchange. It shares the
// consumer's reconnect-on-demand approach: a dead channel is redialed on the
// next publish.
type Publisher struct {
	url      string
	exchange string
	name     string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewPublisher(config Config, logger *zap.Logger) *Publisher {
	name := config.ConnectionName
	if name == "" {
		name = "unrug-agent-publisher"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		url:      config.URL,
		exchange: config.Exchange,
		name:     name,
		logger:   logger.Named("rabbitmq"),
	}
}

// Publish sends body as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.logger.Warn("publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		p.reset()
		return err
	}
	return nil
}

func (p *Publisher) Close() {
	p.reset()
}

func (p *Publisher) ensureChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	if p.url == "" {
		return nil, errors.New("RABBITMQ_URL is required")
	}
	conn, ch, err := dial(p.url, p.name, p.exchange)
	if err != nil {
		return nil, err
	}
	p.conn, p.channel = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.channel = nil, nil
}
