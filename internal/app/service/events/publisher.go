package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logctx"
)

const exchangeKind = "topic"

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	log      *zap.SugaredLogger
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url must use amqp:// or amqps://")
	}
	return clean, nil
}

// NewAMQPPublisher dials RabbitMQ and declares the exchange.
func NewAMQPPublisher(rawURL, exchange string, log *zap.SugaredLogger) (*AMQPPublisher, error) {
	clean, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p := &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, log: log}
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) declare() error {
	if err := p.channel.ExchangeDeclare(p.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event *MembershipEvent) error {
	if event == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, event.RoutingKey(), false, false, msg)
	if err == nil {
		return nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("failed to publish %s: %w", event.RoutingKey(), err)
	}
	logctx.FromCtx(ctx, p.log).Warnw("publish failed, reopening channel", "routing_key", event.RoutingKey(), "error", err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("failed to reopen channel: %w", chErr)
	}
	_ = p.channel.Close()
	p.channel = ch
	if err := p.declare(); err != nil {
		return err
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, event.RoutingKey(), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.RoutingKey(), err)
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// NopPublisher drops events. It is used when no broker is configured.
type NopPublisher struct {
	log *zap.SugaredLogger
}

func NewNopPublisher(log *zap.SugaredLogger) *NopPublisher {
	return &NopPublisher{log: log}
}

func (p *NopPublisher) Publish(ctx context.Context, event *MembershipEvent) error {
	if event == nil || p.log == nil {
		return nil
	}
	logctx.FromCtx(ctx, p.log).Debugw("event dropped, no broker configured", "routing_key", event.RoutingKey(), "membership_id", event.MembershipID)
	return nil
}

// NewPublisher picks the AMQP publisher when rabbitmq.url is set.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (Publisher, error) {
	if cfg.RabbitMQ.URL == "" {
		log.Infow("rabbitmq url not set, membership events are not published")
		return NewNopPublisher(log), nil
	}
	p, err := NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			p.Close()
			return nil
		},
	})
	return p, nil
}

var Module = fx.Options(
	fx.Provide(NewPublisher),
)
