package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/store"
)

const (
	publishTimeout = 5 * time.Second
	forwardBuffer  = 256
)

// channelPublisher is the part of *amqp091.Channel the publisher needs.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publisher mirrors ledger change events onto a fanout exchange. It is
// best-effort: a failed publish is logged and not retried.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	pub      channelPublisher
	exchange string
	logger   *applog.Logger
}

func NewPublisher(url, exchange string, logger *applog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newPublisherWith(channel, exchange, logger)
	p.conn = conn
	p.channel = channel
	return p, nil
}

func newPublisherWith(pub channelPublisher, exchange string, logger *applog.Logger) *Publisher {
	return &Publisher{
		pub:      pub,
		exchange: exchange,
		logger:   logger.WithComponent(applog.ComponentEvents),
	}
}

func (p *Publisher) Publish(ctx context.Context, ev store.ChangeEvent) error {
	msg := NewLedgerEventMessage(ev)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.pub.PublishWithContext(
		ctx,
		p.exchange,       // exchange
		msg.RoutingKey(), // routing key, ignored by fanout but useful to consumers
		false,            // mandatory
		false,            // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    ev.At,
			Type:         msg.RoutingKey(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.logger.DebugContext(ctx, "Published ledger event",
		"entity", ev.Entity, applog.FieldOperation, ev.Op, "id", ev.ID, "exchange", p.exchange)
	return nil
}

// Forward publishes every event from n until ctx is done or n is closed.
// Run it in its own goroutine.
func (p *Publisher) Forward(ctx context.Context, n *store.Notifier) {
	events, unsubscribe := n.Subscribe(forwardBuffer)
	defer unsubscribe()

	p.logger.InfoContext(ctx, "Forwarding ledger events", "exchange", p.exchange)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.WarnContext(ctx, "Failed to publish ledger event",
					applog.FieldOperation, applog.OpPublish, applog.FieldError, err, "entity", ev.Entity, "id", ev.ID)
			}
		}
	}
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
