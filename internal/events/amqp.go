package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// channel abstracts the amqp.Channel methods we use, enabling test mocks.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOpts holds parameters for creating an AMQPPublisher.
type AMQPOpts struct {
	URL      string
	Exchange string
	// For testing: inject a mock channel instead of dialing a broker.
	Channel channel
}

// AMQPPublisher publishes events as persistent JSON messages to a topic
// exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// NewAMQP dials the broker (unless a channel is injected) and declares the
// durable topic exchange.
func NewAMQP(opts AMQPOpts) (*AMQPPublisher, error) {
	if opts.Exchange == "" {
		return nil, fmt.Errorf("events: exchange is required")
	}
	p := &AMQPPublisher{ch: opts.Channel, exchange: opts.Exchange}
	if p.ch == nil {
		if opts.URL == "" {
			return nil, fmt.Errorf("events: amqp URL is required")
		}
		conn, err := amqp.Dial(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("events: dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("events: open channel: %w", err)
		}
		p.conn = conn
		p.ch = ch
	}
	if err := p.ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		p.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", opts.Exchange, err)
	}
	return p, nil
}

// Publish sends e with routing key e.Type.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(p.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.At,
		Type:         e.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", e.Type, err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
