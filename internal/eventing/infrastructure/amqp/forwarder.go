package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"finsuite/internal/eventing"
	"finsuite/internal/observability/metrics"
)

const (
	defaultExchange   = "paycore.events"
	defaultRoutingTop = "paycore"
	dialTimeout       = 10 * time.Second
)

// Channel is the subset of *amqp091.Channel the forwarder needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Forwarder relays domain events to a durable topic exchange as JSON envelopes.
type Forwarder struct {
	channel  Channel
	exchange string
	logger   *zap.Logger
}

// Option configures the forwarder.
type Option func(*Forwarder)

// WithExchange overrides the exchange name.
func WithExchange(name string) Option {
	return func(f *Forwarder) {
		if strings.TrimSpace(name) != "" {
			f.exchange = strings.TrimSpace(name)
		}
	}
}

// NewForwarder declares the exchange and returns a forwarder.
func NewForwarder(channel Channel, logger *zap.Logger, opts ...Option) (*Forwarder, error) {
	if channel == nil {
		return nil, errors.New("amqp forwarder: nil channel")
	}
	if logger == nil {
		return nil, errors.New("amqp forwarder: nil logger")
	}
	f := &Forwarder{channel: channel, exchange: defaultExchange, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	if err := channel.ExchangeDeclare(f.exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp forwarder: declare %s: %w", f.exchange, err)
	}
	return f, nil
}

// Handle publishes one event. It is meant to be subscribed to every event on the bus.
func (f *Forwarder) Handle(ctx context.Context, event any) error {
	env, ok := eventing.EnvelopeFromContext(ctx)
	if !ok {
		built, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx, ""))
		if err != nil {
			metrics.IncForwarded(metrics.ResultError)
			return err
		}
		env = built
	}
	body, err := json.Marshal(env)
	if err != nil {
		metrics.IncForwarded(metrics.ResultError)
		return err
	}
	key := RoutingKey(env.EventType)
	err = f.channel.PublishWithContext(ctx, f.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Timestamp:     env.OccurredAt,
		Type:          env.EventType,
		Body:          body,
	})
	if err != nil {
		metrics.IncForwarded(metrics.ResultError)
		f.logger.Warn("event forward failed",
			zap.String("exchange", f.exchange),
			zap.String("routing_key", key),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
		return err
	}
	metrics.IncForwarded(metrics.ResultSuccess)
	return nil
}

// RoutingKey derives "paycore.<package>.<type>" from a Go event type name.
func RoutingKey(eventType string) string {
	key := strings.ToLower(strings.TrimSpace(eventType))
	if key == "" {
		return defaultRoutingTop + ".unknown"
	}
	return defaultRoutingTop + "." + key
}

// Dial opens a connection and channel with a bounded dial timeout.
func Dial(rawURL string) (*amqp091.Connection, *amqp091.Channel, error) {
	clean, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, nil, err
	}
	conn, err := amqp091.DialConfig(clean, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp forwarder: url scheme must be amqp or amqps")
	}
	return clean, nil
}
