package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/resilience/retry"
)

// AMQPConfig locates the topic exchange events are published to.
type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string

	// PublishTimeout bounds one publish call.
	PublishTimeout time.Duration
}

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes every event as a JSON message on a topic
// exchange, with the event type as routing key.
type AMQPNotifier struct {
	config AMQPConfig
	retry  retry.Config

	mu      sync.Mutex
	conn    *amqp.Connection
	channel publisher
	dial    func() (*amqp.Connection, publisher, error)
}

// AMQPMessage is the body of a published event.
type AMQPMessage struct {
	entity.Event
	SourceName string `json:"source_name,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
	Backend    string `json:"backend,omitempty"`
}

// NewAMQPNotifier connects to the broker and declares the exchange. The
// connection is re-established lazily after it drops.
func NewAMQPNotifier(config AMQPConfig) (*AMQPNotifier, error) {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	n := &AMQPNotifier{config: config, retry: retry.NotifyConfig()}
	n.dial = n.connect
	if _, err := n.ensureChannel(); err != nil {
		return nil, err
	}
	slog.Info("amqp publisher initialized", slog.String("exchange", config.Exchange))
	return n, nil
}

func (n *AMQPNotifier) connect() (*amqp.Connection, publisher, error) {
	conn, err := amqp.Dial(n.config.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %s", logging.SanitizeError(err))
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", n.config.Exchange, err)
	}
	return conn, ch, nil
}

func (n *AMQPNotifier) ensureChannel() (publisher, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil && (n.conn == nil || !n.conn.IsClosed()) {
		return n.channel, nil
	}
	conn, ch, err := n.dial()
	if err != nil {
		return nil, err
	}
	n.conn, n.channel = conn, ch
	return ch, nil
}

func (n *AMQPNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.conn, n.channel = nil, nil
}

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error {
	var errs []error
	for _, e := range events {
		msg := AMQPMessage{Event: e}
		if src != nil {
			msg.SourceName, msg.SourceURL, msg.Backend = src.Name, src.URL, string(src.Backend)
			if msg.SourceID == "" {
				msg.SourceID = src.ID
			}
		}
		if err := n.publish(ctx, string(e.Type), msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *AMQPNotifier) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return sendWithRetry(ctx, "amqp", n.retry, func() error {
		ch, err := n.ensureChannel()
		if err != nil {
			return err
		}
		pubCtx, cancel := context.WithTimeout(ctx, n.config.PublishTimeout)
		defer cancel()

		err = ch.PublishWithContext(pubCtx, n.config.Exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    fmt.Sprintf("%d", time.Now().UnixNano()),
		})
		if err != nil {
			n.reset()
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}
		return nil
	})
}

// Ping reports whether the broker connection is open.
func (n *AMQPNotifier) Ping(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil || n.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Close closes the broker connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn, n.channel = nil, nil
	return err
}
