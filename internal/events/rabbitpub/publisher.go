package rabbitpub

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/primestake/ledger/pkg/ledger"
)

const exchangeKind = "topic"

// Config carries broker settings for the committed-event publisher.
type Config struct {
	URL      string
	Exchange string
}

// Publisher forwards committed ledger events to a RabbitMQ topic exchange.
// It implements ledger.EventPublisher; the engine calls it strictly after
// commit, so a broker outage can drop events but never a balance change.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// New dials the broker and declares the exchange.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		cfg.Exchange,
		exchangeKind,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	logger.Info("rabbitmq publisher initialized", zap.String("exchange", cfg.Exchange))
	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

// eventMessage is the wire form of a committed entry.
type eventMessage struct {
	EntryID          string `json:"entry_id"`
	UserID           string `json:"user_id"`
	Kind             string `json:"kind"`
	Amount           string `json:"amount"`
	RelatedEntityID  string `json:"related_entity_id,omitempty"`
	CommittedUnixUTC int64  `json:"committed_unix_utc"`
}

// PublishCommitted sends one event, routed by entry kind.
func (publisher *Publisher) PublishCommitted(ctx context.Context, event ledger.Event) error {
	body, err := json.Marshal(messageFor(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = publisher.channel.PublishWithContext(ctx,
		publisher.exchange,
		routingKeyFor(event.Kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.EntryID, err)
	}
	publisher.logger.Debug("event published",
		zap.String("entry_id", event.EntryID),
		zap.String("kind", event.Kind.String()),
	)
	return nil
}

// Close closes the channel and connection.
func (publisher *Publisher) Close() error {
	if publisher.channel != nil {
		if err := publisher.channel.Close(); err != nil {
			publisher.logger.Warn("close channel", zap.Error(err))
		}
	}
	if publisher.conn != nil {
		return publisher.conn.Close()
	}
	return nil
}

func messageFor(event ledger.Event) eventMessage {
	return eventMessage{
		EntryID:          event.EntryID,
		UserID:           event.UserID,
		Kind:             event.Kind.String(),
		Amount:           event.Amount.String(),
		RelatedEntityID:  event.RelatedEntityID,
		CommittedUnixUTC: event.CommittedUnixUTC,
	}
}

func routingKeyFor(kind ledger.EntryKind) string {
	return "ledger." + kind.String()
}
