package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RoutingKey returns the routing key settlements of tripID are published
// with.
func RoutingKey(tripID string) string {
	return "settlement.recorded." + tripID
}

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes settlements as JSON to a topic exchange.
type AMQPNotifier struct {
	exchange string
	logger   *slog.Logger
	now      func() time.Time

	conn *amqp.Connection

	// mu guards ch, which is not safe for concurrent publishing.
	mu sync.Mutex
	ch publisher
}

// DialAMQP connects to url and declares the durable topic exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	n := newAMQPNotifier(ch, exchange, logger)
	n.conn = conn
	n.logger.Info("Connected to broker", "exchange", exchange)
	return n, nil
}

func newAMQPNotifier(ch publisher, exchange string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{
		exchange: exchange,
		logger:   logger.With("component", "notify"),
		now:      time.Now,
		ch:       ch,
	}
}

// SettlementRecorded publishes s.
func (n *AMQPNotifier) SettlementRecorded(ctx context.Context, s Settlement) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = n.now()
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx,
		n.exchange,
		RoutingKey(s.TripID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    s.RecordedAt,
			MessageId:    s.TransactionID,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish settlement %s: %w", s.TransactionID, err)
	}
	n.logger.Debug("Published settlement", "transaction_id", s.TransactionID, "trip_id", s.TripID)
	return nil
}

// Close closes the channel and the connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.ch.Close(); err != nil {
		n.logger.Warn("Failed to close channel", "error", err)
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
