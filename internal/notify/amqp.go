package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"marketplace-orders/internal/util"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPNotifier publishes notifications to a durable topic exchange with
// routing key "<kind>.<recipient_type>".
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	// amqp channels must not be used for concurrent publishes
	mu sync.Mutex
}

// NewAMQPNotifier connects to RabbitMQ and declares the exchange.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	util.GetLogger().Info("RabbitMQ notifier connected", zap.String("exchange", exchange))
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange}, nil
}

func RoutingKey(n Notification) string {
	return n.Kind + "." + n.RecipientType
}

func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err = a.channel.Publish(a.exchange, RoutingKey(n), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (a *AMQPNotifier) Close() error {
	var errs []error
	if err := a.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
	}
	if err := a.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing RabbitMQ notifier: %v", errs)
	}
	return nil
}
