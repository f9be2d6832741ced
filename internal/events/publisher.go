package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

// OrderConfirmedKey is the routing key of confirmed-order events.
const OrderConfirmedKey = "order.confirmed"

// Publisher announces business events to other services.
type Publisher interface {
	PublishOrderConfirmed(ctx context.Context, order *models.Order) error
	Close() error
}

// Envelope is the JSON body of every event.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// OrderConfirmed is the payload of an order.confirmed event.
type OrderConfirmed struct {
	OrderID     string             `json:"order_id"`
	UserID      string             `json:"user_id"`
	Items       []models.OrderItem `json:"items"`
	Address     string             `json:"address"`
	TotalAmount float64            `json:"total_amount"`
	ConfirmedAt *time.Time         `json:"confirmed_at,omitempty"`
}

// NoopPublisher drops events. Used when AMQP_URL is not set.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderConfirmed(context.Context, *models.Order) error { return nil }
func (NoopPublisher) Close() error                                               { return nil }

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes JSON events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	mu       sync.Mutex // amqp channels are not safe for concurrent publishing
}

// NewAMQPPublisher connects and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) publish(ctx context.Context, key, messageID string, payload any) error {
	body, err := json.Marshal(Envelope{
		Type:      key,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// PublishOrderConfirmed emits order.confirmed with the order as payload.
// The order ID doubles as message ID so consumers can drop duplicates.
func (p *AMQPPublisher) PublishOrderConfirmed(ctx context.Context, order *models.Order) error {
	err := p.publish(ctx, OrderConfirmedKey, order.OrderID, OrderConfirmed{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		Items:       order.Items,
		Address:     order.Address,
		TotalAmount: order.TotalAmount,
		ConfirmedAt: order.ConfirmedAt,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", OrderConfirmedKey, err)
	}
	logger.WithUser(order.UserID).WithField("order_id", order.OrderID).Debug("📣 order.confirmed published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
