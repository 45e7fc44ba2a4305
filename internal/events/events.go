// Package events publishes checkout events to the checkout-outbox topic.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fjod/storefront/internal/domain"
)

const (
	CheckoutTopic     = "checkout-outbox"
	CheckoutEventType = "checkout"
)

// CheckoutEvent is emitted once per created order. CartCleared is false when
// the order was stored but emptying the cart failed; consumers use Items to
// take the ordered quantities out of the cart later.
type CheckoutEvent struct {
	OrderID     string            `json:"order_id"`
	UserID      string            `json:"user_id"`
	Items       []domain.LineItem `json:"items"`
	Total       float64           `json:"total"`
	CartCleared bool              `json:"cart_cleared"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Publisher interface {
	PublishCheckout(ctx context.Context, event CheckoutEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishCheckout(ctx context.Context, event CheckoutEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal checkout event")
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(CheckoutEventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write checkout event")
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs events. Used when no brokers are configured.
type LogPublisher struct {
	lg *zap.Logger
}

func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg}
}

func (p *LogPublisher) PublishCheckout(_ context.Context, event CheckoutEvent) error {
	p.lg.Info("Checkout event",
		zap.String("order_id", event.OrderID),
		zap.String("user_id", event.UserID),
		zap.Int("items", len(event.Items)),
		zap.Bool("cart_cleared", event.CartCleared),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Decode parses a checkout event message value.
func Decode(value []byte) (CheckoutEvent, error) {
	var event CheckoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return CheckoutEvent{}, errors.Wrap(err, "unmarshal checkout event")
	}
	if event.UserID == "" || event.OrderID == "" {
		return CheckoutEvent{}, errors.New("checkout event without user_id or order_id")
	}
	return event, nil
}
