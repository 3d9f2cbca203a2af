// Package events publishes order and payment domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	TypeOrderConfirmed = "order.confirmed"
	TypePaymentFailed  = "payment.failed"
)

const DefaultTopic = "shop-events"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OrderConfirmedEvent struct {
	OrderID        string             `json:"order_id"`
	UserID         string             `json:"user_id"`
	PaymentID      string             `json:"payment_id"`
	Provider       string             `json:"provider"`
	TransactionRef string             `json:"transaction_ref"`
	Items          []domain.OrderItem `json:"items"`
	TotalAmount    json.Number        `json:"total_amount"`
	Currency       string             `json:"currency"`
	ConfirmedAt    time.Time          `json:"confirmed_at"`
}

type PaymentFailedEvent struct {
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	ResultCode *int      `json:"result_code,omitempty"`
	ResultDesc string    `json:"result_desc,omitempty"`
	FailedAt   time.Time `json:"failed_at"`
}

type Publisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewPublisher wraps a writer. A nil writer makes every publish a no-op.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func (p *Publisher) OrderConfirmed(ctx context.Context, order *domain.Order, payment *domain.Payment) error {
	return p.publish(ctx, TypeOrderConfirmed, order.ID.String(), OrderConfirmedEvent{
		OrderID:        order.ID.String(),
		UserID:         order.UserID,
		PaymentID:      payment.ID.String(),
		Provider:       string(payment.Provider),
		TransactionRef: payment.Ref(),
		Items:          order.Items,
		TotalAmount:    domain.DecimalAmount(order.TotalCents),
		Currency:       order.Currency,
		ConfirmedAt:    p.now(),
	})
}

func (p *Publisher) PaymentFailed(ctx context.Context, payment *domain.Payment) error {
	return p.publish(ctx, TypePaymentFailed, payment.OrderID.String(), PaymentFailedEvent{
		OrderID:    payment.OrderID.String(),
		PaymentID:  payment.ID.String(),
		ResultCode: payment.Meta.Mpesa.LastResultCode,
		ResultDesc: payment.Meta.Mpesa.LastResultDesc,
		FailedAt:   p.now(),
	})
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, payload any) error {
	if p.writer == nil {
		return nil
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	msg := kafka.Message{
		Key:   []byte(key), // order_id for ordering
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
