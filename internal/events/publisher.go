package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for booking lifecycle events.
const (
	KeyAppointmentCreated   = "appointment.created"
	KeyAppointmentCancelled = "appointment.cancelled"
	KeyResultDelivered      = "appointment.result_delivered"
)

// AppointmentEvent is the payload published on booking lifecycle changes.
type AppointmentEvent struct {
	AppointmentID string    `json:"appointmentId"`
	ListingID     string    `json:"listingId"`
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher emits booking lifecycle events to a RabbitMQ topic exchange.
// Publishing is best-effort: failures are logged and never fail the request.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials RabbitMQ and declares the topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish emits an event under the given routing key. A nil Publisher is a
// no-op so event publishing stays optional.
func (p *Publisher) Publish(ctx context.Context, key string, event AppointmentEvent) {
	if p == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event encode failed", "key", key, "err", err)
		return
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		slog.Warn("event publish failed", "key", key, "appointment_id", event.AppointmentID, "err", err)
	}
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
