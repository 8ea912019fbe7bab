// Package queue carries booking confirmation events over RabbitMQ so email
// delivery runs outside the request path.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
)

// BookingConfirmedQueue is the durable queue confirmation events are published to
const BookingConfirmedQueue = "booking.confirmed"

// channel is the subset of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes booking events to the default exchange
type Publisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	logger *logrus.Logger
}

// NewPublisher dials RabbitMQ and declares the confirmation queue
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, logger: logger}, nil
}

// PublishBookingConfirmed publishes a persistent confirmation event
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	// amqp channels are not safe for concurrent publishes
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, "", BookingConfirmedQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.CorrelationID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish booking event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"booking_id":     event.BookingID,
		"correlation_id": event.CorrelationID,
	}).Debug("Booking confirmation published")
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
