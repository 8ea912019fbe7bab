package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
)

// BookingConfirmedHandler processes one confirmation event. A returned error
// requeues the delivery.
type BookingConfirmedHandler func(ctx context.Context, event *models.BookingConfirmedEvent) error

// Consumer reads confirmation events and reconnects with backoff when the
// broker connection drops
type Consumer struct {
	url        string
	prefetch   int
	maxBackoff time.Duration
	logger     *logrus.Logger
}

// NewConsumer creates a consumer for the confirmation queue
func NewConsumer(url string, logger *logrus.Logger) *Consumer {
	return &Consumer{url: url, prefetch: 10, maxBackoff: 30 * time.Second, logger: logger}
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context, handle BookingConfirmedHandler) {
	backoff := time.Second
	for {
		err := c.consume(ctx, handle)
		if ctx.Err() != nil {
			return
		}

		c.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("Queue consumer disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Consumer) consume(ctx context.Context, handle BookingConfirmedHandler) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, BookingConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	c.logger.WithField("queue", BookingConfirmedQueue).Info("Queue consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.process(ctx, d, handle)
		}
	}
}

// acknowledger is the subset of amqp.Delivery used to settle a message
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, handle BookingConfirmedHandler) {
	c.settle(ctx, d.Body, d.Redelivered, d, handle)
}

func (c *Consumer) settle(ctx context.Context, body []byte, redelivered bool, ack acknowledger, handle BookingConfirmedHandler) {
	var event models.BookingConfirmedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.WithError(err).Error("Dropping malformed booking event")
		_ = ack.Nack(false, false)
		return
	}

	if err := handle(ctx, &event); err != nil {
		// one retry via redelivery, then drop
		requeue := !redelivered
		c.logger.WithError(err).WithFields(logrus.Fields{
			"correlation_id": event.CorrelationID,
			"requeue":        requeue,
		}).Warn("Booking event handler failed")
		_ = ack.Nack(false, requeue)
		return
	}

	_ = ack.Ack(false)
}
