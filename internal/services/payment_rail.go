package services

import (
	"context"
	"errors"
	"math"

	"github.com/omise/omise-go"
	"github.com/studentrooms/booking-backend/internal/models"
)

// ErrInvalidSignature is returned when a webhook fails authentication
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrDepositPending is returned for an installment that arrives before the
// booking's deposit is recorded. The delivery should be retried.
var ErrDepositPending = errors.New("deposit not yet recorded")

// PaymentIntent is one priced period handed to a payment rail
type PaymentIntent struct {
	CorrelationID string
	Room          *models.Room
	Semester      models.Semester
	Year          string
	Services      models.Services
	Price         float64
	Guest         *models.Guest
	CardToken     string
	SourceID      string
}

// PaymentRailAdapter opens the external payment objects for one period
type PaymentRailAdapter interface {
	Rail() models.PaymentRail
	OpenSession(ctx context.Context, intent *PaymentIntent) (*models.PaymentSession, error)
}

// WebhookResult summarizes one processed delivery for the audit trail
type WebhookResult struct {
	EventType     string
	EventID       string
	CorrelationID string
	Outcome       models.PaymentAuditOutcome
}

// VerifiedEvent is a webhook delivery that passed the rail's authentication.
// ID is the rail's event id, used for replay detection.
type VerifiedEvent struct {
	ID    string
	body  []byte
	omise *omise.Event
}

// PaymentRef identifies the payment an event refers to
type PaymentRef struct {
	Rail          models.PaymentRail
	CorrelationID string
	ExternalID    string
}

// toSubunits converts a price to the smallest currency unit
func toSubunits(price float64) int64 {
	return int64(math.Round(price * 100))
}
