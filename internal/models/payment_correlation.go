package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRail identifies the external payment network
type PaymentRail string

const (
	RailRazorpay PaymentRail = "razorpay"
	RailOmise    PaymentRail = "omise"
)

// Correlation kinds
const (
	CorrelationKindSubscription = "subscription"
	CorrelationKindOrder        = "order"
	CorrelationKindCharge       = "charge"
	CorrelationKindCustomer     = "customer" // external id is the customer owning the charge schedules
)

// PaymentCorrelation ties an external payment object back to everything needed
// to materialize the booking once the network confirms payment
type PaymentCorrelation struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Rail          PaymentRail `json:"rail" db:"rail"`
	CorrelationID string      `json:"correlation_id" db:"correlation_id"`
	ExternalID    string      `json:"external_id" db:"external_id"`
	Kind          string      `json:"kind" db:"kind"`
	RoomID        string      `json:"room_id" db:"room_id"`
	GuestIDs      GuestIDList `json:"guest_ids" db:"guest_ids"`
	GuestEmail    string      `json:"guest_email" db:"guest_email"`
	GuestName     string      `json:"guest_name" db:"guest_name"`
	Semester      Semester    `json:"semester" db:"semester"`
	Year          string      `json:"year" db:"year"`
	Price         float64     `json:"price" db:"price"`
	Services      Services    `json:"services" db:"services"`
	BookingID     *uuid.UUID  `json:"booking_id,omitempty" db:"booking_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time   `json:"expires_at" db:"expires_at"`
}

// PrimaryGuestID returns the guest the booking is created for
func (p *PaymentCorrelation) PrimaryGuestID() (uuid.UUID, bool) {
	if len(p.GuestIDs) == 0 {
		return uuid.Nil, false
	}
	return p.GuestIDs[0], true
}
