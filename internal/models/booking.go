package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ============================================================================
// BOOKING STATUSES & PAYMENT METHODS
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// PaymentMethod selects how a booking is paid
type PaymentMethod string

const (
	PaymentMethodPayLater  PaymentMethod = "pay_later"
	PaymentMethodManual    PaymentMethod = "manual"    // settled offline, recorded synchronously
	PaymentMethodCard      PaymentMethod = "card"      // Razorpay rail
	PaymentMethodAlternate PaymentMethod = "alternate" // Omise rail
)

// IsDeferred reports whether the booking is created before any payment
func (m PaymentMethod) IsDeferred() bool {
	return m == PaymentMethodPayLater || m == PaymentMethodManual
}

// ============================================================================
// BOOKING
// ============================================================================

// Booking is a reservation of one period of one room
type Booking struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	CorrelationID       string         `json:"correlation_id" db:"correlation_id"`
	GuestID             uuid.UUID      `json:"guest_id" db:"guest_id"`
	RoomID              string         `json:"room_id" db:"room_id"`
	RoomTitle           string         `json:"room_title" db:"room_title"`
	Semester            Semester       `json:"semester" db:"semester"`
	Year                string         `json:"year" db:"year"`
	Services            Services       `json:"services" db:"services"`
	Price               float64        `json:"price" db:"price"`
	Status              BookingStatus  `json:"status" db:"status"`
	PaymentMethod       PaymentMethod  `json:"payment_method" db:"payment_method"`
	PaymentReference    *string        `json:"payment_reference,omitempty" db:"payment_reference"`
	CancellationKeyHash string         `json:"-" db:"cancellation_key_hash"`
	DepositPaid         bool           `json:"deposit_paid" db:"deposit_paid"`
	PaidMonths          pq.StringArray `json:"paid_months" db:"paid_months"`
	SummerPaid          bool           `json:"summer_paid" db:"summer_paid"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// ============================================================================
// REQUEST / RESPONSE DTOs
// ============================================================================

// CommitBookingRequest is the booking commit body. Either CommonUserDetails is
// set, or every period carries its own UserDetails.
type CommitBookingRequest struct {
	BookingPeriods    []BookingPeriodInput `json:"bookingPeriods" binding:"required,min=1,dive"`
	CommonUserDetails *GuestDetails        `json:"commonUserDetails,omitempty"`
	TotalPrice        *float64             `json:"totalPrice"`
	PaymentMethod     PaymentMethod        `json:"paymentMethod"`
	PaymentStatus     string               `json:"paymentStatus,omitempty"`
}

// PaymentSessionRequest starts a card or alternate rail checkout. The alternate
// rail charges a token or source created client-side.
type PaymentSessionRequest struct {
	CommitBookingRequest
	CardToken string `json:"cardToken,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
}

// CommitBookingResponse is returned after a deferred booking is committed
type CommitBookingResponse struct {
	BookingID  uuid.UUID   `json:"bookingId"`
	BookingIDs []uuid.UUID `json:"bookingIds"`
}

// PaymentSessionResponse is returned when a payment rail session is opened
type PaymentSessionResponse struct {
	Rail     PaymentRail      `json:"rail"`
	Sessions []PaymentSession `json:"sessions"`
}

// PaymentSession describes one external payment object
type PaymentSession struct {
	CorrelationID string  `json:"correlationId"`
	ExternalID    string  `json:"externalId"`
	Kind          string  `json:"kind"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	CheckoutURL   string  `json:"checkoutUrl,omitempty"`
}

// BookingConfirmedEvent is published after a booking is materialized.
// It carries the only plaintext copy of the cancellation key.
type BookingConfirmedEvent struct {
	BookingID       uuid.UUID     `json:"booking_id"`
	CorrelationID   string        `json:"correlation_id"`
	GuestEmail      string        `json:"guest_email"`
	GuestName       string        `json:"guest_name"`
	RoomID          string        `json:"room_id"`
	RoomTitle       string        `json:"room_title"`
	Semester        Semester      `json:"semester"`
	Year            string        `json:"year"`
	Price           float64       `json:"price"`
	Status          BookingStatus `json:"status"`
	CancellationKey string        `json:"cancellation_key"`
	ConfirmedAt     string        `json:"confirmed_at"`
}
