package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/studentrooms/booking-backend/internal/models"
)

// ErrBookingExists is returned when a booking for the correlation id was already created
var ErrBookingExists = errors.New("booking already exists for correlation id")

// BookingRepository handles booking records
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, correlation_id, guest_id, room_id, room_title, semester, year,
	services, price, status, payment_method, payment_reference, cancellation_key_hash,
	deposit_paid, paid_months, summer_paid, created_at, updated_at`

const insertBookingQuery = `
	INSERT INTO bookings (
		id, correlation_id, guest_id, room_id, room_title, semester, year,
		services, price, status, payment_method, payment_reference, cancellation_key_hash,
		deposit_paid, paid_months, summer_paid, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18
	)`

func bookingArgs(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID, b.CorrelationID, b.GuestID, b.RoomID, b.RoomTitle, b.Semester, b.Year,
		b.Services, b.Price, b.Status, b.PaymentMethod, b.PaymentReference, b.CancellationKeyHash,
		b.DepositPaid, b.PaidMonths, b.SummerPaid, b.CreatedAt, b.UpdatedAt,
	}
}

func prepareBooking(b *models.Booking) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.PaidMonths == nil {
		b.PaidMonths = []string{}
	}
}

// Create inserts a booking
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	prepareBooking(booking)

	_, err := r.db.ExecContext(ctx, insertBookingQuery, bookingArgs(booking)...)
	if isUniqueViolation(err) {
		return ErrBookingExists
	}
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// CreateForCorrelation inserts the booking and binds it to its payment
// correlation record in one transaction
func (r *BookingRepository) CreateForCorrelation(ctx context.Context, booking *models.Booking) error {
	prepareBooking(booking)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertBookingQuery, bookingArgs(booking)...); err != nil {
		if isUniqueViolation(err) {
			return ErrBookingExists
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payment_correlations SET booking_id = $2 WHERE correlation_id = $1`,
		booking.CorrelationID, booking.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to bind correlation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByCorrelationID returns the booking, or nil when none exists
func (r *BookingRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE correlation_id = $1`, correlationID)
}

// GetByPaymentReference returns the booking paid by an external object, or nil
func (r *BookingRepository) GetByPaymentReference(ctx context.Context, reference string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_reference = $1`, reference)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// MarkDepositPaid records the security deposit and confirms the booking
func (r *BookingRepository) MarkDepositPaid(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE bookings
		SET deposit_paid = TRUE, status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> $3`

	_, err := r.db.ExecContext(ctx, query, id, models.BookingStatusConfirmed, models.BookingStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to mark deposit paid: %w", err)
	}
	return nil
}

// MarkSummerPaid records the one-shot summer payment and completes the booking
func (r *BookingRepository) MarkSummerPaid(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE bookings
		SET summer_paid = TRUE, status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> $3`

	_, err := r.db.ExecContext(ctx, query, id, models.BookingStatusCompleted, models.BookingStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to mark summer paid: %w", err)
	}
	return nil
}

// AppendPaidMonth adds month to the paid months unless it is already there.
// It reports whether a row changed, so redelivered invoices are no-ops.
func (r *BookingRepository) AppendPaidMonth(ctx context.Context, id uuid.UUID, month string) (bool, error) {
	query := `
		UPDATE bookings
		SET paid_months = array_append(COALESCE(paid_months, '{}'), $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(COALESCE(paid_months, '{}')))`

	result, err := r.db.ExecContext(ctx, query, id, month)
	if err != nil {
		return false, fmt.Errorf("failed to append paid month: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CancelByCorrelationID marks the booking cancelled
func (r *BookingRepository) CancelByCorrelationID(ctx context.Context, correlationID string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2, updated_at = NOW()
		WHERE correlation_id = $1 AND status <> $2`

	result, err := r.db.ExecContext(ctx, query, correlationID, models.BookingStatusCancelled)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
