package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/studentrooms/booking-backend/internal/models"
)

// PaymentCorrelationRepository handles payment correlation records
type PaymentCorrelationRepository struct {
	db *sqlx.DB
}

// NewPaymentCorrelationRepository creates a new PaymentCorrelationRepository
func NewPaymentCorrelationRepository(db *sqlx.DB) *PaymentCorrelationRepository {
	return &PaymentCorrelationRepository{db: db}
}

const correlationColumns = `id, rail, correlation_id, external_id, kind, room_id, guest_ids,
	guest_email, guest_name, semester, year, price, services, booking_id, created_at, expires_at`

// Create inserts a correlation record
func (r *PaymentCorrelationRepository) Create(ctx context.Context, rec *models.PaymentCorrelation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_correlations (` + correlationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Rail, rec.CorrelationID, rec.ExternalID, rec.Kind, rec.RoomID, rec.GuestIDs,
		rec.GuestEmail, rec.GuestName, rec.Semester, rec.Year, rec.Price, rec.Services, rec.BookingID,
		rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment correlation: %w", err)
	}
	return nil
}

// GetByCorrelationID returns the record, or nil when absent or cleaned up
func (r *PaymentCorrelationRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.PaymentCorrelation, error) {
	return r.getOne(ctx, `SELECT `+correlationColumns+` FROM payment_correlations WHERE correlation_id = $1`, correlationID)
}

// GetByExternalID returns the record for a rail object, or nil
func (r *PaymentCorrelationRepository) GetByExternalID(ctx context.Context, rail models.PaymentRail, externalID string) (*models.PaymentCorrelation, error) {
	var rec models.PaymentCorrelation
	query := `SELECT ` + correlationColumns + ` FROM payment_correlations WHERE rail = $1 AND external_id = $2`

	err := r.db.GetContext(ctx, &rec, query, rail, externalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment correlation: %w", err)
	}
	return &rec, nil
}

func (r *PaymentCorrelationRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.PaymentCorrelation, error) {
	var rec models.PaymentCorrelation
	err := r.db.GetContext(ctx, &rec, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment correlation: %w", err)
	}
	return &rec, nil
}

// Delete removes the record once the booking is materialized
func (r *PaymentCorrelationRepository) Delete(ctx context.Context, correlationID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM payment_correlations WHERE correlation_id = $1`, correlationID); err != nil {
		return fmt.Errorf("failed to delete payment correlation: %w", err)
	}
	return nil
}

// DeleteExpired removes records past their TTL
func (r *PaymentCorrelationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM payment_correlations WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired correlations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
