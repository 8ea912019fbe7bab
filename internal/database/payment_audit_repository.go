package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
)

// PaymentAuditRepository handles webhook delivery audit rows
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, rail, event_type, event_id, correlation_id, outcome,
			raw_body, ip_address, user_agent, device_info,
			error_message, processing_time_ms, created_at, processed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.Rail, audit.EventType, audit.EventID, audit.CorrelationID, audit.Outcome,
		audit.RawBody, audit.IPAddress, audit.UserAgent, audit.DeviceInfo,
		audit.ErrorMessage, audit.ProcessingTimeMs, audit.CreatedAt, audit.ProcessedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"rail":       audit.Rail,
			"event_type": audit.EventType,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"rail":       audit.Rail,
		"event_type": audit.EventType,
		"outcome":    audit.Outcome,
	}).Debug("Payment audit logged")

	return nil
}

// WasProcessed reports whether an event id was already processed successfully
func (r *PaymentAuditRepository) WasProcessed(ctx context.Context, rail models.PaymentRail, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	var count int
	query := `
		SELECT COUNT(*) FROM payment_audits
		WHERE rail = $1 AND event_id = $2 AND outcome = $3`

	err := r.db.GetContext(ctx, &count, query, rail, eventID, models.AuditOutcomeProcessed)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}

	return count > 0, nil
}
