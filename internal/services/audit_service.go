package services

import (
	"fmt"
	"time"

	"github.com/studentrooms/booking-backend/internal/database"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/utils"
)

// AuditService handles audit logging for relay and security events
type AuditService struct {
	db database.DB
}

// NewAuditService creates a new audit service
func NewAuditService(db database.DB) *AuditService {
	return &AuditService{
		db: db,
	}
}

// RequestMeta identifies the caller of an audited request
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuditEvent represents a security event to be logged
type AuditEvent struct {
	Actor      string       // Source project id, empty before authentication
	Action     string       // Action type (e.g., "relay_change", "cancellation", "auth_failed")
	EntityType string       // Type of entity affected (e.g., "room", "booking", "relay")
	EntityID   string       // Document or correlation id (can be empty)
	Meta       RequestMeta  // Client IP and user agent
	Details    models.JSONB // Additional details as JSONB
}

// LogRelayChange logs a document change applied to the mirror
func (s *AuditService) LogRelayChange(projectID string, result *RelayResult, meta RequestMeta) error {
	return s.logEvent(AuditEvent{
		Actor:      projectID,
		Action:     "relay_" + string(result.Operation),
		EntityType: result.Collection,
		EntityID:   result.DocumentID,
		Meta:       meta,
		Details: s.withDevice(meta, models.JSONB{
			"success": result.Success,
		}),
	})
}

// LogCancellation logs a cancellation attempt and its outcome
func (s *AuditService) LogCancellation(projectID, documentID string, result *CancellationResult, cause error, meta RequestMeta) error {
	details := models.JSONB{"document_id": documentID, "success": cause == nil}
	entityID := documentID
	if result != nil {
		details["periods_removed"] = result.PeriodsRemoved
		details["booking_cancelled"] = result.BookingCanceled
		if result.CorrelationID != "" {
			entityID = result.CorrelationID
		}
	}
	if cause != nil {
		details["failure_reason"] = cause.Error()
	}

	action := "cancellation"
	if cause != nil {
		action = "cancellation_failed"
	}

	return s.logEvent(AuditEvent{
		Actor:      projectID,
		Action:     action,
		EntityType: "booking",
		EntityID:   entityID,
		Meta:       meta,
		Details:    s.withDevice(meta, details),
	})
}

// LogAuthFailure logs a rejected relay request
func (s *AuditService) LogAuthFailure(projectID, path, reason string, meta RequestMeta) error {
	return s.logEvent(AuditEvent{
		Actor:      projectID,
		Action:     "auth_failed",
		EntityType: "relay",
		Meta:       meta,
		Details: s.withDevice(meta, models.JSONB{
			"path":   path,
			"reason": reason,
		}),
	})
}

func (s *AuditService) withDevice(meta RequestMeta, details models.JSONB) models.JSONB {
	if meta.UserAgent != "" {
		details["device_info"] = utils.ParseUserAgent(meta.UserAgent).Map()
	}
	return details
}

// logEvent is the internal method that writes to the audit_logs table
func (s *AuditService) logEvent(event AuditEvent) error {
	query := `
		INSERT INTO audit_logs (actor, action, entity_type, entity_id, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	_, err := s.db.Exec(
		query,
		optional(event.Actor),
		event.Action,
		event.EntityType,
		optional(event.EntityID),
		optional(event.Meta.IPAddress),
		optional(event.Meta.UserAgent),
		event.Details,
	)

	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}

	return nil
}

// CleanupOldAuditLogs removes audit logs older than the specified duration
func (s *AuditService) CleanupOldAuditLogs(olderThan time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-olderThan)

	query := `
		DELETE FROM audit_logs
		WHERE created_at < $1
	`

	result, err := s.db.Exec(query, cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old audit logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
