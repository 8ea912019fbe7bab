package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/utils"
)

const draftPrefix = "drafts."

// CancellationRequest is a booking document relayed for cancellation
type CancellationRequest struct {
	DocumentID      string
	Body            json.RawMessage
	CancellationKey string
}

// CancellationResult reports what a cancellation changed
type CancellationResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	CorrelationID   string `json:"correlationId,omitempty"`
	RoomID          string `json:"roomId,omitempty"`
	PeriodsRemoved  int    `json:"periodsRemoved"`
	BookingCanceled bool   `json:"bookingCancelled"`
}

type cancellationDoc struct {
	ID            string `json:"_id"`
	CorrelationID string `json:"correlationId"`
	RoomID        string `json:"roomId"`
}

// CancellationService releases a booking's periods from both stores
type CancellationService struct {
	bookings     BookingStore
	availability *AvailabilityService
	requireKey   bool
	logger       *logrus.Logger
}

// NewCancellationService creates a new CancellationService
func NewCancellationService(bookings BookingStore, availability *AvailabilityService, requireKey bool, logger *logrus.Logger) *CancellationService {
	return &CancellationService{
		bookings:     bookings,
		availability: availability,
		requireKey:   requireKey,
		logger:       logger,
	}
}

// Cancel strips every claim owned by the booking's correlation id and marks the
// booking cancelled. Draft documents are acknowledged without changes.
func (s *CancellationService) Cancel(ctx context.Context, req CancellationRequest) (*CancellationResult, error) {
	var doc cancellationDoc
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &doc); err != nil {
			return nil, NewValidationError("cancellation body is not valid JSON")
		}
	}
	if doc.ID == "" {
		doc.ID = req.DocumentID
	}

	if strings.HasPrefix(doc.ID, draftPrefix) {
		return &CancellationResult{Success: true, Message: "draft document ignored"}, nil
	}
	if doc.CorrelationID == "" {
		return nil, NewValidationError("correlationId is required")
	}

	booking, err := s.bookings.GetByCorrelationID(ctx, doc.CorrelationID)
	if err != nil {
		return nil, err
	}

	if s.requireKey {
		if booking == nil || !utils.CheckCancellationKey(booking.CancellationKeyHash, req.CancellationKey) {
			return nil, ErrUnauthorized
		}
	}

	roomID := doc.RoomID
	if roomID == "" && booking != nil {
		roomID = booking.RoomID
	}
	if roomID == "" {
		return nil, NewValidationError("roomId is required")
	}

	log := s.logger.WithFields(logrus.Fields{
		"correlation_id": doc.CorrelationID,
		"room_id":        roomID,
	})

	removed, err := s.availability.RemoveByOwner(ctx, roomID, doc.CorrelationID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.bookings.CancelByCorrelationID(ctx, doc.CorrelationID)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"periods_removed": removed, "booking_cancelled": cancelled}).Info("Booking cancelled")

	return &CancellationResult{
		Success:         true,
		Message:         "booking periods released",
		CorrelationID:   doc.CorrelationID,
		RoomID:          roomID,
		PeriodsRemoved:  removed,
		BookingCanceled: cancelled,
	}, nil
}
