package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/services"
)

// BookingOrchestrator is the booking flow behind the public endpoints
type BookingOrchestrator interface {
	CheckEligibility(ctx context.Context, req *models.EligibilityRequest) (*models.EligibilityResponse, error)
	Commit(ctx context.Context, req *models.CommitBookingRequest) (*models.CommitBookingResponse, error)
	StartPayment(ctx context.Context, req *models.PaymentSessionRequest) (*models.PaymentSessionResponse, error)
}

// BookingHandler handles eligibility, commit and payment session endpoints
type BookingHandler struct {
	orchestrator BookingOrchestrator
	logger       *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(orchestrator BookingOrchestrator, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{orchestrator: orchestrator, logger: logger}
}

// ============================================================================
// ELIGIBILITY - POST /api/v1/bookings/eligibility
// ============================================================================

// CheckEligibility checks the requested periods and holds them for a few minutes
// @Summary Check booking eligibility
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.EligibilityRequest true "Requested periods"
// @Success 200 {object} models.EligibilityResponse
// @Failure 400 {object} models.EligibilityResponse "Invalid or conflicting periods"
// @Failure 404 {object} map[string]interface{} "Room not found"
// @Router /bookings/eligibility [post]
func (h *BookingHandler) CheckEligibility(c *gin.Context) {
	var req models.EligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.EligibilityResponse{Eligible: false, Errors: []string{err.Error()}})
		return
	}

	resp, err := h.orchestrator.CheckEligibility(c.Request.Context(), &req)
	if err != nil {
		var validationErr *services.ValidationError
		var conflictErr *services.ConflictError
		switch {
		case errors.As(err, &conflictErr):
			c.JSON(http.StatusBadRequest, models.EligibilityResponse{Eligible: false, Errors: conflictErr.Messages()})
		case errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, models.EligibilityResponse{Eligible: false, Errors: validationErr.Fields})
		default:
			respondError(c, h.logger, err)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ============================================================================
// COMMIT - POST /api/v1/bookings
// ============================================================================

// Commit creates pending bookings for deferred payment
// @Summary Commit bookings
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CommitBookingRequest true "Booking commit"
// @Success 201 {object} models.CommitBookingResponse
// @Failure 400 {object} map[string]interface{} "Validation error or period conflict"
// @Router /bookings [post]
func (h *BookingHandler) Commit(c *gin.Context) {
	var req models.CommitBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.orchestrator.Commit(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ============================================================================
// PAYMENT SESSION - POST /api/v1/payments/sessions
// ============================================================================

// StartPayment opens a checkout on the card or alternate rail
// @Summary Start payment session
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.PaymentSessionRequest true "Booking and payment details"
// @Success 201 {object} models.PaymentSessionResponse
// @Failure 400 {object} map[string]interface{} "Validation error or period conflict"
// @Failure 500 {object} map[string]interface{} "Payment provider unavailable"
// @Router /payments/sessions [post]
func (h *BookingHandler) StartPayment(c *gin.Context) {
	var req models.PaymentSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.orchestrator.StartPayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
