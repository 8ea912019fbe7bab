package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/services"
	"github.com/studentrooms/booking-backend/internal/utils"
)

const maxWebhookBody = 1 << 20

// WebhookRail authenticates a delivery and then applies it. Replay detection
// runs between the two steps, so only an authenticated delivery can be
// acknowledged as a duplicate.
type WebhookRail interface {
	Authenticate(ctx context.Context, body []byte, signature, eventID string) (*services.VerifiedEvent, error)
	Apply(ctx context.Context, ev *services.VerifiedEvent) (*services.WebhookResult, error)
}

// OperatorAlerter notifies the operator of a delivery that needs attention
type OperatorAlerter interface {
	OperatorAlert(ctx context.Context, subject string, err error, fields map[string]interface{})
}

// PaymentWebhookHandler receives payment network webhooks. Every delivery is
// audited; a failed delivery answers 500 so the network retries it.
type PaymentWebhookHandler struct {
	razorpay WebhookRail
	omise    WebhookRail
	audits   services.PaymentAuditStore
	alerter  OperatorAlerter
	logger   *logrus.Logger
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler. Either rail may be nil.
func NewPaymentWebhookHandler(razorpay, omise WebhookRail, audits services.PaymentAuditStore, alerter OperatorAlerter, logger *logrus.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		razorpay: razorpay,
		omise:    omise,
		audits:   audits,
		alerter:  alerter,
		logger:   logger,
	}
}

// Razorpay handles POST /api/v1/webhooks/razorpay
func (h *PaymentWebhookHandler) Razorpay(c *gin.Context) {
	if h.razorpay == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "card rail is not configured"})
		return
	}
	h.handle(c, models.RailRazorpay, h.razorpay, c.GetHeader("X-Razorpay-Event-Id"), c.GetHeader("X-Razorpay-Signature"))
}

// Omise handles POST /api/v1/webhooks/omise
func (h *PaymentWebhookHandler) Omise(c *gin.Context) {
	if h.omise == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alternate rail is not configured"})
		return
	}
	h.handle(c, models.RailOmise, h.omise, "", "")
}

func (h *PaymentWebhookHandler) handle(c *gin.Context, rail models.PaymentRail, adapter WebhookRail, eventID, signature string) {
	start := time.Now()
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if eventID == "" {
		eventID = peekEventID(body)
	}

	userAgent := utils.GetUserAgent(c)
	audit := models.NewPaymentAudit(rail, "").
		SetEventID(eventID).
		SetRawBody(string(body)).
		SetMetadata(utils.GetRealIP(c), userAgent, utils.ParseUserAgent(userAgent).Map())

	log := h.logger.WithFields(logrus.Fields{"rail": rail, "event_id": eventID})

	var result *services.WebhookResult
	verified, err := adapter.Authenticate(ctx, body, signature, eventID)
	if err == nil {
		if verified.ID != "" && verified.ID != eventID {
			eventID = verified.ID
			audit.SetEventID(eventID)
			log = log.WithField("event_id", eventID)
		}

		if done, checkErr := h.audits.WasProcessed(ctx, rail, eventID); checkErr != nil {
			log.WithError(checkErr).Warn("Failed to check webhook replay")
		} else if done {
			log.Info("Duplicate webhook delivery acknowledged")
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}

		result, err = adapter.Apply(ctx, verified)
	}
	if result != nil {
		audit.EventType = result.EventType
		audit.SetCorrelationID(result.CorrelationID).SetOutcome(result.Outcome)
		if result.EventID != "" && audit.EventID == nil {
			audit.SetEventID(result.EventID)
		}
	}

	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		audit.SetOutcome(models.AuditOutcomeRejected).SetError(err)
		h.record(ctx, audit, start)
		log.Warn("Webhook signature rejected")
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})

	case errors.Is(err, services.ErrDepositPending):
		audit.SetOutcome(models.AuditOutcomeDeferred).SetError(err)
		h.record(ctx, audit, start)
		log.Info("Installment deferred until the deposit is recorded")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case err != nil:
		var validationErr *services.ValidationError
		audit.SetOutcome(models.AuditOutcomeFailed).SetError(err)
		h.record(ctx, audit, start)
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
			return
		}
		log.WithError(err).Error("Webhook processing failed")
		if h.alerter != nil {
			h.alerter.OperatorAlert(ctx, "Payment webhook failed", err, map[string]interface{}{
				"rail":           string(rail),
				"event_id":       eventID,
				"event_type":     audit.EventType,
				"correlation_id": stringOrEmpty(audit.CorrelationID),
			})
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})

	default:
		h.record(ctx, audit, start)
		c.JSON(http.StatusOK, gin.H{"status": string(audit.Outcome)})
	}
}

func (h *PaymentWebhookHandler) record(ctx context.Context, audit *models.PaymentAudit, start time.Time) {
	audit.SetProcessingTime(start)
	if err := h.audits.Log(ctx, audit); err != nil {
		h.logger.WithError(err).Warn("Failed to write payment audit")
	}
}

// peekEventID reads the top-level id of a delivery without trusting it
func peekEventID(body []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return ""
	}
	return head.ID
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
