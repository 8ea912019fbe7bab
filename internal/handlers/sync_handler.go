package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/middleware"
	"github.com/studentrooms/booking-backend/internal/services"
	"github.com/studentrooms/booking-backend/internal/utils"
)

const (
	operationHeader       = "x-source-operation"
	documentIDHeader      = "x-source-document-id"
	cancellationKeyHeader = "x-cancellation-key"
	maxRelayBody          = 4 << 20
)

// ChangeRelay applies content store changes to the mirror
type ChangeRelay interface {
	Apply(ctx context.Context, change services.RelayChange) (*services.RelayResult, error)
}

// Canceller releases a booking's periods
type Canceller interface {
	Cancel(ctx context.Context, req services.CancellationRequest) (*services.CancellationResult, error)
}

// RelayAuditor records relay activity
type RelayAuditor interface {
	LogRelayChange(projectID string, result *services.RelayResult, meta services.RequestMeta) error
	LogCancellation(projectID, documentID string, result *services.CancellationResult, cause error, meta services.RequestMeta) error
}

// SyncHandler serves the relay endpoints called by the content store
type SyncHandler struct {
	relay   ChangeRelay
	cancels Canceller
	audit   RelayAuditor
	logger  *logrus.Logger
}

// NewSyncHandler creates a new SyncHandler. audit may be nil.
func NewSyncHandler(relay ChangeRelay, cancels Canceller, audit RelayAuditor, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{relay: relay, cancels: cancels, audit: audit, logger: logger}
}

// Documents handles POST /api/v1/sync/documents
func (h *SyncHandler) Documents(c *gin.Context) {
	projectID := middleware.GetProjectID(c)
	operation := c.GetHeader(operationHeader)
	documentID := c.GetHeader(documentIDHeader)

	var missing []string
	if projectID == "" {
		missing = append(missing, middleware.SourceProjectHeader)
	}
	if operation == "" {
		missing = append(missing, operationHeader)
	}
	if documentID == "" {
		missing = append(missing, documentIDHeader)
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields", "required": missing})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRelayBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	result, err := h.relay.Apply(c.Request.Context(), services.RelayChange{
		ProjectID:  projectID,
		Operation:  services.RelayOperation(operation),
		DocumentID: documentID,
		Body:       body,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if h.audit != nil {
		if err := h.audit.LogRelayChange(projectID, result, h.meta(c)); err != nil {
			h.logger.WithError(err).Warn("Failed to audit relay change")
		}
	}

	c.JSON(http.StatusOK, result)
}

// Cancellations handles POST /api/v1/sync/cancellations
func (h *SyncHandler) Cancellations(c *gin.Context) {
	projectID := middleware.GetProjectID(c)
	documentID := c.GetHeader(documentIDHeader)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRelayBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	result, err := h.cancels.Cancel(c.Request.Context(), services.CancellationRequest{
		DocumentID:      documentID,
		Body:            body,
		CancellationKey: c.GetHeader(cancellationKeyHeader),
	})

	if h.audit != nil {
		if auditErr := h.audit.LogCancellation(projectID, documentID, result, err, h.meta(c)); auditErr != nil {
			h.logger.WithError(auditErr).Warn("Failed to audit cancellation")
		}
	}

	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SyncHandler) meta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{IPAddress: utils.GetRealIP(c), UserAgent: utils.GetUserAgent(c)}
}
