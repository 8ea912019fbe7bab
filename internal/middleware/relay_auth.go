package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/services"
	"github.com/studentrooms/booking-backend/internal/utils"
	"github.com/studentrooms/booking-backend/pkg/jwt"
)

const (
	// ProjectIDKey is the key used to store the authenticated project in Gin context
	ProjectIDKey = "relay_project_id"

	// SourceProjectHeader names the calling content project
	SourceProjectHeader = "x-source-project-id"
)

// AuthFailureRecorder persists rejected relay requests
type AuthFailureRecorder interface {
	LogAuthFailure(projectID, path, reason string, meta services.RequestMeta) error
}

// RelayAuth validates the relay bearer token and the source project header.
// Every failure is answered with 403 and recorded when recorder is non-nil.
func RelayAuth(jwtService *jwt.Service, sourceProjectID string, recorder AuthFailureRecorder, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.GetHeader(SourceProjectHeader)

		reject := func(code, message string) {
			logger.WithFields(logrus.Fields{
				"path":       c.Request.URL.Path,
				"ip":         utils.GetRealIP(c),
				"project_id": projectID,
				"code":       code,
			}).Warn("Relay auth failed")

			if recorder != nil {
				meta := services.RequestMeta{IPAddress: utils.GetRealIP(c), UserAgent: utils.GetUserAgent(c)}
				if err := recorder.LogAuthFailure(projectID, c.Request.URL.Path, code, meta); err != nil {
					logger.WithError(err).Warn("Failed to audit relay auth failure")
				}
			}

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": message,
				"code":    code,
			})
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			reject("MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			reject("INVALID_AUTH_FORMAT", "Invalid authorization header format. Expected: Bearer <token>")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			reject("INVALID_AUTH_FORMAT", "Token cannot be empty")
			return
		}

		claims, err := jwtService.ValidateRelayToken(tokenString)
		if err != nil {
			if jwtService.IsTokenExpired(tokenString) {
				reject("TOKEN_EXPIRED", "Relay token has expired")
				return
			}
			reject("INVALID_TOKEN", "Invalid relay token")
			return
		}

		if projectID == "" || projectID != sourceProjectID || claims.ProjectID != sourceProjectID {
			reject("PROJECT_MISMATCH", "Source project is not allowed")
			return
		}

		c.Set(ProjectIDKey, claims.ProjectID)
		c.Next()
	}
}

// GetProjectID retrieves the authenticated project id from Gin context
func GetProjectID(c *gin.Context) string {
	return c.GetString(ProjectIDKey)
}
