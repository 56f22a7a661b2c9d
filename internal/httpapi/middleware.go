package httpapi

import (
	"net/http"
	"time"

	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const correlationIDKey = "correlation_id"

// CorrelationIDMiddleware propagates X-Correlation-Id, generating one
// when the caller doesn't supply it, and echoes it on the response.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationIDKey, id)
		c.Writer.Header().Set("X-Correlation-Id", id)
		c.Next()
	}
}

func correlationID(c *gin.Context) string {
	if id, ok := c.Get(correlationIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// LoggerMiddleware logs every request with its correlation id, latency
// and status.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		log.Info("http request",
			zap.String("correlationId", correlationID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", raw),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// ErrorMiddleware renders the last error attached to the context as the
// router's standard error envelope. Handlers call c.Error(err) and
// return rather than writing the response themselves.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := err.(*apperrors.AppError)
		if !ok {
			appErr = apperrors.New(apperrors.ExternalServiceErrorCode, "internal server error")
		}
		appErr = appErr.WithRequestID(correlationID(c))

		body, marshalErr := appErr.ToJSON()
		if marshalErr != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(appErr.StatusCode(), "application/json; charset=utf-8", body)
		c.Abort()
	}
}
