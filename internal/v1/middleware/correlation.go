// Package middleware carries the cross-cutting gin middleware.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
)

// HeaderCorrelationID is the inbound/outbound correlation header.
const HeaderCorrelationID = "X-Correlation-ID"

// Correlation threads a correlation id through the request context and
// echoes it in the response, minting one when the caller did not send any.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), id))
		c.Header(HeaderCorrelationID, id)
		c.Next()
	}
}
