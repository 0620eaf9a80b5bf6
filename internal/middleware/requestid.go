package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/platform/ctxutil"
)

const requestIDHeader = "X-Request-ID"

// RequestID honors an inbound X-Request-ID (the gateway can stamp its
// delivery attempts) and mints one otherwise.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestID(c.Request.Context(), id))
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}
