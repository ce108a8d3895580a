package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"minoj/pkg/utils/contextkey"
)

const traceIDHeader = "X-Trace-Id"

// TraceContext ensures every request carries a trace id, in the request
// context and in the response header. An incoming X-Trace-Id is reused so
// callers can correlate across retries.
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Next()
	}
}
