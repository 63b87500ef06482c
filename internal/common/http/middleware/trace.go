package middleware

import (
	"context"
	"strings"

	"arenaoj/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"
)

// TraceContextMiddleware ensures trace/request id are in context and response headers.
// The submitter identity arrives in X-User-Id from the upstream gateway.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		traceID := headerOrNew(c, traceIDHeader)
		c.Set(string(contextkey.TraceID), traceID)
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := headerOrNew(c, requestIDHeader)
		c.Set(string(contextkey.RequestID), requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		if userID := strings.TrimSpace(c.GetHeader(userIDHeader)); userID != "" {
			c.Set(string(contextkey.UserID), userID)
			ctx = context.WithValue(ctx, contextkey.UserID, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the caller identity set by TraceContextMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(string(contextkey.UserID))
}

func headerOrNew(c *gin.Context, header string) string {
	if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
		return v
	}
	return uuid.NewString()
}
