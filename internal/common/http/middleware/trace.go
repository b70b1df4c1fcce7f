package middleware

import (
	"context"
	"strings"

	"develevate/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	sessionIDHeader = "X-Session-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	sessionIDContextKey = "session_id"
)

// TraceContextConfig controls how trace/request/session id are extracted and written.
type TraceContextConfig struct {
	AllowSessionIDHeader bool
	WriteSessionIDHeader bool
}

// TraceContextMiddleware ensures trace/request/session id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowSessionIDHeader: true,
		WriteSessionIDHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
// A :session_id path parameter takes precedence over the X-Session-Id header.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		sessionID := strings.TrimSpace(c.Param("session_id"))
		if sessionID == "" && cfg.AllowSessionIDHeader {
			sessionID = strings.TrimSpace(c.GetHeader(sessionIDHeader))
		}
		if sessionID != "" {
			c.Set(sessionIDContextKey, sessionID)
			ctx = context.WithValue(ctx, contextkey.SessionID, sessionID)
			if cfg.WriteSessionIDHeader {
				c.Writer.Header().Set(sessionIDHeader, sessionID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
