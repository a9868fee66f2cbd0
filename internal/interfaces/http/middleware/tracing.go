// Package middleware provides the gin middleware of the sync API.
package middleware

import (
	"net/http"

	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength bounds request IDs copied onto spans
const MaxRequestIDLength = 128

// ActorHeader names who made a change
const ActorHeader = "X-Actor"

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns default tracing configuration
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "catalog-sync",
		Enabled:     true,
	}
}

// Tracing starts a server span per request with otelgin. Span names follow
// "HTTP METHOD route_pattern".
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return otelgin.Middleware(cfg.ServiceName)
}

// SpanAttributes copies request_id and actor onto the active span. It must
// run after both Tracing and logger.RequestID.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := requestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if actor := c.GetHeader(ActorHeader); actor != "" {
				span.SetAttributes(attribute.String("actor", truncate(actor)))
			}
		}
		c.Next()
	}
}

// SpanErrorMarker marks the active span as failed for 5xx responses and
// records the status of every 4xx
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			msg := http.StatusText(status)
			if len(c.Errors) > 0 {
				msg = c.Errors.Last().Error()
			}
			span.SetStatus(codes.Error, msg)
		}
	}
}

func requestID(c *gin.Context) string {
	if id := logger.GetGinRequestID(c); id != "" {
		return id
	}
	return truncate(c.GetHeader(logger.RequestIDHeader))
}

func truncate(s string) string {
	if len(s) > MaxRequestIDLength {
		return s[:MaxRequestIDLength]
	}
	return s
}
